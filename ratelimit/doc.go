// Package ratelimit implements the server-driven rate-limit discipline for
// the REST surface and gateway identify pacing.
//
// # Buckets
//
// The remote service groups endpoints into rate-limit buckets identified by a
// server-assigned hash carried in response headers. A route's true bucket is
// only discoverable from its first response, so the Manager serializes
// same-route requests behind a provisional key and re-keys to the resolved
// hash once it arrives:
//
//	mgr := ratelimit.NewManager(ratelimit.Config{})
//	route := ratelimit.NewRoute("POST", "/channels/{channel.id}/messages",
//		map[string]string{"channel.id": id})
//	resp, err := mgr.Do(ctx, route, exec)
//
// # Admission
//
// A request passes two gates: its bucket, then the shared global budget.
// Within one route admission order matches enqueue order; across routes
// requests proceed independently. Only a 429 response is retried here, and
// only once per request; everything else is the caller's problem.
//
// # Identify pacing
//
// Gateway sessions call WaitIdentify before sending Identify, so handshakes
// across all shards share one connect-rate budget with REST traffic
// coordination.
package ratelimit
