// Package rest is the caller-facing HTTP API surface.
//
// Every request flows through the rate-limit bucket manager keyed by its
// route template and major path parameters, so bursts queue instead of
// tripping server limits:
//
//	c, _ := rest.NewClient(rest.Config{Token: token, BaseURL: base})
//	var msg Message
//	err := c.DoJSON(ctx, "POST", "/channels/{channel.id}/messages",
//		map[string]string{"channel.id": id}, payload, &msg)
//
// Only 429 responses are retried, exactly once; every other status is
// returned to the caller as a result.
package rest
