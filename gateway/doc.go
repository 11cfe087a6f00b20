// Package gateway implements the session state machine for one persistent
// gateway connection.
//
// # Lifecycle
//
// A session walks Disconnected → Connecting → AwaitingHello →
// Identifying/Resuming → Connected, reconnecting with backoff on any
// recoverable failure:
//
//	sess, _ := gateway.NewSession(gateway.Config{
//		Token:  token,
//		URL:    url,
//		Dialer: &transport.WebsocketDialer{},
//		Gate:   manager,
//	})
//	err := sess.Run(ctx) // blocks until ctx cancel or fatal failure
//
// While connected the session heartbeats at the server-provided interval,
// tracks the monotonic dispatch sequence, and forwards every dispatch payload
// to OnDispatch in receive order. A missed heartbeat ack, a protocol
// violation, or a resumable close code tears the connection down and
// reconnects — resuming the prior session when the close code allows it,
// identifying fresh otherwise. Fatal close codes (bad credential, bad shard
// tuple, bad intents) end Run with a *FatalError.
package gateway
