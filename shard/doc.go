// Package shard supervises a fleet of gateway sessions.
//
// # Overview
//
// The Manager owns one gateway.Session per shard and runs them until the
// context is cancelled or a shard fails permanently. Sessions handle their
// own reconnects; the manager only sees permanent outcomes. A session that
// stops without a shutdown request is rebuilt and restarted, while a fatal
// error (rejected credential, bad shard tuple, disallowed intents) tears the
// whole fleet down.
//
// # Event Fan-Out
//
// Every shard publishes its dispatch payloads and consumer-visible lifecycle
// transitions to a shared events.Broadcaster:
//
//	m, _ := shard.NewManager(cfg)
//	ch, id := m.Broadcaster().Subscribe(ctx, "MESSAGE_CREATE")
//	go m.Run(ctx)
//
// # Identify Pacing
//
// All shards share one ratelimit.Manager, whose identify gate spaces session
// handshakes so a large fleet never bursts past the connect budget.
package shard
