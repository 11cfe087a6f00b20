// Package events provides fan-out of gateway dispatch payloads and shard
// lifecycle notifications to application subscribers.
package events
