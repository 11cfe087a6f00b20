// Package transport defines the adapter boundary between the runtime and the
// network: framed duplex connections for the gateway and request execution
// for the REST surface. Production code uses the websocket and net/http
// implementations here; tests substitute fakes.
package transport
