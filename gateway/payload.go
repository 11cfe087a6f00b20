// ABOUTME: Gateway wire contract — opcodes, payload envelope, and handshake bodies.
// ABOUTME: Decoding is a closed tagged-variant step; unknown opcodes are tolerated upstream.

package gateway

import (
	"encoding/json"
	"fmt"
)

// Opcode identifies the kind of a gateway frame.
type Opcode int

// The closed set of gateway opcodes the runtime understands. The remote
// service may add more; those are logged and ignored, not treated as
// protocol violations.
const (
	OpDispatch       Opcode = 0
	OpHeartbeat      Opcode = 1
	OpIdentify       Opcode = 2
	OpResume         Opcode = 6
	OpReconnect      Opcode = 7
	OpInvalidSession Opcode = 9
	OpHello          Opcode = 10
	OpHeartbeatAck   Opcode = 11
)

// String returns the opcode's wire name for logging.
func (op Opcode) String() string {
	switch op {
	case OpDispatch:
		return "dispatch"
	case OpHeartbeat:
		return "heartbeat"
	case OpIdentify:
		return "identify"
	case OpResume:
		return "resume"
	case OpReconnect:
		return "reconnect"
	case OpInvalidSession:
		return "invalid_session"
	case OpHello:
		return "hello"
	case OpHeartbeatAck:
		return "heartbeat_ack"
	default:
		return fmt.Sprintf("unknown(%d)", int(op))
	}
}

// Payload is the envelope around every gateway frame. S and T are only set on
// Dispatch frames.
type Payload struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  string          `json:"t,omitempty"`
}

// decodePayload parses one raw frame into a Payload envelope.
func decodePayload(frame []byte) (*Payload, error) {
	var p Payload
	if err := json.Unmarshal(frame, &p); err != nil {
		return nil, fmt.Errorf("decoding gateway frame: %w", err)
	}
	return &p, nil
}

// encodePayload builds one outbound frame with the given opcode and body.
func encodePayload(op Opcode, d any) ([]byte, error) {
	body, err := json.Marshal(d)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", op, err)
	}
	frame, err := json.Marshal(Payload{Op: op, D: body})
	if err != nil {
		return nil, fmt.Errorf("encoding %s frame: %w", op, err)
	}
	return frame, nil
}

// helloData is the body of a Hello frame.
type helloData struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"` // milliseconds
}

// identifyData is the body of an Identify frame.
type identifyData struct {
	Token      string             `json:"token"`
	Intents    int64              `json:"intents"`
	Shard      [2]int             `json:"shard"`
	Properties identifyProperties `json:"properties"`
}

type identifyProperties struct {
	OS      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// resumeData is the body of a Resume frame.
type resumeData struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Sequence  int64  `json:"seq"`
}

// readyData is the body of the Ready dispatch establishing a fresh session.
type readyData struct {
	SessionID        string `json:"session_id"`
	ResumeGatewayURL string `json:"resume_gateway_url"`
}

// Dispatch event names with handshake significance.
const (
	eventReady   = "READY"
	eventResumed = "RESUMED"
)
