// ABOUTME: Gateway close codes partitioned into resumable, reconnectable, and fatal.
// ABOUTME: The partition decides whether a session resumes, re-identifies, or gives up.

package gateway

// Close codes the remote service uses when tearing down a connection.
const (
	CloseUnknownError         = 4000
	CloseUnknownOpcode        = 4001
	CloseDecodeError          = 4002
	CloseNotAuthenticated     = 4003
	CloseAuthenticationFailed = 4004
	CloseAlreadyAuthenticated = 4005
	CloseInvalidSequence      = 4007
	CloseRateLimited          = 4008
	CloseSessionTimedOut      = 4009
	CloseInvalidShard         = 4010
	CloseShardingRequired     = 4011
	CloseInvalidAPIVersion    = 4012
	CloseInvalidIntents       = 4013
	CloseDisallowedIntents    = 4014
)

// shouldResume reports whether a session closed with this code may re-attach
// using its saved session id and sequence. Codes that invalidate the session
// (or the credential) force a fresh Identify instead.
func shouldResume(code int) bool {
	switch code {
	case CloseInvalidSequence, CloseSessionTimedOut:
		return false
	}
	return !isFatalClose(code)
}

// isFatalClose reports whether reconnecting is pointless: the server rejected
// the credential, shard tuple, or intents, and will do so again.
func isFatalClose(code int) bool {
	switch code {
	case CloseAuthenticationFailed,
		CloseInvalidShard,
		CloseShardingRequired,
		CloseInvalidAPIVersion,
		CloseInvalidIntents,
		CloseDisallowedIntents:
		return true
	}
	return false
}
