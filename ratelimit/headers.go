// ABOUTME: Parses the rate-limit response header contract supplied by the remote peer.
// ABOUTME: Values are honored verbatim; nothing here estimates or recomputes budgets.

package ratelimit

import (
	"net/http"
	"strconv"
	"time"
)

// Header names of the rate-limit response contract.
const (
	headerLimit      = "X-RateLimit-Limit"
	headerRemaining  = "X-RateLimit-Remaining"
	headerResetAfter = "X-RateLimit-Reset-After"
	headerBucket     = "X-RateLimit-Bucket"
	headerGlobal     = "X-RateLimit-Global"
	headerRetryAfter = "Retry-After"
)

// headerInfo is the parsed rate-limit state carried by one response.
type headerInfo struct {
	limit      int
	remaining  int
	resetAfter time.Duration
	bucket     string
	global     bool
	retryAfter time.Duration

	// present is true when the response carried bucket headers at all.
	// Routes outside the rate-limited surface omit them.
	present bool
}

// parseHeaders extracts rate-limit state from response headers. The absolute
// reset-timestamp header is deliberately ignored in favor of the relative
// reset-after duration, since client and server clocks may disagree.
func parseHeaders(h http.Header) headerInfo {
	var info headerInfo

	if v := h.Get(headerLimit); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.limit = n
			info.present = true
		}
	}
	if v := h.Get(headerRemaining); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			info.remaining = n
			info.present = true
		}
	}
	if v := h.Get(headerResetAfter); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			info.resetAfter = time.Duration(secs * float64(time.Second))
			info.present = true
		}
	}

	info.bucket = h.Get(headerBucket)
	info.global = h.Get(headerGlobal) != ""

	if v := h.Get(headerRetryAfter); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil {
			info.retryAfter = time.Duration(secs * float64(time.Second))
		}
	}

	return info
}
