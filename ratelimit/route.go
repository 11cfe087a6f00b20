// ABOUTME: Route identity for bucket resolution before the server-assigned hash is known.
// ABOUTME: Major path parameters partition buckets even within one route template.

package ratelimit

import "strings"

// majorParams are the path parameters that partition rate limits on the
// remote service. Two requests to the same route template with different
// major parameter values land in different buckets.
var majorParams = map[string]bool{
	"channel.id":    true,
	"guild.id":      true,
	"webhook.id":    true,
	"webhook.token": true,
}

// Route identifies one REST call for bucket resolution: the method, the route
// template (with {param} placeholders intact), and the values of any major
// parameters.
type Route struct {
	Method   string
	Template string
	Major    string
}

// NewRoute builds a Route from a method, template, and path parameter values.
// Only major parameters contribute to bucket identity; minor ones are
// interchangeable within a bucket.
func NewRoute(method, template string, params map[string]string) Route {
	var major []string
	for name, value := range params {
		if majorParams[name] {
			major = append(major, name+"="+value)
		}
	}
	// Two majors never appear on one template in practice, but keep the key
	// deterministic if that changes.
	if len(major) > 1 {
		sortStrings(major)
	}

	return Route{
		Method:   method,
		Template: template,
		Major:    strings.Join(major, ";"),
	}
}

// provisionalKey identifies the route before its server bucket hash is known.
func (r Route) provisionalKey() string {
	return r.Method + " " + r.Template + " " + r.Major
}

// resolvedKey identifies the bucket once the server has assigned a hash.
// The major parameter values stay in the key: the hash names the limit
// schedule, not the specific resource.
func (r Route) resolvedKey(hash string) string {
	return hash + " " + r.Major
}

// sortStrings is an insertion sort; the slice never holds more than a couple
// of entries.
func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}
