package router

import "strings"

// ErrorKind is the coarse failure classification attached to probe results
// and attempt trail entries. The kinds are labels for reporting, not typed
// errors; the original message always travels alongside.
type ErrorKind string

const (
	KindAuthentication ErrorKind = "authentication"
	KindNotFound       ErrorKind = "not_found"
	KindRateLimited    ErrorKind = "rate_limited"
	KindConnection     ErrorKind = "connection"
	KindUnknown        ErrorKind = "unknown"
)

// classifyRules are evaluated top to bottom; the first matching rule wins.
// Order matters: a message carrying both "401" and "429" classifies as
// authentication because that rule is checked first.
var classifyRules = []struct {
	kind     ErrorKind
	patterns []string
}{
	{KindAuthentication, []string{"401", "unauthorized", "invalid api", "authentication", "api key", "not authorized"}},
	{KindNotFound, []string{"404", "not found"}},
	{KindRateLimited, []string{"429", "rate limit"}},
	{KindConnection, []string{"timeout", "deadline exceeded", "connection refused", "no such host"}},
}

// Classify maps a raw provider error message onto the error taxonomy via
// case-insensitive substring matching. Unmatched messages are KindUnknown.
// The prober and the fallback sequencer share this single procedure so
// status reports and generate failures describe the same error the same way.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	msg := strings.ToLower(err.Error())
	for _, rule := range classifyRules {
		for _, p := range rule.patterns {
			if strings.Contains(msg, p) {
				return rule.kind
			}
		}
	}
	return KindUnknown
}
