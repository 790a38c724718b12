package quota

import (
	"regexp"
	"strings"
	"time"
)

// resetAfterPattern matches upstream messages like "quota will reset after
// 1h30m" or "reset after 45s".
var resetAfterPattern = regexp.MustCompile(`(?i)reset\s+after\s+((?:\d+h)?(?:\d+m)?(?:\d+(?:\.\d+)?s)?)`)

// ParseResetAfter extracts a reset hint from an upstream error message.
func ParseResetAfter(message string) (time.Duration, bool) {
	m := resetAfterPattern.FindStringSubmatch(message)
	if m == nil || m[1] == "" {
		return 0, false
	}
	return ParseQuotaResetDelay(m[1])
}

// ParseQuotaResetDelay parses Google's quotaResetDelay strings, which are
// Go-style durations like "3h22m41.205s".
func ParseQuotaResetDelay(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return 0, false
	}
	return d, true
}
