// Package errkind classifies raw error strings from repository probes and
// worker subprocesses into a closed taxonomy of error kinds.
package errkind

import "strings"

// Kind is one member of the closed error taxonomy.
type Kind string

const (
	Auth             Kind = "auth"
	PermissionDenied Kind = "permission_denied"
	NotFound         Kind = "not_found"
	Timeout          Kind = "timeout"
	Network          Kind = "network"
	ConnectionReset  Kind = "connection_reset"
	DNSResolution    Kind = "dns_resolution"
	InvalidFormat    Kind = "invalid_format"
	Host             Kind = "host"
	Unknown          Kind = "unknown"
)

var retryable = map[Kind]bool{
	Timeout:         true,
	Network:         true,
	ConnectionReset: true,
	DNSResolution:   true,
	Unknown:         true,
}

// IsRetryable reports whether the retry engine (C2) should treat failures of
// this kind as transient.
func IsRetryable(k Kind) bool {
	return retryable[k]
}

// rule is one entry in the priority-ordered classification table. Matches
// are substring-based against a lowercased, trimmed message.
type rule struct {
	kind     Kind
	patterns []string
}

// table is ordered by priority: the first matching rule wins, so more
// specific kinds (auth) are listed ahead of more general ones (network).
var table = []rule{
	{Auth, []string{"authentication failed", "auth failed", "invalid credentials", "unauthorized", "401"}},
	{PermissionDenied, []string{"permission denied", "forbidden", "403", "access denied"}},
	{DNSResolution, []string{"could not resolve host", "name or service not known", "no such host", "dns"}},
	{NotFound, []string{"not found", "404", "no such repository", "repository not found"}},
	{Timeout, []string{"timed out", "timeout", "deadline exceeded"}},
	{ConnectionReset, []string{"connection reset", "broken pipe", "econnreset"}},
	{Network, []string{"network", "connection refused", "unreachable", "no route to host"}},
	{InvalidFormat, []string{"invalid format", "malformed", "unsupported protocol", "invalid url"}},
	{Host, []string{"host key verification failed", "unknown host key"}},
}

// Classify maps a raw error string to an ErrorKind using a priority-ordered
// substring table. The first matching rule wins; no match yields Unknown.
func Classify(raw string) Kind {
	msg := strings.ToLower(strings.TrimSpace(raw))
	if msg == "" {
		return Unknown
	}
	for _, r := range table {
		for _, p := range r.patterns {
			if strings.Contains(msg, p) {
				return r.kind
			}
		}
	}
	return Unknown
}

// Message derives the fixed, user-visible message for a kind. Raw error
// strings are never surfaced to users; they are preserved separately for
// diagnostics (TestResult.Details.RawError).
func Message(k Kind) string {
	switch k {
	case Auth:
		return "authentication failed"
	case PermissionDenied:
		return "permission denied"
	case NotFound:
		return "repository not found"
	case Timeout:
		return "connection timed out"
	case Network:
		return "network error"
	case ConnectionReset:
		return "connection reset"
	case DNSResolution:
		return "cannot resolve host"
	case InvalidFormat:
		return "invalid repository format"
	case Host:
		return "host verification failed"
	default:
		return "unknown error"
	}
}
