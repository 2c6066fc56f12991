package errkind

import "testing"

func TestClassifyCanonicalExamples(t *testing.T) {
	cases := []struct {
		raw  string
		want Kind
	}{
		{"fatal: Authentication failed", Auth},
		{"could not resolve host: github.com", DNSResolution},
		{"connection reset by peer", ConnectionReset},
	}
	for _, c := range cases {
		got := Classify(c.raw)
		if got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.raw, got, c.want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	retryableKinds := []Kind{Timeout, Network, ConnectionReset, DNSResolution, Unknown}
	for _, k := range retryableKinds {
		if !IsRetryable(k) {
			t.Errorf("IsRetryable(%q) = false, want true", k)
		}
	}
	nonRetryable := []Kind{Auth, NotFound, PermissionDenied, InvalidFormat}
	for _, k := range nonRetryable {
		if IsRetryable(k) {
			t.Errorf("IsRetryable(%q) = true, want false", k)
		}
	}
}

func TestClassifyEmpty(t *testing.T) {
	if got := Classify("   "); got != Unknown {
		t.Errorf("Classify(blank) = %q, want unknown", got)
	}
}

func TestClassifyPriorityOrder(t *testing.T) {
	// "permission denied" contains no auth substrings, must not fall to auth.
	if got := Classify("permission denied: repository access"); got != PermissionDenied {
		t.Errorf("Classify = %q, want permission_denied", got)
	}
}
