package worker

import "testing"

func TestLookupKnownTools(t *testing.T) {
	for _, tool := range []string{"claude", "cursor", "qwcoder"} {
		spec, err := Lookup(tool)
		if err != nil {
			t.Fatalf("Lookup(%q) error: %v", tool, err)
		}
		if spec.Binary == "" {
			t.Errorf("Lookup(%q).Binary is empty", tool)
		}
		args := spec.BuildArgs(StartConfig{Model: "m1", ResumeID: "r1", InitialPrompt: "hello"})
		if len(args) == 0 {
			t.Errorf("Lookup(%q).BuildArgs returned no args", tool)
		}
	}
}

func TestLookupUnknownTool(t *testing.T) {
	if _, err := Lookup("not-a-tool"); err == nil {
		t.Fatal("expected error for unknown tool")
	}
}

func TestRingBufferKeepsTail(t *testing.T) {
	rb := newRingBuffer(4)
	rb.Write([]byte("abcdefgh"))
	if got := rb.String(); got != "efgh" {
		t.Errorf("ringBuffer.String() = %q, want %q", got, "efgh")
	}
}

func TestStatusDefaultsToIdle(t *testing.T) {
	w := New("w1", nil, nil, nil)
	if w.Status().State != StateIdle {
		t.Errorf("initial state = %q, want idle", w.Status().State)
	}
}
