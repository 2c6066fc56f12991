package clistream

import (
	"strings"
	"testing"
)

func TestParseLineKnownVariants(t *testing.T) {
	cases := []struct {
		line string
		want EventType
	}{
		{`{"type":"text","delta":"hello"}`, EventText},
		{`{"type":"toolUse","id":"t1","name":"bash","input":{}}`, EventToolUse},
		{`{"type":"toolResult","useId":"t1","content":"ok"}`, EventToolResult},
		{`{"type":"assistant","message":"hi","usage":{"inputTokens":5}}`, EventAssistant},
		{`{"type":"system","subtype":"init"}`, EventSystem},
		{`{"type":"result","text":"done","durationMs":10}`, EventResult},
		{`{"type":"error","message":"boom"}`, EventError},
		{`{"type":"something-else"}`, EventUnknown},
	}
	for _, c := range cases {
		ev := ParseLine(c.line)
		if ev.Type != c.want {
			t.Errorf("ParseLine(%q).Type = %q, want %q", c.line, ev.Type, c.want)
		}
	}
}

func TestParseLineInvalidJSONFallsBackToText(t *testing.T) {
	ev := ParseLine("not json at all")
	if ev.Type != EventText {
		t.Errorf("Type = %q, want text", ev.Type)
	}
	if ev.Delta != "not json at all" {
		t.Errorf("Delta = %q", ev.Delta)
	}
}

func TestParseStreamsInOrder(t *testing.T) {
	input := strings.Join([]string{
		`{"type":"system","subtype":"init"}`,
		`{"type":"text","delta":"a"}`,
		`garbage`,
		`{"type":"result","text":"done"}`,
	}, "\n")

	var events []Event
	if err := Parse(strings.NewReader(input), func(e Event) {
		events = append(events, e)
	}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(events) != 4 {
		t.Fatalf("got %d events, want 4", len(events))
	}
	want := []EventType{EventSystem, EventText, EventText, EventResult}
	for i, w := range want {
		if events[i].Type != w {
			t.Errorf("events[%d].Type = %q, want %q", i, events[i].Type, w)
		}
	}
	if events[2].Raw != "garbage" {
		t.Errorf("events[2].Raw = %q, want garbage", events[2].Raw)
	}
}
