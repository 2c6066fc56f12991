// Package clistream implements the CLI stream parser (C6): it turns the
// JSON-lines stdout of a spawned AI CLI child process into an ordered
// sequence of typed events.
//
// Grounded directly on the teacher's pkg/claudecode (CLIMessage,
// AssistantMessage, Usage) and the scanner-based readLoop/handleLine in
// pkg/claudecode/client.go.
package clistream

import (
	"bufio"
	"encoding/json"
	"io"
)

// EventType is the closed set of event variants this parser emits.
type EventType string

const (
	EventText       EventType = "text"
	EventToolUse    EventType = "toolUse"
	EventToolResult EventType = "toolResult"
	EventAssistant  EventType = "assistant"
	EventSystem     EventType = "system"
	EventResult     EventType = "result"
	EventError      EventType = "error"
	EventUnknown    EventType = "unknown"
)

// Usage carries token accounting as reported by the CLI.
type Usage struct {
	InputTokens              int `json:"inputTokens,omitempty"`
	OutputTokens             int `json:"outputTokens,omitempty"`
	CacheCreationInputTokens int `json:"cacheCreationInputTokens,omitempty"`
	CacheReadInputTokens     int `json:"cacheReadInputTokens,omitempty"`
}

// Event is one parsed line of CLI output, tagged by Type with only the
// fields relevant to that variant populated.
type Event struct {
	Type EventType `json:"type"`

	// text
	Delta string `json:"delta,omitempty"`

	// toolUse
	ToolUseID   string          `json:"id,omitempty"`
	ToolName    string          `json:"name,omitempty"`
	ToolInput   json.RawMessage `json:"input,omitempty"`

	// toolResult
	ResultUseID string          `json:"useId,omitempty"`
	ToolContent json.RawMessage `json:"content,omitempty"`

	// assistant
	Message string `json:"message,omitempty"`
	Usage   *Usage `json:"usage,omitempty"`

	// system
	Subtype string                 `json:"subtype,omitempty"`
	Fields  map[string]interface{} `json:"fields,omitempty"`

	// result
	ResultText string  `json:"text,omitempty"`
	DurationMS int64   `json:"durationMs,omitempty"`
	APIMS      int64   `json:"apiMs,omitempty"`
	Turns      int     `json:"turns,omitempty"`
	CostUSD    float64 `json:"costUsd,omitempty"`

	// error
	ErrorMessage string `json:"error,omitempty"`

	// unknown / fallback text
	Raw string `json:"raw,omitempty"`
}

// rawLine mirrors the JSONL shape the CLI emits; it is permissive so any
// combination of fields can be present on one line.
type rawLine struct {
	Type       string                 `json:"type"`
	Delta      string                 `json:"delta"`
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Input      json.RawMessage        `json:"input"`
	UseID      string                 `json:"useId"`
	Content    json.RawMessage        `json:"content"`
	Message    json.RawMessage        `json:"message"`
	Usage      *Usage                 `json:"usage"`
	Subtype    string                 `json:"subtype"`
	Fields     map[string]interface{} `json:"fields"`
	Text       string                 `json:"text"`
	DurationMS int64                  `json:"durationMs"`
	APIMS      int64                  `json:"apiMs"`
	Turns      int                    `json:"turns"`
	CostUSD    float64                `json:"costUsd"`
}

// ParseLine parses a single line of CLI stdout into an Event. A line that
// is not valid JSON, or whose "type" is not one of the known variants, is
// returned as a fallback text/unknown event rather than an error — lines
// are never dropped.
func ParseLine(line string) Event {
	var raw rawLine
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		return Event{Type: EventText, Delta: line, Raw: line}
	}

	switch EventType(raw.Type) {
	case EventText:
		return Event{Type: EventText, Delta: raw.Delta}
	case EventToolUse:
		return Event{Type: EventToolUse, ToolUseID: raw.ID, ToolName: raw.Name, ToolInput: raw.Input}
	case EventToolResult:
		return Event{Type: EventToolResult, ResultUseID: raw.UseID, ToolContent: raw.Content}
	case EventAssistant:
		return Event{Type: EventAssistant, Message: string(raw.Message), Usage: raw.Usage}
	case EventSystem:
		return Event{Type: EventSystem, Subtype: raw.Subtype, Fields: raw.Fields}
	case EventResult:
		return Event{
			Type:       EventResult,
			ResultText: raw.Text,
			DurationMS: raw.DurationMS,
			APIMS:      raw.APIMS,
			Turns:      raw.Turns,
			Usage:      raw.Usage,
			CostUSD:    raw.CostUSD,
		}
	case EventError:
		return Event{Type: EventError, ErrorMessage: raw.Text}
	default:
		return Event{Type: EventUnknown, Raw: line}
	}
}

// initialBufSize/maxBufSize mirror the teacher's scanner buffer sizing
// (enlarged beyond bufio's default to tolerate long tool-output lines).
const (
	initialBufSize = 64 * 1024
	maxBufSize     = 10 * 1024 * 1024
)

// Parse reads r line by line and invokes emit for each parsed Event, in
// order, as lines arrive. It does not buffer to end-of-stream: callers
// typically run it in its own goroutine over a child process's stdout pipe.
func Parse(r io.Reader, emit func(Event)) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, initialBufSize), maxBufSize)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		emit(ParseLine(line))
	}
	return scanner.Err()
}
