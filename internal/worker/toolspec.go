package worker

import "fmt"

// ToolSpec describes how to invoke one AI CLI tool kind in non-interactive
// JSONL-streaming mode (§6 "Worker CLI invocation"). Grounded on the shape
// of the teacher's per-tool client packages (pkg/claudecode, pkg/codex,
// pkg/copilot, pkg/opencode, pkg/amp): each wraps a distinct CLI binary and
// its own flag surface, which this spec flattens into one BuildArgs per
// tool kind feeding the single C6 parser instead of five bespoke clients.
type ToolSpec struct {
	Binary       string
	APIKeyEnvVar string
	BaseURLEnvVar string
	BuildArgs    func(cfg StartConfig) []string
}

// registry is the closed set of aiTool kinds spec.md §3 names.
var registry = map[string]ToolSpec{
	"claude": {
		Binary:        "claude",
		APIKeyEnvVar:  "ANTHROPIC_API_KEY",
		BaseURLEnvVar: "ANTHROPIC_BASE_URL",
		BuildArgs: func(cfg StartConfig) []string {
			args := []string{"--print", "--output-format", "stream-json", "--verbose"}
			if cfg.Model != "" {
				args = append(args, "--model", cfg.Model)
			}
			if cfg.MaxTokens > 0 {
				args = append(args, "--max-tokens", fmt.Sprint(cfg.MaxTokens))
			}
			if cfg.ResumeID != "" {
				args = append(args, "--resume", cfg.ResumeID)
			}
			if cfg.InitialPrompt != "" {
				args = append(args, cfg.InitialPrompt)
			}
			return args
		},
	},
	"cursor": {
		Binary:        "cursor-agent",
		APIKeyEnvVar:  "CURSOR_API_KEY",
		BaseURLEnvVar: "CURSOR_BASE_URL",
		BuildArgs: func(cfg StartConfig) []string {
			args := []string{"--print", "--stream-format", "json"}
			if cfg.Model != "" {
				args = append(args, "--model", cfg.Model)
			}
			if cfg.ResumeID != "" {
				args = append(args, "--resume", cfg.ResumeID)
			}
			if cfg.InitialPrompt != "" {
				args = append(args, cfg.InitialPrompt)
			}
			return args
		},
	},
	"qwcoder": {
		Binary:        "qwcoder",
		APIKeyEnvVar:  "QWCODER_API_KEY",
		BaseURLEnvVar: "QWCODER_BASE_URL",
		BuildArgs: func(cfg StartConfig) []string {
			args := []string{"--non-interactive", "--format", "jsonl"}
			if cfg.Model != "" {
				args = append(args, "--model", cfg.Model)
			}
			if cfg.Temperature > 0 {
				args = append(args, "--temperature", fmt.Sprintf("%.2f", cfg.Temperature))
			}
			if cfg.ResumeID != "" {
				args = append(args, "--session", cfg.ResumeID)
			}
			if cfg.InitialPrompt != "" {
				args = append(args, cfg.InitialPrompt)
			}
			return args
		},
	},
}

// Lookup returns the ToolSpec for an aiTool kind.
func Lookup(tool string) (ToolSpec, error) {
	spec, ok := registry[tool]
	if !ok {
		return ToolSpec{}, fmt.Errorf("unknown tool: %s", tool)
	}
	return spec, nil
}
