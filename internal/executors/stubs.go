package executors

import "context"

// ClaudeChat, Skill and Webhook stand in for the real external collaborators
// spec.md §1 places out of scope (an LLM subprocess, a skill invocation, an
// HTTP call): this module owns the dispatch table and the run-accounting
// path around them, not their payloads. Each returns a deterministic soft
// failure so the queue/run/retry machinery around them is fully exercised
// by tests without reaching out to a network or a subprocess.

// ClaudeChat is the stand-in for the claude_chat action_type.
func ClaudeChat(ctx context.Context, config map[string]any) (string, error) {
	prompt, _ := config["prompt"].(string)
	if prompt == "" {
		return "error: no prompt or messages provided", nil
	}
	return "error: claude_chat executor not configured in this build", nil
}

// Skill is the stand-in for the skill action_type.
func Skill(ctx context.Context, config map[string]any) (string, error) {
	name, _ := config["skill"].(string)
	if name == "" {
		return "error: no skill name specified", nil
	}
	return "error: skill executor not configured in this build", nil
}

// Webhook is the stand-in for the webhook action_type.
func Webhook(ctx context.Context, config map[string]any) (string, error) {
	url, _ := config["url"].(string)
	if url == "" {
		return "error: no URL specified", nil
	}
	return "error: webhook executor not configured in this build", nil
}
