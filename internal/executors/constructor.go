package executors

import (
	"github.com/Systemsaholic/nexaas/internal/bus"
	"github.com/Systemsaholic/nexaas/internal/logging"
	"github.com/Systemsaholic/nexaas/internal/store"
)

// New builds the closed action_type registry wired to st and b: claude_chat,
// skill and webhook are thin stand-ins (see stubs.go), script runs real JS in
// a sandboxed VM, and flow interprets a multi-step definition, dispatching
// each step back through this same registry. trigger is the event engine's
// direct Trigger path, used by the flow executor to fire chained flows.
func New(st *store.Store, b *bus.Bus, log *logging.Logger, trigger ChainTrigger) *Registry {
	registry := NewRegistry()
	registry.Register("claude_chat", ClaudeChat)
	registry.Register("skill", Skill)
	registry.Register("webhook", Webhook)
	registry.Register("script", Script)
	registry.Register("flow", NewFlowExecutor(registry, st, b, log, trigger).Execute)
	return registry
}
