// Package agent defines the agent port: the narrow interface the pipeline
// uses to invoke tenant-specific AI agents.
package agent

import (
	"context"
	"encoding/json"

	"github.com/replygrid/replygrid/internal/domain/tenant"
)

// TurnContext carries everything an agent may know about the turn it is
// handling. The tenant id here is the only source of tenancy for tool
// execution; tool arguments never override it.
type TurnContext struct {
	TenantID     tenant.ID
	ChatbotID    int64
	ContactID    int64
	ThreadID     string
	FromNumber   string
	LanguageHint string
	Instructions string

	// Tools executes tool calls emitted by the agent. Wired by the worker.
	Tools ToolExecutor
}

// ToolExecutor runs a named tool with JSON arguments and returns a JSON
// result. Validation failures come back as a tool-result error so the agent
// can correct itself.
type ToolExecutor interface {
	Execute(ctx context.Context, tc TurnContext, name string, args json.RawMessage) (json.RawMessage, error)
}

// Event is the closed sum of agent stream events.
type Event interface{ agentEvent() }

// TextChunk is an intermediate text fragment. Not customer-visible.
type TextChunk struct {
	Text string
}

// ToolCall requests execution of a tool by the worker.
type ToolCall struct {
	Name          string
	Arguments     json.RawMessage
	CorrelationID string
}

// ToolResult echoes a tool execution outcome back into the stream.
type ToolResult struct {
	CorrelationID string
	Result        json.RawMessage
}

// Final carries the single customer-visible response text.
type Final struct {
	Text string
}

// ErrorEvent reports an agent-side failure.
type ErrorEvent struct {
	Kind   string
	Detail string
}

func (TextChunk) agentEvent()  {}
func (ToolCall) agentEvent()   {}
func (ToolResult) agentEvent() {}
func (Final) agentEvent()      {}
func (ErrorEvent) agentEvent() {}

// Agent generates responses for one turn. Run sends events on out in stream
// order and returns when the turn is complete. The channel belongs to the
// caller, which closes it after Run returns; implementations must never
// close out. Agents are stateful only through threadID; conversation memory
// belongs to the agent's own persistence, not the broker's.
type Agent interface {
	Run(ctx context.Context, threadID string, tc TurnContext, mergedInput string, out chan<- Event) error
}
