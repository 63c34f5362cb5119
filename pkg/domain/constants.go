package domain

// Meta keys owned by the orchestration core.
const (
	// MetaFallbacks counts consecutive turns answered with the deterministic fallback.
	MetaFallbacks = "fallbacks"
	// MetaToolFailures counts consecutive failed tool executions.
	MetaToolFailures = "tool_failures"
	// MetaLastTool is the name of the most recently executed tool.
	MetaLastTool = "last_tool"
	// MetaLastToolStatus is the status of the most recently executed tool.
	MetaLastToolStatus = "last_tool_status"
	// MetaPendingTool is a tool that was proposed but has not succeeded yet.
	MetaPendingTool = "pending_tool"
	// MetaLastRoute is the pipeline variant that handled the last turn.
	MetaLastRoute = "last_route"
	// MetaVertical is the vertical the conversation was opened in.
	MetaVertical = "vertical"
	// MetaCycle counts resets. Idempotency keys are scoped to it.
	MetaCycle = "cycle"
)
