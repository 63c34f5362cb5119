/*
Package domain contains the core models of the booking orchestration core.

It defines the conversation state, the dialogue phases and events, tool
invocations and their results, slot names, and the telemetry records emitted
per turn. The package is kept pure and free of I/O or persistence, following
the hexagonal layout of the rest of the module.

# Key Entities

  - ConversationState: durable snapshot of one (workspace, conversation) pair.
  - TransitionRecord: append-only audit entry written for every applied event.
  - ToolInvocation / ToolResult: a candidate side-effect and its outcome.
  - Patch: the reducer's output, applied to a state to produce the next one.
  - Turn / Reply: the inbound message and the system's next action.
*/
package domain
