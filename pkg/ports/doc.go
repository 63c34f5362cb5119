/*
Package ports defines the driven ports (interfaces) of the concierge core.

These interfaces decouple the orchestration logic from external implementations,
allowing the core to work with various storage backends, tool targets and
extraction capabilities.

# Key Interfaces

  - ConversationStore: Loads conversation state, commits it with compare-and-swap, and appends transition records.
  - ResultCache: Idempotency cache for tool results.
  - QuotaCounter: Fixed-window usage counters consulted by the policy engine.
  - ToolTarget: The downstream service that performs a tool side effect.
  - Planner and Responder: Consumed extraction/planning and reply-generation capabilities.
  - DistributedLocker: Provides distributed locking for handling concurrent conversation access.
  - TelemetrySink: Receives one structured record per turn.
*/
package ports
