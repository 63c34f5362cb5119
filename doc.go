/*
Package concierge is the orchestration core of a booking assistant.

Each inbound message is one turn. A turn is routed to the legacy rule-based
pipeline or, for a configurable share of conversations, to the model-driven
one. The pipeline output is validated, reduced into the conversation state
and fed to a deterministic dialogue state machine. Side effects (availability
checks, bookings, cancellations) are proposed as tool calls, gated by a
policy engine and executed by a broker that adds idempotency, bounded retries
and a circuit breaker per target.

# States

	START -> COLLECTING -> CONFIRMING -> CHECKOUT -> DONE
	                 \____________\___________\____-> HANDOFF

DONE and HANDOFF are terminal for automation; only a reset leaves them.

# Usage

	orch, err := concierge.New(
		concierge.WithSandboxTargets(),
		concierge.WithLogger(logger),
	)
	if err != nil {
		log.Fatal(err)
	}

	reply, err := orch.HandleTurn(ctx, domain.Turn{
		WorkspaceID:    "acme",
		ConversationID: "c-42",
		MessageID:      "m-1",
		Text:           "I'd like a haircut tomorrow at 3pm, my name is Ana",
		Vertical:       "salon",
	})

HandleTurn only returns an error when the conversation store is unreachable.
Every other failure (low confidence, malformed pipeline output, denied or
failed tools, lost races) yields a well-formed Reply.

Storage, caches and quota counters default to memory. FromConfig wires the
Redis or Postgres adapters, HTTP tool targets and the planner client from a
config.Config.
*/
package concierge
