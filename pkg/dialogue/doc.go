// Package dialogue implements the conversation state machine.
//
// The transition table is closed: any (state, event) pair it does not list is
// ignored, leaving state and next action unchanged, and is still recorded.
// DONE and HANDOFF are terminal for automation; only Reset leaves them.
package dialogue
