/*
Package observability provides telemetry sinks for the turn orchestrator.

Each handled turn yields one domain.TurnRecord. Sinks consume it: LogSink
writes it as a structured log line, Metrics exports it to Prometheus and
Recorder keeps the most recent records in memory. Fanout combines several
sinks into one.

Metrics also provides lifecycle hooks that count FSM transitions.
*/
package observability
