package observability_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/aretw0/concierge/pkg/domain"
	"github.com/aretw0/concierge/pkg/observability"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleRecord() domain.TurnRecord {
	return domain.TurnRecord{
		TurnID:         "ws-1/conv-1/m-1",
		WorkspaceID:    "ws-1",
		ConversationID: "conv-1",
		Route:          domain.RouteLegacy,
		Bucket:         42,
		Latency: map[domain.Stage]time.Duration{
			domain.StagePipeline: 3 * time.Millisecond,
			domain.StageTools:    20 * time.Millisecond,
		},
		Confidence: 0.9,
		NextAction: domain.ActionAnswer,
		FSMState:   domain.StateConfirming,
		Timestamp:  time.Now().UTC(),
	}
}

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	ctx := context.Background()

	rec := sampleRecord()
	m.Record(ctx, rec)
	rec.Fallback = true
	rec.Retries = 1
	rec.NextAction = domain.ActionAsk
	m.Record(ctx, rec)

	count, err := testutil.GatherAndCount(reg, "concierge_turns_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per route/next_action pair")

	count, err = testutil.GatherAndCount(reg, "concierge_fallbacks_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = testutil.GatherAndCount(reg, "concierge_turn_stage_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestMetrics_Hooks(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := observability.NewMetrics(reg)
	hooks := m.Hooks()

	hooks.OnTransition(context.Background(), domain.TransitionRecord{Event: domain.EventConfirmOK, Accepted: true})
	hooks.OnTransition(context.Background(), domain.TransitionRecord{Event: domain.EventConfirmOK, Accepted: false})

	count, err := testutil.GatherAndCount(reg, "concierge_transitions_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := observability.NewLogSink(slog.New(slog.NewJSONHandler(&buf, nil)))

	rec := sampleRecord()
	rec.ErrorCode = domain.CodeToolTransient
	sink.Record(context.Background(), rec)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "WARN", line["level"])
	assert.Equal(t, "turn handled", line["msg"])
	assert.Equal(t, "conv-1", line["conversation_id"])
	assert.Equal(t, "tool_transient", line["error_code"])
	assert.Contains(t, line, "latency")
}

func TestRecorderAndFanout(t *testing.T) {
	a := observability.NewRecorder(2)
	b := observability.NewRecorder(10)
	sink := observability.Fanout{a, nil, b}

	for _, id := range []string{"m-1", "m-2", "m-3"} {
		rec := sampleRecord()
		rec.TurnID = id
		sink.Record(context.Background(), rec)
	}

	got := a.Records()
	require.Len(t, got, 2)
	assert.Equal(t, "m-2", got[0].TurnID)
	assert.Equal(t, "m-3", got[1].TurnID)
	assert.Len(t, b.Records(), 3)
}

func TestMergeHooks(t *testing.T) {
	var calls []string
	merged := observability.MergeHooks(
		domain.LifecycleHooks{OnTurn: func(context.Context, domain.TurnRecord) { calls = append(calls, "first") }},
		domain.LifecycleHooks{},
		domain.LifecycleHooks{OnTurn: func(context.Context, domain.TurnRecord) { calls = append(calls, "second") }},
	)

	merged.OnTurn(context.Background(), sampleRecord())
	assert.Equal(t, []string{"first", "second"}, calls)
	assert.Nil(t, merged.OnToolReturn)
}
