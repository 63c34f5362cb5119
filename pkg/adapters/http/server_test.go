package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/aretw0/concierge/pkg/canary"
	"github.com/aretw0/concierge/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeService struct {
	turns    []domain.Turn
	turnErr  error
	states   map[domain.ConversationKey]*domain.ConversationState
	records  []domain.TransitionRecord
	canary   canary.Config
	handoffs []string
}

func newFakeService() *fakeService {
	return &fakeService{states: make(map[domain.ConversationKey]*domain.ConversationState)}
}

func (f *fakeService) HandleTurn(_ context.Context, turn domain.Turn) (domain.Reply, error) {
	if f.turnErr != nil {
		return domain.Reply{}, f.turnErr
	}
	f.turns = append(f.turns, turn)
	return domain.Reply{NextAction: domain.ActionAsk, FSMState: domain.StateCollecting, Text: "What time?", Route: domain.RouteLegacy}, nil
}

func (f *fakeService) State(_ context.Context, key domain.ConversationKey) (*domain.ConversationState, error) {
	s, ok := f.states[key]
	if !ok {
		return nil, domain.ErrConversationNotFound
	}
	return s, nil
}

func (f *fakeService) Transitions(context.Context, domain.ConversationKey) ([]domain.TransitionRecord, error) {
	return f.records, nil
}

func (f *fakeService) Reset(ctx context.Context, key domain.ConversationKey) (*domain.ConversationState, error) {
	s, err := f.State(ctx, key)
	if err != nil {
		return nil, err
	}
	s.FSMState = domain.StateStart
	return s, nil
}

func (f *fakeService) Handoff(ctx context.Context, key domain.ConversationKey, reason string) (*domain.ConversationState, error) {
	s, err := f.State(ctx, key)
	if err != nil {
		return nil, err
	}
	f.handoffs = append(f.handoffs, reason)
	s.FSMState = domain.StateHandoff
	return s, nil
}

func (f *fakeService) Canary() canary.Config { return f.canary }

func (f *fakeService) SetCanary(cfg canary.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	f.canary = cfg
	return nil
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_HandleTurn(t *testing.T) {
	svc := newFakeService()
	h := NewHandler(svc)

	w := do(t, h, http.MethodPost, "/v1/turns",
		`{"workspace_id":"ws-1","conversation_id":"c-1","message_id":"m-1","text":"book\u0007 a haircut","vertical":"salon"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var reply domain.Reply
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &reply))
	assert.Equal(t, domain.ActionAsk, reply.NextAction)
	assert.Equal(t, domain.StateCollecting, reply.FSMState)

	require.Len(t, svc.turns, 1)
	assert.Equal(t, "book a haircut", svc.turns[0].Text, "control characters are stripped")
	assert.Equal(t, "salon", svc.turns[0].Vertical)
	assert.False(t, svc.turns[0].ReceivedAt.IsZero())
}

func TestServer_HandleTurnErrors(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		body   string
		status int
	}{
		{"malformed body", nil, `{"workspace_id":`, http.StatusBadRequest},
		{"unknown field", nil, `{"nope":1}`, http.StatusBadRequest},
		{"invalid turn", domain.ErrInvalidTurn, `{"text":"hi"}`, http.StatusBadRequest},
		{"store down", errors.New("connection refused"), `{"workspace_id":"w","conversation_id":"c","text":"hi"}`, http.StatusServiceUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := newFakeService()
			svc.turnErr = tt.err
			w := do(t, NewHandler(svc), http.MethodPost, "/v1/turns", tt.body)
			assert.Equal(t, tt.status, w.Code)
			assert.NotContains(t, w.Body.String(), "connection refused", "internal errors are not leaked")
		})
	}
}

func TestServer_TextTooLarge(t *testing.T) {
	body, _ := json.Marshal(TurnRequest{WorkspaceID: "w", ConversationID: "c", Text: strings.Repeat("a", DefaultMaxTextBytes+1)})
	w := do(t, NewHandler(newFakeService()), http.MethodPost, "/v1/turns", string(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestServer_VerticalInputLimits(t *testing.T) {
	h := NewHandler(newFakeService(), WithInputLimits(InputLimits{Default: 64, Verticals: map[string]int{"restaurant": 8}}))

	body, _ := json.Marshal(TurnRequest{WorkspaceID: "w", ConversationID: "c", Vertical: "restaurant", Text: "table for two"})
	w := do(t, h, http.MethodPost, "/v1/turns", string(body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "limit 8")

	body, _ = json.Marshal(TurnRequest{WorkspaceID: "w", ConversationID: "c", Vertical: "salon", Text: "book a haircut"})
	w = do(t, h, http.MethodPost, "/v1/turns", string(body))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServer_ConversationEndpoints(t *testing.T) {
	svc := newFakeService()
	key := domain.ConversationKey{WorkspaceID: "ws-1", ConversationID: "c-1"}
	state := domain.NewState(key, testTime)
	state.FSMState = domain.StateDone
	svc.states[key] = state
	svc.records = []domain.TransitionRecord{{ID: "r-1", Event: domain.EventConfirmOK, Accepted: true}}
	h := NewHandler(svc)

	w := do(t, h, http.MethodGet, "/v1/workspaces/ws-1/conversations/c-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"fsm_state":"DONE"`)

	w = do(t, h, http.MethodGet, "/v1/workspaces/ws-1/conversations/absent", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(t, h, http.MethodGet, "/v1/workspaces/ws-1/conversations/c-1/transitions", "")
	require.Equal(t, http.StatusOK, w.Code)
	var records []domain.TransitionRecord
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &records))
	require.Len(t, records, 1)
	assert.Equal(t, domain.EventConfirmOK, records[0].Event)

	w = do(t, h, http.MethodPost, "/v1/workspaces/ws-1/conversations/c-1/reset", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"fsm_state":"START"`)

	w = do(t, h, http.MethodPost, "/v1/workspaces/ws-1/conversations/c-1/handoff", `{"reason":"vip"}`)
	require.Equal(t, http.StatusOK, w.Code)
	w = do(t, h, http.MethodPost, "/v1/workspaces/ws-1/conversations/c-1/handoff", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"vip", "operator"}, svc.handoffs)
}

func TestServer_Canary(t *testing.T) {
	svc := newFakeService()
	h := NewHandler(svc)

	w := do(t, h, http.MethodPut, "/v1/canary", `{"enabled":true,"percent":20}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, canary.Config{Enabled: true, Percent: 20}, svc.canary)

	w = do(t, h, http.MethodPut, "/v1/canary", `{"enabled":true,"percent":101}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, 20, svc.canary.Percent, "an invalid update keeps the old config")

	w = do(t, h, http.MethodGet, "/v1/canary", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"enabled":true,"percent":20}`, w.Body.String())
}

func TestServer_HealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "concierge_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()
	h := NewHandler(newFakeService(), WithGatherer(reg))

	w := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(t, h, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, bytes.Contains(w.Body.Bytes(), []byte("concierge_test_total 1")))
}
