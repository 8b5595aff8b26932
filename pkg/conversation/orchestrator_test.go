package conversation

import (
	"context"
	"database/sql"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harunnryd/khata/pkg/decision"
	"github.com/harunnryd/khata/pkg/execution"
	"github.com/harunnryd/khata/pkg/kv"
	"github.com/harunnryd/khata/pkg/nlu"
	"github.com/harunnryd/khata/pkg/resolver"
	"github.com/harunnryd/khata/pkg/session"
	"github.com/harunnryd/khata/pkg/storage"
	"github.com/harunnryd/khata/pkg/turn"
)

type scriptedLLM struct {
	responses []map[string]any
}

func (s *scriptedLLM) ParseJSON(context.Context, string, string, int) (map[string]any, error) {
	if len(s.responses) == 0 {
		return nil, nil
	}
	r := s.responses[0]
	s.responses = s.responses[1:]
	return r, nil
}

type scriptedSTT struct {
	texts []string
}

func (s *scriptedSTT) Transcribe(context.Context, []byte, int) (string, error) {
	if len(s.texts) == 0 {
		return "", nil
	}
	t := s.texts[0]
	s.texts = s.texts[1:]
	return t, nil
}

type harness struct {
	orch   *Orchestrator
	db     *sql.DB
	events []Event
}

func newHarness(t *testing.T, llm *scriptedLLM, stt *scriptedSTT) *harness {
	t.Helper()
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	res := resolver.New(db)
	h := &harness{db: db}

	orch, err := New(context.Background(), Deps{
		BusinessID: 1,
		Store:      session.NewStore(kv.NewMemoryStore()),
		Parser:     nlu.NewParser(llm, nil),
		Resolver:   res,
		Decision:   decision.NewGate(10000),
		Executor:   execution.NewCoordinator(db, res, nil, nil),
		STT:        stt,
		Strategy:   turn.AggressiveStrategy{},
		Emit:       func(e Event) { h.events = append(h.events, e) },
	})
	require.NoError(t, err)
	h.orch = orch
	return h
}

func (h *harness) eventTypes() []string {
	types := make([]string, len(h.events))
	for i, e := range h.events {
		types[i] = e.Type
	}
	return types
}

func (h *harness) lastEvent(eventType string) (Event, bool) {
	for i := len(h.events) - 1; i >= 0; i-- {
		if h.events[i].Type == eventType {
			return h.events[i], true
		}
	}
	return Event{}, false
}

// pcmChunk builds one 100ms chunk of constant-amplitude 16kHz mono PCM.
func pcmChunk(amplitude int16) []byte {
	const samples = 1600
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(amplitude))
	}
	return out
}

func feedTurn(t *testing.T, h *harness, loud, silent int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < loud; i++ {
		require.NoError(t, h.orch.HandleAudio(ctx, pcmChunk(16384)))
	}
	for i := 0; i < silent; i++ {
		require.NoError(t, h.orch.HandleAudio(ctx, pcmChunk(0)))
	}
}

func saleParse(amount float64, customer string, confidence float64) map[string]any {
	return map[string]any{
		"intent": "TXN_SALE",
		"entities": map[string]any{
			"amount":        amount,
			"customer_name": customer,
		},
		"confidence":          confidence,
		"needs_clarification": false,
	}
}

func TestVoiceTurnRecordsSale(t *testing.T) {
	llm := &scriptedLLM{responses: []map[string]any{saleParse(500, "Ravi", 0.95)}}
	stt := &scriptedSTT{texts: []string{"Ravi ko 500 ka samaan becha"}}
	h := newHarness(t, llm, stt)

	_, err := h.db.Exec(`INSERT INTO customers (business_id, name) VALUES (1, 'Ravi')`)
	require.NoError(t, err)

	feedTurn(t, h, 5, 15)

	assert.Equal(t, turn.StateAgentSpeaking, h.orch.State())
	types := h.eventTypes()
	assert.Contains(t, types, EventProcessing)
	assert.Contains(t, types, EventTranscription)
	assert.Contains(t, types, EventAgentSpeaking)

	var count int
	require.NoError(t, h.db.QueryRow(
		`SELECT COUNT(*) FROM transactions WHERE type = 'SALE'`).Scan(&count))
	assert.Equal(t, 1, count)

	speaking, ok := h.lastEvent(EventAgentSpeaking)
	require.True(t, ok)
	assert.Contains(t, speaking.Payload["text"], "500")
}

func TestHighValueSaleNeedsApproval(t *testing.T) {
	llm := &scriptedLLM{responses: []map[string]any{
		saleParse(15000, "Ravi", 0.95),
		{
			"intent":              "COMMAND_APPROVE_ACTION",
			"entities":            map[string]any{},
			"confidence":          0.95,
			"needs_clarification": false,
		},
	}}
	stt := &scriptedSTT{texts: []string{"Ravi ko 15000 ka maal becha", "haan confirm karo"}}
	h := newHarness(t, llm, stt)

	_, err := h.db.Exec(`INSERT INTO customers (business_id, name) VALUES (1, 'Ravi')`)
	require.NoError(t, err)

	feedTurn(t, h, 5, 15)

	// No write yet, just a spoken confirmation question.
	var count int
	require.NoError(t, h.db.QueryRow(`SELECT COUNT(*) FROM transactions`).Scan(&count))
	assert.Equal(t, 0, count)
	speaking, ok := h.lastEvent(EventAgentSpeaking)
	require.True(t, ok)
	assert.Contains(t, speaking.Payload["text"], "15000")

	h.orch.FinishSpeaking()
	require.Equal(t, turn.StateListening, h.orch.State())

	feedTurn(t, h, 5, 15)

	require.NoError(t, h.db.QueryRow(
		`SELECT COUNT(*) FROM transactions WHERE type = 'SALE'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestCancelDropsPendingAction(t *testing.T) {
	llm := &scriptedLLM{responses: []map[string]any{
		saleParse(15000, "Ravi", 0.95),
		{
			"intent":              "COMMAND_CANCEL",
			"entities":            map[string]any{},
			"confidence":          0.95,
			"needs_clarification": false,
		},
	}}
	stt := &scriptedSTT{texts: []string{"Ravi ko 15000 ka maal becha", "nahi rehne do"}}
	h := newHarness(t, llm, stt)

	_, err := h.db.Exec(`INSERT INTO customers (business_id, name) VALUES (1, 'Ravi')`)
	require.NoError(t, err)

	feedTurn(t, h, 5, 15)
	h.orch.FinishSpeaking()
	feedTurn(t, h, 5, 15)

	var count int
	require.NoError(t, h.db.QueryRow(`SELECT COUNT(*) FROM transactions`).Scan(&count))
	assert.Equal(t, 0, count)

	speaking, ok := h.lastEvent(EventAgentSpeaking)
	require.True(t, ok)
	assert.Contains(t, speaking.Payload["text"], "cancel")
}

func TestClarificationPathRemembersEntities(t *testing.T) {
	llm := &scriptedLLM{responses: []map[string]any{{
		"intent": "TXN_SALE",
		"entities": map[string]any{
			"customer_name": "Ravi",
		},
		"confidence":          0.9,
		"needs_clarification": false,
	}}}
	stt := &scriptedSTT{texts: []string{"Ravi ko samaan becha"}}
	h := newHarness(t, llm, stt)

	feedTurn(t, h, 5, 15)

	speaking, ok := h.lastEvent(EventAgentSpeaking)
	require.True(t, ok)
	assert.Contains(t, speaking.Payload["text"], "Amount")
	assert.Equal(t, turn.StateAgentSpeaking, h.orch.State())

	sess, err := h.orch.store.Get(context.Background(), h.orch.SessionID())
	require.NoError(t, err)
	assert.Equal(t, "Ravi", sess.ParsedState["customer_name"])
	assert.Equal(t, "TXN_SALE", sess.ParsedState["intent"])
}

func TestBargeInSplitsSpeech(t *testing.T) {
	h := newHarness(t, &scriptedLLM{}, &scriptedSTT{})
	ctx := context.Background()

	require.NoError(t, h.orch.machine.Transition(turn.StateProcessing, "test"))
	text := "Pehli baat. Doosri baat. Teesri baat. Chauthi baat. Paanchvi baat. Chhathi baat."
	require.NoError(t, h.orch.respond(ctx, text))

	for i := 0; i < 2; i++ {
		_, ok := h.orch.NextSpeechChunk()
		require.True(t, ok)
	}

	// Sustained speech past the barge-in threshold while the agent talks.
	for i := 0; i < 7; i++ {
		require.NoError(t, h.orch.HandleAudio(ctx, pcmChunk(16384)))
	}

	assert.Equal(t, turn.StateListening, h.orch.State())
	ev, ok := h.lastEvent(EventBargeIn)
	require.True(t, ok)
	spoken := ev.Payload["spoken_text"].(string)
	remaining := ev.Payload["remaining_text"].(string)
	assert.Equal(t, text, spoken+" "+remaining)
	assert.NotEmpty(t, h.orch.continuation)

	// Playback stops feeding chunks after the interrupt.
	_, ok = h.orch.NextSpeechChunk()
	assert.False(t, ok)
}

type cannedPlanner struct{ query string }

func (p cannedPlanner) PlanQuery(context.Context, int64, string) (string, error) {
	return p.query, nil
}

func TestUnclassifiedQuestionAnsweredFromLedger(t *testing.T) {
	// An intent tag outside the fixed set normalizes to UNKNOWN; a
	// high-confidence parse must come back as a narrated answer, not an
	// execution failure.
	llm := &scriptedLLM{responses: []map[string]any{{
		"intent":              "ASK_WEEKLY_TREND",
		"entities":            map[string]any{},
		"confidence":          0.95,
		"needs_clarification": false,
	}}}
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	res := resolver.New(db)

	var events []Event
	orch, err := New(context.Background(), Deps{
		BusinessID: 1,
		Store:      session.NewStore(kv.NewMemoryStore()),
		Parser:     nlu.NewParser(llm, nil),
		Resolver:   res,
		Decision:   decision.NewGate(10000),
		Executor: execution.NewCoordinator(db, res, cannedPlanner{
			query: `SELECT SUM(amount) AS total FROM transactions WHERE business_id = 1 AND type = 'SALE'`,
		}, nil),
		STT:      &scriptedSTT{},
		Strategy: turn.AggressiveStrategy{},
		Emit:     func(e Event) { events = append(events, e) },
	})
	require.NoError(t, err)

	_, err = db.Exec(`INSERT INTO transactions (business_id, type, amount) VALUES (1, 'SALE', 700)`)
	require.NoError(t, err)

	require.NoError(t, orch.HandleText(context.Background(), "is hafte ka sales trend kaisa raha"))

	assert.Equal(t, turn.StateAgentSpeaking, orch.State())
	var spoken string
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == EventAgentSpeaking {
			spoken, _ = events[i].Payload["text"].(string)
			break
		}
	}
	assert.Contains(t, spoken, "700")
	for _, e := range events {
		assert.NotEqual(t, EventError, e.Type)
	}
}

func TestShortBurstDuringPlaybackDoesNotBargeIn(t *testing.T) {
	h := newHarness(t, &scriptedLLM{}, &scriptedSTT{})
	ctx := context.Background()

	require.NoError(t, h.orch.machine.Transition(turn.StateProcessing, "test"))
	require.NoError(t, h.orch.respond(ctx, "Pehli baat. Doosri baat. Teesri baat."))

	// A 300ms burst, then silence. The burst alone is under the 500ms
	// threshold, and trailing silence must not keep the counter running
	// on the smoothed average.
	for i := 0; i < 3; i++ {
		require.NoError(t, h.orch.HandleAudio(ctx, pcmChunk(16384)))
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, h.orch.HandleAudio(ctx, pcmChunk(0)))
	}

	assert.Equal(t, turn.StateAgentSpeaking, h.orch.State())
	_, ok := h.lastEvent(EventBargeIn)
	assert.False(t, ok)

	// A later sustained interruption still gets through.
	for i := 0; i < 7; i++ {
		require.NoError(t, h.orch.HandleAudio(ctx, pcmChunk(16384)))
	}
	assert.Equal(t, turn.StateListening, h.orch.State())
	_, ok = h.lastEvent(EventBargeIn)
	assert.True(t, ok)
}

func TestTypedInputRunsFullTurn(t *testing.T) {
	llm := &scriptedLLM{responses: []map[string]any{saleParse(500, "Ravi", 0.95)}}
	h := newHarness(t, llm, &scriptedSTT{})
	ctx := context.Background()

	_, err := h.db.Exec(`INSERT INTO customers (business_id, name) VALUES (1, 'Ravi')`)
	require.NoError(t, err)

	require.NoError(t, h.orch.HandleText(ctx, "Ravi ko 500 ka samaan becha"))

	assert.Equal(t, turn.StateAgentSpeaking, h.orch.State())
	var count int
	require.NoError(t, h.db.QueryRow(
		`SELECT COUNT(*) FROM transactions WHERE type = 'SALE'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestTypedInputRejectedWhileAgentSpeaks(t *testing.T) {
	h := newHarness(t, &scriptedLLM{}, &scriptedSTT{})
	ctx := context.Background()

	require.NoError(t, h.orch.machine.Transition(turn.StateProcessing, "test"))
	require.NoError(t, h.orch.respond(ctx, "Ek minute."))

	err := h.orch.HandleText(ctx, "ruk jao")
	require.Error(t, err)
	assert.Equal(t, turn.StateAgentSpeaking, h.orch.State())
}

func TestStopIsIdempotent(t *testing.T) {
	h := newHarness(t, &scriptedLLM{}, &scriptedSTT{})
	ctx := context.Background()

	require.NoError(t, h.orch.Stop(ctx))
	require.NoError(t, h.orch.Stop(ctx))

	count := 0
	for _, e := range h.events {
		if e.Type == EventStopped {
			count++
		}
	}
	assert.Equal(t, 1, count)
	assert.Equal(t, turn.StateComplete, h.orch.State())
}

func TestRegistrySweepsIdleSessions(t *testing.T) {
	h := newHarness(t, &scriptedLLM{}, &scriptedSTT{})
	reg := NewRegistry()
	require.True(t, reg.Register(h.orch))

	h.orch.clock.now = func() time.Time { return time.Now().Add(10 * time.Minute) }

	swept := reg.SweepIdle(context.Background(), 5*time.Minute)
	assert.Equal(t, 1, swept)
	assert.Equal(t, int64(0), reg.Count())
	assert.Equal(t, turn.StateExpired, h.orch.State())

	_, ok := h.lastEvent(EventTimeout)
	assert.True(t, ok)
}
