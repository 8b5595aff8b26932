// Package conversation drives one voice session end to end: audio in, VAD
// turn detection, transcription, parsing, validation, resolution, the
// decision gate and execution, with the agent's spoken response tracked chunk
// by chunk so a barge-in knows exactly where it was cut off.
package conversation

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/harunnryd/khata/pkg/decision"
	"github.com/harunnryd/khata/pkg/errorsx"
	"github.com/harunnryd/khata/pkg/execution"
	"github.com/harunnryd/khata/pkg/metrics"
	"github.com/harunnryd/khata/pkg/nlu"
	"github.com/harunnryd/khata/pkg/resolver"
	"github.com/harunnryd/khata/pkg/session"
	"github.com/harunnryd/khata/pkg/turn"
	"github.com/harunnryd/khata/pkg/vad"
	"github.com/harunnryd/khata/pkg/validation"
)

// Transcriber converts one turn of buffered PCM into text.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, sampleRate int) (string, error)
}

// Deps wires the orchestrator. Emit receives every outbound event; the
// transport owns delivery.
type Deps struct {
	BusinessID int64
	UserID     string
	Store      *session.Store
	Parser     *nlu.Parser
	Resolver   *resolver.Resolver
	Decision   *decision.Gate
	Executor   *execution.Coordinator
	STT        Transcriber
	VADConfig  vad.Config
	Strategy   turn.Strategy
	// BargeInThreshold overrides how much caller speech cancels playback.
	// Zero keeps the machine default.
	BargeInThreshold time.Duration
	Emitter          turn.InterruptEmitter
	Observer         metrics.Observer
	Logger           *slog.Logger
	Emit             func(Event)
}

// Orchestrator runs the decision pipeline for a single session.
type Orchestrator struct {
	sessionID  string
	businessID int64

	store *session.Store
	parse *nlu.Parser
	res   *resolver.Resolver
	dec   *decision.Gate
	exec  *execution.Coordinator
	stt   Transcriber

	machine *turn.Machine
	det     *vad.Detector
	buf     *vad.Buffer
	vadCfg  vad.Config

	turnAudio      []byte
	playbackSpeech int

	speech       *speech
	continuation string

	clock *activityClock
	obs   metrics.Observer
	log   *slog.Logger
	emit  func(Event)
}

// New opens a fresh session and announces it to the client.
func New(ctx context.Context, d Deps) (*Orchestrator, error) {
	sess, err := d.Store.Create(ctx, d.BusinessID, d.UserID)
	if err != nil {
		return nil, err
	}

	cfg := d.VADConfig
	det := vad.NewDetector(cfg)
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	obs := d.Observer
	if obs == nil {
		obs = metrics.NoopObserver{}
	}
	emit := d.Emit
	if emit == nil {
		emit = func(Event) {}
	}

	o := &Orchestrator{
		sessionID:  sess.ID,
		businessID: d.BusinessID,
		store:      d.Store,
		parse:      d.Parser,
		res:        d.Resolver,
		dec:        d.Decision,
		exec:       d.Executor,
		stt:        d.STT,
		machine:    turn.NewMachine(sess.ID, d.Strategy, d.BargeInThreshold, d.Emitter),
		det:        det,
		buf:        vad.NewBuffer(det.ChunkBytes()),
		vadCfg:     det.Config(),
		clock:      newActivityClock(),
		obs:        obs,
		log:        log.With("session_id", sess.ID),
		emit:       emit,
	}
	if err := o.machine.Transition(turn.StateListening, "session opened"); err != nil {
		return nil, err
	}
	o.send(EventSessionInitialized, map[string]any{"business_id": d.BusinessID})
	o.log.Info("session_initialized", "business_id", d.BusinessID)
	return o, nil
}

func (o *Orchestrator) SessionID() string { return o.sessionID }

func (o *Orchestrator) State() turn.State { return o.machine.State() }

// IdleFor reports whether the session heard nothing for the given duration.
func (o *Orchestrator) IdleFor(d time.Duration) bool { return o.clock.IdleFor(d) }

// Touch marks the session active, e.g. on a client heartbeat.
func (o *Orchestrator) Touch() { o.clock.Touch() }

// HandleAudio ingests raw PCM from the client. Complete VAD chunks drive turn
// detection; speech during agent playback drives barge-in.
func (o *Orchestrator) HandleAudio(ctx context.Context, pcm []byte) error {
	o.clock.Touch()
	o.buf.Add(pcm)

	for {
		chunk := o.buf.NextChunk()
		if chunk == nil {
			return nil
		}
		if err := o.handleChunk(ctx, chunk); err != nil {
			return err
		}
	}
}

func (o *Orchestrator) handleChunk(ctx context.Context, chunk []byte) error {
	act := o.det.Process(chunk)

	switch o.machine.State() {
	case turn.StateAgentSpeaking:
		// Raw per-chunk energy, not the smoothed average: a short burst
		// followed by silence must not keep counting toward the threshold.
		if act.Energy > o.vadCfg.SilenceThreshold {
			o.playbackSpeech++
			dur := time.Duration(float64(o.playbackSpeech) * float64(time.Second) * o.vadCfg.ChunkDuration)
			if o.machine.OnSpeechWhilePlaying(dur) {
				o.bargeIn()
				// The chunk that triggered the barge-in opens the next turn.
				o.turnAudio = append(o.turnAudio[:0], chunk...)
			}
		} else {
			o.playbackSpeech = 0
		}
		return nil

	case turn.StateListening:
		o.turnAudio = append(o.turnAudio, chunk...)
		if act.ShouldEndTurn {
			return o.endTurn(ctx)
		}
		return nil

	default:
		// Audio arriving mid-processing is dropped; the client keeps
		// streaming while we think.
		return nil
	}
}

func (o *Orchestrator) endTurn(ctx context.Context) error {
	if err := o.machine.Transition(turn.StateProcessing, "silence window elapsed"); err != nil {
		return err
	}
	o.send(EventProcessing, nil)

	audio := o.turnAudio
	o.turnAudio = nil
	o.det.Reset()

	transcript, err := o.stt.Transcribe(ctx, audio, o.vadCfg.SampleRate)
	if err != nil {
		o.log.Error("transcription_failed", "err", err, "reason", errorsx.Reason(err))
		o.sendError("Awaaz samajh nahi aayi, dobara boliye.")
		return o.machine.Transition(turn.StateListening, "transcription failed")
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return o.machine.Transition(turn.StateListening, "empty transcript")
	}
	return o.ProcessUtterance(ctx, transcript)
}

// HandleText ingests typed input. It closes the current turn immediately, as
// if silence had already elapsed, then runs the utterance through the same
// pipeline as transcribed speech. Only valid while the floor is the user's.
func (o *Orchestrator) HandleText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if err := o.machine.Transition(turn.StateProcessing, "typed input"); err != nil {
		return err
	}
	o.send(EventProcessing, nil)
	o.turnAudio = nil
	o.det.Reset()
	return o.ProcessUtterance(ctx, text)
}

// ProcessUtterance runs one user turn through the full pipeline. The machine
// must be in PROCESSING; HandleText and endTurn force the transition first.
func (o *Orchestrator) ProcessUtterance(ctx context.Context, text string) error {
	started := time.Now()
	o.clock.Touch()
	o.send(EventTranscription, map[string]any{"text": text})

	sess, err := o.store.AppendTurn(ctx, o.sessionID, "user", text)
	if err != nil {
		return o.fail(err, "Session kho gaya, dobara shuru karein.")
	}

	tc := sess.Context()
	if o.continuation != "" {
		tc.Turns = append(tc.Turns, nlu.ContextTurn{Role: "agent", Text: o.continuation})
		o.continuation = ""
	}
	pr := o.parse.Parse(ctx, o.businessID, text, tc)
	o.record("turn_parsed", started, map[string]string{
		"intent":     string(pr.Intent),
		"session_id": o.sessionID,
	})

	switch pr.Intent {
	case nlu.IntentApprove:
		return o.handleApproval(ctx, sess)
	case nlu.IntentCancel:
		return o.handleCancel(ctx, sess)
	}

	vr := validation.Validate(pr)
	if vr.NeedsClarification {
		if err := o.rememberEntities(ctx, sess, vr.ParseResult); err != nil {
			return err
		}
		return o.clarify(vr.ClarificationQuestion)
	}

	custResult, riskFlag, err := o.resolveCustomer(ctx, vr.ParseResult)
	if err != nil {
		return o.fail(err, "Customer dhoondhne mein dikkat aayi.")
	}

	dr := o.dec.Decide(decision.Input{Validation: vr, Customer: custResult, RiskFlag: riskFlag})
	o.record("turn_decided", started, map[string]string{
		"intent":     string(vr.Intent),
		"action":     string(dr.Action),
		"session_id": o.sessionID,
	})

	switch dr.Action {
	case decision.ActionClarify:
		return o.clarify(dr.Question)

	case decision.ActionConfirm:
		pending := &session.PendingAction{Parse: vr.ParseResult, Reason: dr.Reason}
		if custResult.Customer != nil {
			pending.CustomerID = custResult.Customer.ID
		}
		sess.Pending = pending
		sess.Status = session.StatusAwaitingConfirmation
		if err := o.store.Save(ctx, sess); err != nil {
			return o.fail(err, "Session save nahi hua.")
		}
		if err := o.machine.Transition(turn.StateConfirming, dr.Reason); err != nil {
			return err
		}
		return o.respond(ctx, dr.Question)

	default:
		return o.execute(ctx, sess, vr.ParseResult, custResult.Customer)
	}
}

func (o *Orchestrator) handleApproval(ctx context.Context, sess *session.Session) error {
	if sess.Pending == nil {
		return o.speak(ctx, "Approve karne ke liye kuch pending nahi hai.")
	}
	pending := sess.Pending
	sess.Pending = nil
	sess.Status = session.StatusActive
	if err := o.store.Save(ctx, sess); err != nil {
		return o.fail(err, "Session save nahi hua.")
	}

	var cust *resolver.Customer
	if pending.CustomerID != 0 {
		cust = &resolver.Customer{ID: pending.CustomerID}
		if name := pending.Parse.EntityString(nlu.KeyCustomerName); name != "" {
			cust.Name = name
		}
	}
	return o.execute(ctx, sess, pending.Parse, cust)
}

func (o *Orchestrator) handleCancel(ctx context.Context, sess *session.Session) error {
	had := sess.Pending != nil
	sess.Pending = nil
	sess.Status = session.StatusActive
	sess.ParsedState = map[string]any{}
	if err := o.store.Save(ctx, sess); err != nil {
		return o.fail(err, "Session save nahi hua.")
	}
	if had {
		return o.speak(ctx, "Theek hai, action cancel kar diya.")
	}
	return o.speak(ctx, "Theek hai, kuch record nahi kiya.")
}

func (o *Orchestrator) execute(ctx context.Context, sess *session.Session, pr nlu.ParseResult, cust *resolver.Customer) error {
	if err := o.machine.Transition(turn.StateExecuting, string(pr.Intent)); err != nil {
		return err
	}
	out, err := o.exec.Execute(ctx, o.businessID, pr, cust)
	if err != nil {
		o.log.Error("execution_failed", "intent", string(pr.Intent), "err", err, "reason", errorsx.Reason(err))
		if pr.Intent == nlu.IntentUnknown {
			o.sendError("Sawaal ka jawab nahi mil paya.")
			return o.respond(ctx, "Yeh sawaal main records se nahi nikaal paya. Thoda aur detail mein poochiye?")
		}
		o.sendError("Record nahi ho paya, dobara koshish karein.")
		return o.respond(ctx, "Maaf kijiye, woh record nahi ho paya. Dobara bataiye?")
	}

	// A landed action closes the open parse state.
	sess.ParsedState = map[string]any{}
	if err := o.store.Save(ctx, sess); err != nil {
		return o.fail(err, "Session save nahi hua.")
	}
	o.send(EventExecuted, map[string]any{
		"intent":  string(pr.Intent),
		"summary": out.Summary,
		"data":    out.Data,
	})
	return o.respond(ctx, out.Summary)
}

func (o *Orchestrator) clarify(question string) error {
	if err := o.machine.Transition(turn.StateClarifying, "needs clarification"); err != nil {
		return err
	}
	return o.respond(context.Background(), question)
}

// speak is respond for paths still in PROCESSING.
func (o *Orchestrator) speak(ctx context.Context, text string) error {
	return o.respond(ctx, text)
}

// respond splits the reply into sentence chunks, hands the floor to the
// agent and records the reply in session history.
func (o *Orchestrator) respond(ctx context.Context, text string) error {
	chunks := SplitSentences(text)
	o.speech = newSpeech(chunks)
	o.playbackSpeech = 0

	if err := o.machine.Transition(turn.StateAgentSpeaking, "response ready"); err != nil {
		return err
	}
	if _, err := o.store.AppendTurn(ctx, o.sessionID, "agent", text); err != nil {
		o.log.Warn("agent_turn_not_saved", "err", err)
	}
	o.send(EventAgentSpeaking, map[string]any{"text": text, "chunks": chunks})
	return nil
}

// NextSpeechChunk feeds the TTS layer. ok turns false when playback is done
// or was interrupted.
func (o *Orchestrator) NextSpeechChunk() (string, bool) {
	if o.speech == nil {
		return "", false
	}
	return o.speech.Advance()
}

// FinishSpeaking marks playback complete and returns the floor to the user.
func (o *Orchestrator) FinishSpeaking() {
	o.machine.OnPlaybackComplete()
	o.det.Reset()
	o.playbackSpeech = 0
	o.send(EventAgentFinished, nil)
}

func (o *Orchestrator) bargeIn() {
	o.det.Reset()
	o.playbackSpeech = 0
	spoken, remaining := o.speech.Interrupt()
	o.continuation = ContinuationNote(spoken, remaining)
	o.log.Info("barge_in", "spoken_chunks", len(spoken), "remaining_chunks", len(remaining))
	o.record("barge_in", time.Now(), map[string]string{"session_id": o.sessionID})
	o.send(EventBargeIn, map[string]any{
		"spoken_text":    JoinSentences(spoken),
		"remaining_text": JoinSentences(remaining),
	})
}

// Stop ends the conversation deliberately. Safe to call more than once.
func (o *Orchestrator) Stop(ctx context.Context) error {
	if o.machine.State().Terminal() {
		return nil
	}
	_ = o.machine.Complete("stopped by client")
	if err := o.store.Complete(ctx, o.sessionID); err != nil && errorsx.Reason(err) != errorsx.ReasonSessionNotFound {
		return err
	}
	o.send(EventStopped, nil)
	o.log.Info("session_stopped")
	return nil
}

// Expire ends the conversation for inactivity. Safe to call more than once.
func (o *Orchestrator) Expire(ctx context.Context) error {
	if o.machine.State().Terminal() {
		return nil
	}
	_ = o.machine.Expire("inactivity timeout")
	if err := o.store.Delete(ctx, o.sessionID); err != nil {
		return err
	}
	o.send(EventTimeout, nil)
	o.log.Info("session_expired")
	return nil
}

// StopListening force-closes the current turn, as if silence had elapsed.
func (o *Orchestrator) StopListening(ctx context.Context) error {
	if o.machine.State() != turn.StateListening {
		return nil
	}
	if len(o.turnAudio) == 0 {
		return nil
	}
	return o.endTurn(ctx)
}

func (o *Orchestrator) resolveCustomer(ctx context.Context, pr nlu.ParseResult) (resolver.CustomerResult, bool, error) {
	name := pr.EntityString(nlu.KeyCustomerName)
	if name == "" || !pr.Intent.Mutating() || pr.Intent == nlu.IntentCustomerCreate {
		return resolver.CustomerResult{}, false, nil
	}
	result, err := o.res.ResolveCustomer(ctx, o.businessID, name, pr.EntityString(nlu.KeyCustomerPhone))
	if err != nil {
		return resolver.CustomerResult{}, false, err
	}
	return result, result.Customer.Risky(), nil
}

func (o *Orchestrator) rememberEntities(ctx context.Context, sess *session.Session, pr nlu.ParseResult) error {
	if sess.ParsedState == nil {
		sess.ParsedState = map[string]any{}
	}
	if pr.Intent != nlu.IntentUnknown {
		sess.ParsedState["intent"] = string(pr.Intent)
	}
	for k, v := range pr.Entities {
		sess.ParsedState[k] = v
	}
	if err := o.store.Save(ctx, sess); err != nil {
		return o.fail(err, "Session save nahi hua.")
	}
	return nil
}

func (o *Orchestrator) fail(err error, spoken string) error {
	o.log.Error("turn_failed", "err", err, "reason", errorsx.Reason(err))
	o.sendError(spoken)
	return err
}

func (o *Orchestrator) send(eventType string, payload map[string]any) {
	o.emit(Event{Type: eventType, SessionID: o.sessionID, Payload: payload})
}

func (o *Orchestrator) sendError(message string) {
	o.send(EventError, map[string]any{"message": message})
}

func (o *Orchestrator) record(name string, started time.Time, tags map[string]string) {
	o.obs.RecordEvent(metrics.MetricsEvent{
		Name:  name,
		Time:  time.Now(),
		Value: float64(time.Since(started).Microseconds()),
		Tags:  tags,
	})
}
