// Package engine is the session-scoped event/marker synchronisation engine.
//
// The engine keeps two logs for the live [Session]: the event log, ordered by
// a sequence id assigned at the instant an event is recorded, and the answer
// log. Events that carry a marker code are additionally handed to a
// [Dispatcher] on their own goroutine. The dispatch outcome is written back
// onto the already-appended entry, addressed by session epoch and sequence
// id, so slow or failing deliveries never reorder or block the log.
//
// Collaborator calls are serialised by a single mutex; the sequence counter,
// the timestamp and the append form one critical section.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/MrWong99/triggersync/internal/observe"
	"github.com/MrWong99/triggersync/pkg/marker"
)

// Event names recorded by the engine itself.
const (
	EventSessionStart    = marker.EventSessionStart
	EventQuestionShown   = marker.EventQuestionShown
	EventAnswerSubmitted = marker.EventAnswerSubmitted
	EventEmergencyStop   = marker.EventEmergencyStop
	EventExportInitiated = marker.EventExportInitiated
	EventExportCompleted = "EXPORT_COMPLETED"
)

// DefaultStopReason is recorded by [Engine.EmergencyStop] when no reason is
// given.
const DefaultStopReason = "Manual stop by experimenter"

// Dispatcher delivers one marker to the acquisition side. A nil error means
// the trigger was written. [bridge.Client] is the production implementation.
type Dispatcher interface {
	Dispatch(ctx context.Context, code marker.Code, name string, details json.RawMessage) error
}

// Option configures an [Engine].
type Option func(*Engine)

// WithChecker replaces the answer checker. Defaults to [CheckAnswer].
func WithChecker(c Checker) Option {
	return func(e *Engine) { e.checker = c }
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithMetrics sets the metrics sink. Defaults to [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithDispatchEnabled sets the initial dispatch flag. Defaults to true.
func WithDispatchEnabled(on bool) Option {
	return func(e *Engine) { e.dispatching.Store(on) }
}

// Engine owns the live session and its logs.
type Engine struct {
	dispatcher  Dispatcher
	checker     Checker
	now         func() time.Time
	metrics     *observe.Metrics
	dispatching atomic.Bool

	mu       sync.Mutex
	session  *Session
	epoch    uint64
	nextSeq  int
	events   []Event
	answers  []Answer
	shownAt  map[string]int64
	shownSeq map[string]int

	// inflight holds every dispatch not yet resolved, across sessions.
	inflight map[*pending]struct{}
	// counted is set while the live session is reflected in the
	// active-sessions gauge.
	counted bool
}

// New creates an engine dispatching through d. A nil dispatcher records
// marker codes without sending them.
func New(d Dispatcher, opts ...Option) *Engine {
	e := &Engine{
		dispatcher: d,
		checker:    CheckAnswer,
		now:        time.Now,
		nextSeq:    1,
		shownAt:    make(map[string]int64),
		shownSeq:   make(map[string]int),
		inflight:   make(map[*pending]struct{}),
	}
	e.dispatching.Store(true)
	for _, o := range opts {
		o(e)
	}
	if e.metrics == nil {
		e.metrics = observe.DefaultMetrics()
	}
	return e
}

// SetDispatchEnabled toggles marker dispatch. Events recorded while disabled
// keep their code but are never sent.
func (e *Engine) SetDispatchEnabled(on bool) {
	if e.dispatching.Swap(on) != on {
		slog.Info("engine: marker dispatch toggled", "enabled", on)
	}
}

// DispatchEnabled reports the current dispatch flag.
func (e *Engine) DispatchEnabled() bool {
	return e.dispatching.Load()
}

// pending is a dispatch prepared under the lock and started after it.
type pending struct {
	epoch   uint64
	seq     int
	code    marker.Code
	name    string
	details json.RawMessage
	done    chan struct{}
}

// StartSession discards all logs and begins a new session. It records
// SESSION_START with the session-start marker.
func (e *Engine) StartSession(ctx context.Context, participantID string, group int, testMode bool) (Session, error) {
	if strings.TrimSpace(participantID) == "" {
		return Session{}, fmt.Errorf("engine: start session: %w", ErrInvalidParticipant)
	}
	if group < 1 || group > len(groupConfigs) {
		return Session{}, fmt.Errorf("engine: start session: group %d: %w", group, ErrInvalidGroup)
	}

	now := e.now()
	details, err := json.Marshal(map[string]any{
		"pid":        participantID,
		"group":      group,
		"isTest":     testMode,
		"systemTime": now.UTC().Format(time.RFC3339Nano),
	})
	if err != nil {
		return Session{}, fmt.Errorf("engine: encode session details: %w", err)
	}

	e.mu.Lock()
	count := !e.counted
	e.counted = true
	e.epoch++
	e.session = &Session{
		ID:            uuid.NewString(),
		ParticipantID: participantID,
		Group:         group,
		TestMode:      testMode,
		StartedAt:     now,
	}
	e.nextSeq = 1
	e.events = nil
	e.answers = nil
	clear(e.shownAt)
	clear(e.shownSeq)
	p, _ := e.appendLocked(now, EventSessionStart, details, marker.SessionStart)
	sess := *e.session
	e.mu.Unlock()

	if count {
		e.metrics.ActiveSessions.Add(ctx, 1)
	}
	e.metrics.RecordEvent(ctx, EventSessionStart)
	e.startDispatch(ctx, p)

	observe.Logger(ctx).Info("engine: session started",
		"session_id", sess.ID,
		"participant", participantID,
		"group", group,
		"test_mode", testMode,
	)
	return sess, nil
}

// RecordEvent appends an event and returns its sequence id. A code of 0
// means the event carries no marker. Delivery problems never surface here.
func (e *Engine) RecordEvent(ctx context.Context, name string, details any, code marker.Code) (int, error) {
	raw, err := encodeDetails(details)
	if err != nil {
		return 0, fmt.Errorf("engine: record %s: %w", name, err)
	}

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return 0, fmt.Errorf("engine: record %s: %w", name, ErrNoSession)
	}
	p, seq := e.appendLocked(e.now(), name, raw, code)
	e.mu.Unlock()

	e.metrics.RecordEvent(ctx, name)
	e.startDispatch(ctx, p)
	return seq, nil
}

// MarkItemShown remembers when itemID was shown and records QUESTION_SHOWN
// with the item's shown marker.
func (e *Engine) MarkItemShown(ctx context.Context, stage marker.Stage, itemID string) (int, error) {
	if !stage.IsValid() {
		return 0, fmt.Errorf("engine: mark shown %q: stage %q: %w", itemID, stage, ErrInvalidStage)
	}
	e.warnOutOfDomain(ctx, itemID)

	now := e.now()
	code := marker.ShownCode(stage, itemID)
	raw, err := json.Marshal(map[string]any{
		"stage":      stage,
		"questionId": itemID,
		"timestamp":  now.UnixMilli(),
	})
	if err != nil {
		return 0, fmt.Errorf("engine: encode shown details: %w", err)
	}

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return 0, fmt.Errorf("engine: mark shown %q: %w", itemID, ErrNoSession)
	}
	p, seq := e.appendLocked(now, EventQuestionShown, raw, code)
	e.shownAt[itemID] = now.UnixMilli()
	e.shownSeq[itemID] = seq
	e.mu.Unlock()

	e.metrics.RecordEvent(ctx, EventQuestionShown)
	e.startDispatch(ctx, p)
	return seq, nil
}

// SubmitAnswer checks input against item, appends an answer record and
// records ANSWER_SUBMITTED. Latency is measured from the remembered shown
// time; an item never marked as shown gets latency 0.
func (e *Engine) SubmitAnswer(ctx context.Context, stage marker.Stage, item Item, input string) (bool, error) {
	if !stage.IsValid() {
		return false, fmt.Errorf("engine: submit %q: stage %q: %w", item.ID, stage, ErrInvalidStage)
	}
	e.warnOutOfDomain(ctx, item.ID)

	correct := e.checker(item, input)
	now := e.now()
	submitted := now.UnixMilli()

	e.mu.Lock()
	if e.session == nil {
		e.mu.Unlock()
		return false, fmt.Errorf("engine: submit %q: %w", item.ID, ErrNoSession)
	}

	shown, ok := e.shownAt[item.ID]
	if !ok {
		shown = submitted
	}
	if shown > submitted {
		// Wall clock stepped backwards between shown and submit.
		observe.Logger(ctx).Warn("engine: clock moved backwards; clamping shown time",
			"item", item.ID, "shown", shown, "submitted", submitted)
		shown = submitted
	}
	latency := submitted - shown

	raw, err := json.Marshal(map[string]any{
		"stage":          stage,
		"questionId":     item.ID,
		"correct":        correct,
		"responseTimeMs": latency,
	})
	if err != nil {
		e.mu.Unlock()
		return false, fmt.Errorf("engine: encode answer details: %w", err)
	}

	ans := Answer{
		ParticipantID:      e.session.ParticipantID,
		Stage:              stage,
		ItemID:             item.ID,
		ItemText:           item.Text,
		Input:              input,
		Correct:            correct,
		TimestampShown:     shown,
		TimestampSubmitted: submitted,
		ResponseMs:         latency,
		MarkerShown:        marker.ShownCode(stage, item.ID),
		MarkerSubmitted:    marker.SubmittedCode(stage, item.ID),
		ShownSeq:           e.shownSeq[item.ID],
	}
	p, seq := e.appendLocked(now, EventAnswerSubmitted, raw, ans.MarkerSubmitted)
	ans.SubmittedSeq = seq
	e.answers = append(e.answers, ans)
	e.mu.Unlock()

	e.metrics.RecordEvent(ctx, EventAnswerSubmitted)
	e.metrics.RecordAnswer(ctx, string(stage), correct)
	e.startDispatch(ctx, p)
	return correct, nil
}

// EmergencyStop records EMERGENCY_STOP with the session-end marker. The logs
// stay intact so the session can still be exported.
func (e *Engine) EmergencyStop(ctx context.Context, reason string) (int, error) {
	if reason == "" {
		reason = DefaultStopReason
	}
	seq, err := e.RecordEvent(ctx, EventEmergencyStop, map[string]string{"reason": reason}, marker.SessionEnd)
	if err != nil {
		return 0, err
	}
	observe.Logger(ctx).Warn("engine: emergency stop", "reason", reason, "seq", seq)
	return seq, nil
}

// Session returns the live session, if any.
func (e *Engine) Session() (Session, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.session == nil {
		return Session{}, false
	}
	return *e.session, true
}

// Config returns the counterbalancing configuration of the live session.
func (e *Engine) Config() (GroupConfig, error) {
	sess, ok := e.Session()
	if !ok {
		return GroupConfig{}, fmt.Errorf("engine: config: %w", ErrNoSession)
	}
	return ConfigForGroup(sess.Group)
}

// Stats summarises the current logs. It does not modify state.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()

	var s Stats
	var total int64
	for _, a := range e.answers {
		if a.Correct {
			s.CorrectAnswers++
		}
		total += a.ResponseMs
	}
	s.TotalAnswers = len(e.answers)
	if s.TotalAnswers > 0 {
		s.AverageResponseMs = int64(math.Round(float64(total) / float64(s.TotalAnswers)))
	}
	s.TotalEvents = len(e.events)
	for _, ev := range e.events {
		switch ev.Delivery {
		case DeliveryUndelivered:
			s.MarkersPending++
		case DeliveryDelivered:
			s.MarkersDelivered++
		case DeliveryFailed:
			s.MarkersFailed++
		}
	}
	return s
}

// Snapshot returns deep copies of the session and both logs.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		Events:  make([]Event, len(e.events)),
		Answers: make([]Answer, len(e.answers)),
	}
	if e.session != nil {
		s := *e.session
		snap.Session = &s
	}
	for i, ev := range e.events {
		ev.Details = append(json.RawMessage(nil), ev.Details...)
		snap.Events[i] = ev
	}
	copy(snap.Answers, e.answers)
	return snap
}

// Wait blocks until every dispatch started before the call has resolved or
// ctx is done. Dispatches started while waiting are not waited for.
func (e *Engine) Wait(ctx context.Context) error {
	e.mu.Lock()
	waits := make([]chan struct{}, 0, len(e.inflight))
	for p := range e.inflight {
		waits = append(waits, p.done)
	}
	e.mu.Unlock()

	for _, done := range waits {
		select {
		case <-done:
		case <-ctx.Done():
			return fmt.Errorf("engine: wait for dispatches: %w", ctx.Err())
		}
	}
	return nil
}

// Close waits for in-flight dispatches and marks the session inactive for
// metrics. The logs remain readable. Calling it again, or before any
// session, leaves the gauge untouched.
func (e *Engine) Close(ctx context.Context) error {
	err := e.Wait(ctx)
	e.mu.Lock()
	uncount := e.counted
	e.counted = false
	e.mu.Unlock()
	if uncount {
		e.metrics.ActiveSessions.Add(context.WithoutCancel(ctx), -1)
	}
	return err
}

// appendLocked appends one event and, when it needs a dispatch, registers it
// in the in-flight set. Callers hold e.mu.
func (e *Engine) appendLocked(at time.Time, name string, details json.RawMessage, code marker.Code) (*pending, int) {
	seq := e.nextSeq
	e.nextSeq++
	ts := at.UnixMilli()
	ev := Event{
		Seq:          seq,
		Timestamp:    ts,
		ReadableTime: readableTime(ts),
		Name:         name,
		Details:      details,
		MarkerCode:   code,
	}

	var p *pending
	if code > 0 && e.dispatcher != nil && e.dispatching.Load() {
		ev.Delivery = DeliveryUndelivered
		p = &pending{epoch: e.epoch, seq: seq, code: code, name: name, details: details, done: make(chan struct{})}
		e.inflight[p] = struct{}{}
	}
	e.events = append(e.events, ev)
	return p, seq
}

// startDispatch runs one delivery attempt on its own goroutine. The attempt
// is detached from ctx cancellation and bounded only by the dispatcher's
// transport timeouts.
func (e *Engine) startDispatch(ctx context.Context, p *pending) {
	if p == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	e.metrics.DispatchStarted(ctx)

	go func() {
		defer e.finish(p)

		ctx, span := observe.StartSpan(ctx, "engine.dispatch")
		span.SetAttributes(observe.MarkerAttrs(int(p.code), p.name)...)
		defer span.End()

		start := time.Now()
		err := e.dispatcher.Dispatch(ctx, p.code, p.name, p.details)

		outcome := DeliveryDelivered
		if err != nil {
			outcome = DeliveryFailed
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			observe.Logger(ctx).Warn("engine: marker delivery failed",
				"code", int(p.code),
				"name", p.name,
				"seq", p.seq,
				"err", err,
			)
		}
		e.metrics.DispatchResolved(ctx, string(outcome), time.Since(start))
		e.resolve(ctx, p, outcome)
	}()
}

// finish drops p from the in-flight set and releases its waiters.
func (e *Engine) finish(p *pending) {
	e.mu.Lock()
	delete(e.inflight, p)
	e.mu.Unlock()
	close(p.done)
}

// resolve patches the delivery outcome of the entry p refers to. Outcomes
// for a previous session, or for entries already resolved, are dropped.
func (e *Engine) resolve(ctx context.Context, p *pending, outcome Delivery) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if p.epoch != e.epoch {
		observe.Logger(ctx).Debug("engine: dropping delivery outcome from previous session",
			"seq", p.seq, "outcome", outcome)
		return
	}
	i := p.seq - 1
	if i < 0 || i >= len(e.events) {
		return
	}
	if e.events[i].Delivery != DeliveryUndelivered {
		return
	}
	e.events[i].Delivery = outcome
}

func (e *Engine) warnOutOfDomain(ctx context.Context, itemID string) {
	if !marker.InDomain(itemID) {
		n, _ := marker.ItemNumber(itemID)
		observe.Logger(ctx).Warn("engine: item id outside marker domain; code may collide",
			"item", itemID,
			"item_number", n,
			"max_item", marker.MaxItem,
		)
	}
}

func encodeDetails(details any) (json.RawMessage, error) {
	switch d := details.(type) {
	case nil:
		return json.RawMessage("{}"), nil
	case json.RawMessage:
		if len(d) == 0 {
			return json.RawMessage("{}"), nil
		}
		if !json.Valid(d) {
			return nil, errors.New("details are not valid JSON")
		}
		return append(json.RawMessage(nil), d...), nil
	}
	raw, err := json.Marshal(details)
	if err != nil {
		return nil, fmt.Errorf("encode details: %w", err)
	}
	return raw, nil
}
