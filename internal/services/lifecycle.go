package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/internal/database"
	"github.com/rtolen/vairify-dev-sub001/internal/metrics"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/pkg/clock"
	"github.com/rtolen/vairify-dev-sub001/pkg/config"
)

const (
	// maxSwapAttempts bounds how often a transition is re-planned after
	// losing a compare-and-swap to a concurrent writer.
	maxSwapAttempts = 3

	maxLocationTextLength = 500
	maxNotesLength        = 4000
	maxPhotoRefs          = 20
	maxResolveNoteLength  = 1000

	operatorTrailLimit = 200
)

// GuardianNotifier sends a trigger to a session's guardians at most once.
type GuardianNotifier interface {
	Notify(ctx context.Context, s *models.Session, trigger Trigger) (NotifyResult, error)
}

// ActivateParams is the input to Activate. Buffer zero means the configured
// default grace period.
type ActivateParams struct {
	OwnerID          uuid.UUID
	GuardianGroupIDs []uuid.UUID
	Duration         time.Duration
	Buffer           time.Duration
	Intel            models.Intel
}

// DisarmReceipt is the only thing a code submission ever returns. It is
// built from a single accepted flag so the real and duress codes produce
// byte-identical responses.
type DisarmReceipt struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

func disarmReceipt(accepted bool) DisarmReceipt {
	if accepted {
		return DisarmReceipt{Status: "disarmed", Message: "Session ended. Stay safe."}
	}
	return DisarmReceipt{Status: "rejected", Message: "Code not accepted. Try again."}
}

// OperatorView is everything an operator needs to act on a session.
type OperatorView struct {
	Session     *models.Session           `json:"session"`
	Description string                    `json:"description,omitempty"`
	Guardians   []*models.GuardianGroup   `json:"guardian_groups"`
	Events      []*models.EscalationEvent `json:"events"`
	EventsTotal int64                     `json:"events_total"`
}

// Lifecycle drives escort sessions through their state machine.
//
// Every state change is a compare-and-swap against the persisted state, so
// concurrent callers (a disarm racing the scheduler, two operators) never
// both apply a transition: the loser re-reads and re-plans against the new
// state, which usually turns its request into a no-op. Side effects
// (guardian fan-out, responder lookup, deadline bookkeeping) run only after
// the swap is durable.
type Lifecycle struct {
	store      Store
	queue      DeadlineQueue
	vault      *CodeVault
	notifier   GuardianNotifier
	responders ResponderLookup
	tracker    *Tracker
	runner     *Runner
	clock      clock.Clock
	cfg        config.EscortConfig
}

// NewLifecycle wires the controller. responders may be nil.
func NewLifecycle(
	store Store,
	queue DeadlineQueue,
	vault *CodeVault,
	notifier GuardianNotifier,
	responders ResponderLookup,
	runner *Runner,
	clk clock.Clock,
	cfg config.EscortConfig,
) *Lifecycle {
	return &Lifecycle{
		store:      store,
		queue:      queue,
		vault:      vault,
		notifier:   notifier,
		responders: responders,
		tracker:    NewTracker(store, clk),
		runner:     runner,
		clock:      clk,
		cfg:        cfg,
	}
}

// Activate starts a monitored session for the owner.
//
// Returns a ValidationError for bad input or missing codes, and a
// ConflictError when the owner already has a session that is not resolved.
func (l *Lifecycle) Activate(ctx context.Context, p ActivateParams) (*models.Session, error) {
	groupIDs, err := l.validateActivation(ctx, &p)
	if err != nil {
		return nil, err
	}

	if open, err := l.store.GetOpenSessionByOwner(ctx, p.OwnerID); err == nil {
		return nil, conflict("session %s is still open", open.ID)
	} else if !errors.Is(err, database.ErrNotFound) {
		return nil, fmt.Errorf("failed to check open sessions: %w", err)
	}

	now := l.clock.Now()
	s := &models.Session{
		ID:               uuid.New(),
		OwnerID:          p.OwnerID,
		State:            models.StateDraft,
		CreatedAt:        now,
		ScheduledEndAt:   now.Add(p.Duration),
		BufferEndAt:      now.Add(p.Duration + p.Buffer),
		GuardianGroupIDs: groupIDs,
		Intel:            p.Intel,
		UpdatedAt:        now,
	}

	t := models.Transition{SessionID: s.ID, From: models.StateDraft, To: models.StateActive, At: now}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	t.Apply(s)

	if err := l.store.InsertSession(ctx, s); err != nil {
		if errors.Is(err, database.ErrDuplicate) {
			return nil, conflict("owner already has an open session")
		}
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	metrics.RecordTransition(string(models.StateDraft), string(models.StateActive))

	log.Info().
		Str("session_id", s.ID.String()).
		Str("owner_id", s.OwnerID.String()).
		Time("scheduled_end_at", s.ScheduledEndAt).
		Time("buffer_end_at", s.BufferEndAt).
		Int("guardian_groups", len(groupIDs)).
		Msg("Escort session activated")

	l.scheduleDeadlines(ctx, s)
	l.notifyAsync(s, TriggerSessionStart)
	l.lookupResponderAsync(s)

	return s, nil
}

func (l *Lifecycle) validateActivation(ctx context.Context, p *ActivateParams) ([]uuid.UUID, error) {
	if p.OwnerID == uuid.Nil {
		return nil, invalid("owner_id", "is required")
	}
	if p.Duration <= 0 {
		return nil, invalid("duration", "must be positive")
	}
	if l.cfg.MaxDuration > 0 && p.Duration > l.cfg.MaxDuration {
		return nil, invalid("duration", "must not exceed %s", l.cfg.MaxDuration)
	}
	switch {
	case p.Buffer < 0:
		return nil, invalid("buffer", "must not be negative")
	case p.Buffer == 0:
		p.Buffer = l.cfg.DefaultBuffer
	}
	if p.Buffer <= 0 {
		return nil, invalid("buffer", "must be positive")
	}
	if err := validateIntel(p.Intel); err != nil {
		return nil, err
	}

	groupIDs := dedupeIDs(p.GuardianGroupIDs)
	if len(groupIDs) == 0 {
		return nil, invalid("guardian_group_ids", "at least one guardian group is required")
	}

	groups, err := l.store.GetGroups(ctx, groupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load guardian groups: %w", err)
	}
	if len(groups) != len(groupIDs) {
		return nil, invalid("guardian_group_ids", "unknown guardian group")
	}
	guardians := 0
	for _, g := range groups {
		if g.OwnerID != p.OwnerID {
			return nil, invalid("guardian_group_ids", "unknown guardian group")
		}
		guardians += len(g.Guardians)
	}
	if guardians == 0 {
		return nil, invalid("guardian_group_ids", "selected groups have no guardians")
	}

	hasCodes, err := l.vault.HasCodes(ctx, p.OwnerID)
	if err != nil {
		return nil, err
	}
	if !hasCodes {
		return nil, invalid("safety_codes", "must be set before starting a session")
	}

	return groupIDs, nil
}

func validateIntel(in models.Intel) error {
	if utf8.RuneCountInString(in.LocationText) > maxLocationTextLength {
		return invalid("intel.location_text", "must be at most %d characters", maxLocationTextLength)
	}
	if utf8.RuneCountInString(in.Notes) > maxNotesLength {
		return invalid("intel.notes", "must be at most %d characters", maxNotesLength)
	}
	if len(in.PhotoRefs) > maxPhotoRefs {
		return invalid("intel.photo_refs", "at most %d photos", maxPhotoRefs)
	}
	if in.Coordinates != nil {
		if err := in.Coordinates.Validate(); err != nil {
			return invalid("intel.coordinates", "%s", err.Error())
		}
	}
	if in.LocationText == "" && in.Coordinates == nil {
		return invalid("intel", "location_text or coordinates is required")
	}
	return nil
}

func dedupeIDs(ids []uuid.UUID) []uuid.UUID {
	seen := make(map[uuid.UUID]bool, len(ids))
	out := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		if id == uuid.Nil || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

// CheckIn records an owner heartbeat. The session state never changes.
func (l *Lifecycle) CheckIn(ctx context.Context, ownerID, sessionID uuid.UUID, params HeartbeatParams) error {
	return l.tracker.Heartbeat(ctx, ownerID, sessionID, params)
}

// RecordLocation stores a GPS fix from the owner's device.
func (l *Lifecycle) RecordLocation(ctx context.Context, ownerID, sessionID uuid.UUID, point models.GeoPoint, userAgent string) error {
	return l.tracker.RecordLocation(ctx, ownerID, sessionID, point, userAgent)
}

// Disarm checks a submitted code.
//
// The real code resolves the session and the duress code silently
// escalates it, but the caller gets the same receipt either way. A wrong
// code, or any failure along the way, yields the "try again" receipt. A
// matching code on a session that has already left its monitoring window
// is acknowledged without changing anything.
func (l *Lifecycle) Disarm(ctx context.Context, ownerID, sessionID uuid.UUID, code string) (DisarmReceipt, error) {
	if code == "" {
		return DisarmReceipt{}, invalid("code", "is required")
	}
	if _, err := l.ownedSession(ctx, ownerID, sessionID); err != nil {
		return DisarmReceipt{}, err
	}

	outcome, err := l.vault.Verify(ctx, ownerID, code)
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Code verification failed")
		metrics.RecordDisarmAttempt("error")
		return disarmReceipt(false), nil
	}

	var endedVia models.EndedVia
	switch outcome {
	case models.MatchDisarm:
		endedVia = models.EndedViaDisarm
	case models.MatchDecoy:
		endedVia = models.EndedViaDecoy
	default:
		metrics.RecordDisarmAttempt("no_match")
		log.Info().Str("session_id", sessionID.String()).Msg("Disarm code not accepted")
		return disarmReceipt(false), nil
	}

	_, _, err = l.transition(ctx, sessionID, func(s *models.Session) (*models.Transition, error) {
		if !s.State.IsMonitored() {
			return nil, nil
		}
		return l.endMonitoring(s, endedVia), nil
	})
	if err != nil {
		log.Error().Err(err).Str("session_id", sessionID.String()).Msg("Failed to apply disarm")
		metrics.RecordDisarmAttempt("error")
		return disarmReceipt(false), nil
	}

	metrics.RecordDisarmAttempt("accepted")
	return disarmReceipt(true), nil
}

// Panic escalates the session immediately. It is a no-op on a session that
// is already escalated or resolved.
func (l *Lifecycle) Panic(ctx context.Context, ownerID, sessionID uuid.UUID) (*models.Session, error) {
	if _, err := l.ownedSession(ctx, ownerID, sessionID); err != nil {
		return nil, err
	}

	s, _, err := l.transition(ctx, sessionID, func(s *models.Session) (*models.Transition, error) {
		if !s.State.IsMonitored() {
			return nil, nil
		}
		return l.endMonitoring(s, models.EndedViaPanic), nil
	})
	if err != nil {
		return nil, err
	}
	return s.OwnerView(), nil
}

// SchedulerTimeout advances a session whose deadlines have passed:
// active -> buffer_grace at the scheduled end, buffer_grace -> escalated at
// the buffer end. Both steps run in one call when both are overdue. A call
// before any deadline is a no-op.
//
// A session that does not exist is an IntegrityError: the deadline queue
// refers to something the store never had or lost.
func (l *Lifecycle) SchedulerTimeout(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	var s *models.Session
	for step := 0; step < 2; step++ {
		var applied bool
		var err error
		s, applied, err = l.transition(ctx, sessionID, func(s *models.Session) (*models.Transition, error) {
			now := l.clock.Now()
			switch {
			case s.State == models.StateActive && !now.Before(s.ScheduledEndAt):
				return &models.Transition{
					SessionID: s.ID,
					From:      models.StateActive,
					To:        models.StateBufferGrace,
					At:        now,
				}, nil
			case s.State == models.StateBufferGrace && !now.Before(s.BufferEndAt):
				return l.endMonitoring(s, models.EndedViaTimerExpiration), nil
			}
			return nil, nil
		})
		if err != nil {
			if isNotFound(err) {
				return nil, &IntegrityError{Message: fmt.Sprintf("deadline for unknown session %s", sessionID), Err: err}
			}
			return nil, err
		}
		if !applied {
			break
		}
	}
	return s, nil
}

// OperatorResolve closes an escalated session. Resolving an already
// resolved session is a no-op; resolving one that never escalated is a
// ConflictError, since only the owner can end a monitoring window.
func (l *Lifecycle) OperatorResolve(ctx context.Context, operatorID, sessionID uuid.UUID, note string) (*models.Session, error) {
	if utf8.RuneCountInString(note) > maxResolveNoteLength {
		return nil, invalid("note", "must be at most %d characters", maxResolveNoteLength)
	}

	s, _, err := l.transition(ctx, sessionID, func(s *models.Session) (*models.Transition, error) {
		switch s.State {
		case models.StateResolved:
			return nil, nil
		case models.StateEscalated:
			via := models.EndedViaOperatorResolved
			return &models.Transition{
				SessionID:   s.ID,
				From:        models.StateEscalated,
				To:          models.StateResolved,
				ResolvedVia: &via,
				At:          l.clock.Now(),
			}, nil
		}
		return nil, conflict("session is %s; only escalated sessions can be resolved by an operator", s.State)
	}, withResolveDetails(operatorID, note))
	if err != nil {
		return nil, err
	}
	return s, nil
}

// GetSessionState returns the owner's session as the owner may see it.
func (l *Lifecycle) GetSessionState(ctx context.Context, ownerID, sessionID uuid.UUID) (*models.Session, error) {
	s, err := l.ownedSession(ctx, ownerID, sessionID)
	if err != nil {
		return nil, err
	}

	view := s.OwnerView()
	if !s.EndedByDecoy() {
		return view, nil
	}

	// Fixes keep arriving after a duress escalation; the owner only sees
	// the ones a disarmed session would have kept.
	trail, err := l.ownerTrail(ctx, s)
	if err != nil {
		return nil, err
	}
	view.LastGPS = lastFix(trail)
	return view, nil
}

// ListAuditTrail returns a page of the session's events as the owner may
// see them, oldest first.
func (l *Lifecycle) ListAuditTrail(ctx context.Context, ownerID, sessionID uuid.UUID, limit, offset int) ([]*models.EscalationEvent, int64, error) {
	s, err := l.ownedSession(ctx, ownerID, sessionID)
	if err != nil {
		return nil, 0, err
	}

	if !s.EndedByDecoy() {
		events, total, err := l.store.ListEvents(ctx, sessionID, nil, limit, offset)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list events: %w", err)
		}
		return events, total, nil
	}

	trail, err := l.ownerTrail(ctx, s)
	if err != nil {
		return nil, 0, err
	}
	total := int64(len(trail))
	start := min(max(offset, 0), len(trail))
	end := min(start+max(limit, 0), len(trail))
	return trail[start:end], total, nil
}

// ownerTrail loads the complete trail of s and rewrites it for the owner.
func (l *Lifecycle) ownerTrail(ctx context.Context, s *models.Session) ([]*models.EscalationEvent, error) {
	var all []*models.EscalationEvent
	for {
		batch, total, err := l.store.ListEvents(ctx, s.ID, nil, operatorTrailLimit, len(all))
		if err != nil {
			return nil, fmt.Errorf("failed to list events: %w", err)
		}
		all = append(all, batch...)
		if len(batch) == 0 || int64(len(all)) >= total {
			break
		}
	}
	return s.OwnerTrail(all), nil
}

// lastFix is the newest GPS point in trail, or nil.
func lastFix(trail []*models.EscalationEvent) *models.GeoPoint {
	for i := len(trail) - 1; i >= 0; i-- {
		if trail[i].Type != models.EventGPSUpdate {
			continue
		}
		var p gpsPayload
		if err := json.Unmarshal(trail[i].Payload, &p); err == nil && p.Point != nil {
			return p.Point
		}
	}
	return nil
}

// OperatorView aggregates a session with its guardians and audit trail.
func (l *Lifecycle) OperatorView(ctx context.Context, sessionID uuid.UUID) (*OperatorView, error) {
	s, err := l.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeErr(err, "session")
	}

	groups, err := l.store.GetGroups(ctx, s.GuardianGroupIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load guardian groups: %w", err)
	}

	events, total, err := l.store.ListEvents(ctx, sessionID, nil, operatorTrailLimit, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}

	view := &OperatorView{
		Session:     s,
		Guardians:   groups,
		Events:      events,
		EventsTotal: total,
	}
	if s.EndedVia != nil {
		view.Description = s.EndedVia.Describe()
	}
	return view, nil
}

// ListEscalated is the operator work queue: escalated sessions, oldest
// deadline first.
func (l *Lifecycle) ListEscalated(ctx context.Context, limit, offset int) ([]*models.Session, int64, error) {
	sessions, total, err := l.store.ListSessionsInStates(ctx, []models.State{models.StateEscalated}, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list escalated sessions: %w", err)
	}
	return sessions, total, nil
}

// RedeliverEscalations sends the escalation notice for every escalated
// session whose guardians have no record of it, which happens when the
// fan-out failed or the process stopped after the state change was
// committed. Notify is idempotent, so racing a fan-out still in flight
// sends nothing twice. Returns how many sessions were notified.
func (l *Lifecycle) RedeliverEscalations(ctx context.Context) (int, error) {
	var pending []*models.Session
	for offset := 0; ; offset += operatorTrailLimit {
		sessions, total, err := l.store.ListSessionsInStates(ctx, []models.State{models.StateEscalated}, operatorTrailLimit, offset)
		if err != nil {
			return 0, fmt.Errorf("failed to list escalated sessions: %w", err)
		}
		for _, s := range sessions {
			notified, err := l.escalationNotified(ctx, s.ID)
			if err != nil {
				return 0, err
			}
			if !notified {
				pending = append(pending, s)
			}
		}
		if len(sessions) == 0 || int64(offset+len(sessions)) >= total {
			break
		}
	}

	sent := 0
	for _, s := range pending {
		result, err := l.notifier.Notify(ctx, s, TriggerEscalation)
		if err != nil {
			log.Error().Err(err).Str("session_id", s.ID.String()).Msg("Escalation redelivery failed")
			continue
		}
		if !result.Duplicate {
			sent++
			log.Warn().Str("session_id", s.ID.String()).Msg("Escalation notice redelivered")
		}
	}
	return sent, nil
}

func (l *Lifecycle) escalationNotified(ctx context.Context, sessionID uuid.UUID) (bool, error) {
	events, _, err := l.store.ListEvents(ctx, sessionID, []models.EventType{models.EventGuardianNotified}, operatorTrailLimit, 0)
	if err != nil {
		return false, fmt.Errorf("failed to list events: %w", err)
	}
	for _, ev := range events {
		if ev.DedupeKey == TriggerEscalation.DedupeKey() {
			return true, nil
		}
	}
	return false, nil
}

// endMonitoring builds the transition that closes the monitoring window
// for the given reason.
func (l *Lifecycle) endMonitoring(s *models.Session, via models.EndedVia) *models.Transition {
	t := &models.Transition{
		SessionID: s.ID,
		From:      s.State,
		EndedVia:  &via,
		At:        l.clock.Now(),
	}
	if via.Escalates() {
		t.To = models.StateEscalated
	} else {
		t.To = models.StateResolved
		t.ResolvedVia = &via
	}
	return t
}

// planFunc decides the transition for the session as currently stored. A
// nil transition means there is nothing to do.
type planFunc func(s *models.Session) (*models.Transition, error)

type transitionOptions struct {
	operatorID uuid.UUID
	note       string
}

type transitionOption func(*transitionOptions)

func withResolveDetails(operatorID uuid.UUID, note string) transitionOption {
	return func(o *transitionOptions) {
		o.operatorID = operatorID
		o.note = note
	}
}

// transition loads the session, plans, and swaps. On a lost swap it
// reloads and plans again. Returns the session after the call and whether
// this call changed it.
func (l *Lifecycle) transition(ctx context.Context, sessionID uuid.UUID, plan planFunc, opts ...transitionOption) (*models.Session, bool, error) {
	var o transitionOptions
	for _, opt := range opts {
		opt(&o)
	}

	for attempt := 1; attempt <= maxSwapAttempts; attempt++ {
		s, err := l.store.GetSession(ctx, sessionID)
		if err != nil {
			return nil, false, storeErr(err, "session")
		}

		t, err := plan(s)
		if err != nil {
			return nil, false, err
		}
		if t == nil {
			return s, false, nil
		}
		if err := t.Validate(); err != nil {
			return nil, false, &IntegrityError{Message: "invalid transition planned", Err: err}
		}

		ev, err := transitionEvent(*t, o)
		if err != nil {
			return nil, false, err
		}

		applied, err := l.store.ApplyTransition(ctx, *t, ev)
		if err != nil {
			return nil, false, storeErr(err, "session")
		}
		if !applied {
			log.Debug().
				Str("session_id", sessionID.String()).
				Str("from", string(t.From)).
				Int("attempt", attempt).
				Msg("Session changed concurrently, re-planning")
			continue
		}

		t.Apply(s)
		l.afterTransition(ctx, s, *t)
		return s, true, nil
	}

	return nil, false, conflict("session %s is changing concurrently", sessionID)
}

// transitionEvent is the audit record appended with t. Entering the grace
// period is not audited.
func transitionEvent(t models.Transition, o transitionOptions) (*models.EscalationEvent, error) {
	switch t.To {
	case models.StateEscalated:
		return models.NewEvent(t.SessionID, models.EventEscalated, models.EscalatedPayload{
			From:        t.From,
			EndedVia:    *t.EndedVia,
			Description: t.EndedVia.Describe(),
		}, t.At)
	case models.StateResolved:
		p := models.ResolvedPayload{From: t.From, ResolvedVia: *t.ResolvedVia, Note: o.note}
		if o.operatorID != uuid.Nil {
			id := o.operatorID
			p.OperatorID = &id
		}
		return models.NewEvent(t.SessionID, models.EventResolved, p, t.At)
	}
	return nil, nil
}

func (l *Lifecycle) afterTransition(ctx context.Context, s *models.Session, t models.Transition) {
	metrics.RecordTransition(string(t.From), string(t.To))

	if t.To.IsMonitored() {
		return
	}

	if err := l.queue.CancelDeadlines(ctx, s.ID); err != nil {
		log.Warn().Err(err).Str("session_id", s.ID.String()).Msg("Failed to cancel deadlines")
	}

	if t.To == models.StateEscalated {
		metrics.RecordEscalation(string(*t.EndedVia))
		log.Warn().
			Str("session_id", s.ID.String()).
			Str("ended_via", string(*t.EndedVia)).
			Msg("Escort session escalated")
		l.notifyAsync(s, TriggerEscalation)
	}
}

// scheduleDeadlines enqueues the session's pending deadlines. A failure is
// only logged: reconciliation re-enqueues from the store.
func (l *Lifecycle) scheduleDeadlines(ctx context.Context, s *models.Session) {
	for _, d := range models.DeadlinesFor(s) {
		if err := l.queue.ScheduleDeadline(ctx, d); err != nil {
			log.Error().
				Err(err).
				Str("session_id", s.ID.String()).
				Str("phase", string(d.Phase)).
				Msg("Failed to schedule deadline")
		}
	}
}

func (l *Lifecycle) notifyAsync(s *models.Session, trigger Trigger) {
	snapshot := *s
	l.runner.Go("notify_"+string(trigger), func(ctx context.Context) {
		if _, err := l.notifier.Notify(ctx, &snapshot, trigger); err != nil {
			log.Error().
				Err(err).
				Str("session_id", snapshot.ID.String()).
				Str("trigger", string(trigger)).
				Msg("Guardian notification failed")
		}
	})
}

func (l *Lifecycle) lookupResponderAsync(s *models.Session) {
	if l.responders == nil || s.Intel.Coordinates == nil {
		return
	}
	sessionID, point := s.ID, *s.Intel.Coordinates

	l.runner.Go("responder_lookup", func(ctx context.Context) {
		r, err := l.responders.Nearest(ctx, point)
		if err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Nearest responder lookup failed")
			return
		}
		if r == nil {
			log.Debug().Str("session_id", sessionID.String()).Msg("No responder in range")
			return
		}
		if err := l.store.SetNearestResponder(ctx, sessionID, *r); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID.String()).Msg("Failed to store nearest responder")
		}
	})
}

func (l *Lifecycle) ownedSession(ctx context.Context, ownerID, sessionID uuid.UUID) (*models.Session, error) {
	return l.tracker.ownedSession(ctx, ownerID, sessionID)
}
