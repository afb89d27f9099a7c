// Package models defines the core domain models for escort sessions.
// These models represent the data structures shared by the store, the
// lifecycle controller, the scheduler and the HTTP layer.
//
// Secret material (code hashes) is tagged `json:"-"` so it can never be
// serialized into an API response or a log line.
package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// State is the lifecycle phase of an escort session.
type State string

const (
	StateDraft       State = "draft"
	StateActive      State = "active"
	StateBufferGrace State = "buffer_grace"
	StateEscalated   State = "escalated"
	StateResolved    State = "resolved"
)

// transitions is the forward-only transition table. A state never appears
// as a target of itself or of a later state.
var transitions = map[State][]State{
	StateDraft:       {StateActive},
	StateActive:      {StateBufferGrace, StateEscalated, StateResolved},
	StateBufferGrace: {StateEscalated, StateResolved},
	StateEscalated:   {StateResolved},
	StateResolved:    nil,
}

// CanTransition reports whether from -> to is allowed by the table.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateResolved
}

// IsMonitored reports whether the owner is still inside the monitoring
// window (disarm, panic and check-in are valid).
func (s State) IsMonitored() bool {
	return s == StateActive || s == StateBufferGrace
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	_, ok := transitions[s]
	return ok
}

// EndedVia is the closed set of reasons a session left its monitoring
// window. New reasons must be added here and to Describe.
type EndedVia string

const (
	EndedViaDisarm           EndedVia = "disarm"
	EndedViaDecoy            EndedVia = "decoy"
	EndedViaTimerExpiration  EndedVia = "timer_expiration"
	EndedViaPanic            EndedVia = "panic"
	EndedViaOperatorResolved EndedVia = "operator_resolved"
)

// ParseEndedVia converts a stored value back into an EndedVia.
func ParseEndedVia(v string) (EndedVia, error) {
	switch e := EndedVia(v); e {
	case EndedViaDisarm, EndedViaDecoy, EndedViaTimerExpiration, EndedViaPanic, EndedViaOperatorResolved:
		return e, nil
	}
	return "", fmt.Errorf("unknown ended_via %q", v)
}

// Describe returns the operator-facing label for the reason. Owner-facing
// surfaces must never render this for decoy sessions.
func (e EndedVia) Describe() string {
	switch e {
	case EndedViaDisarm:
		return "Disarmed by owner"
	case EndedViaDecoy:
		return "Duress code entered"
	case EndedViaTimerExpiration:
		return "Deadline expired without check-out"
	case EndedViaPanic:
		return "Panic button pressed"
	case EndedViaOperatorResolved:
		return "Resolved by operator"
	}
	panic(fmt.Sprintf("unhandled ended_via %q", string(e)))
}

// Escalates reports whether reaching this reason puts the session into the
// escalated state.
func (e EndedVia) Escalates() bool {
	switch e {
	case EndedViaDecoy, EndedViaTimerExpiration, EndedViaPanic:
		return true
	case EndedViaDisarm, EndedViaOperatorResolved:
		return false
	}
	panic(fmt.Sprintf("unhandled ended_via %q", string(e)))
}

// GeoPoint is a single GPS fix.
type GeoPoint struct {
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	AccuracyM  float64   `json:"accuracy_m,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Validate checks coordinate ranges.
func (p GeoPoint) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range", p.Longitude)
	}
	return nil
}

// Intel is the snapshot captured at activation. It is never updated.
type Intel struct {
	LocationText string    `json:"location_text"`
	Coordinates  *GeoPoint `json:"coordinates,omitempty"`
	Notes        string    `json:"notes,omitempty"`
	PhotoRefs    []string  `json:"photo_refs,omitempty"`
}

// Responder is the best-effort nearest responder attached to a session.
type Responder struct {
	Name      string  `json:"name"`
	Address   string  `json:"address,omitempty"`
	Phone     string  `json:"phone,omitempty"`
	DistanceM float64 `json:"distance_m"`
}

// Session is the central escort entity.
//
// EndedVia records why the monitoring window ended and is written exactly
// once. ResolvedVia is written when the session reaches StateResolved and
// is either EndedViaDisarm or EndedViaOperatorResolved.
type Session struct {
	ID               uuid.UUID   `json:"id"`
	OwnerID          uuid.UUID   `json:"owner_id"`
	State            State       `json:"state"`
	CreatedAt        time.Time   `json:"created_at"`
	ScheduledEndAt   time.Time   `json:"scheduled_end_at"`
	BufferEndAt      time.Time   `json:"buffer_end_at"`
	GuardianGroupIDs []uuid.UUID `json:"guardian_group_ids"`
	Intel            Intel       `json:"intel"`
	LastGPS          *GeoPoint   `json:"last_gps,omitempty"`
	EndedVia         *EndedVia   `json:"ended_via,omitempty"`
	ResolvedVia      *EndedVia   `json:"resolved_via,omitempty"`
	EndedAt          *time.Time  `json:"ended_at,omitempty"`
	NearestResponder *Responder  `json:"nearest_responder,omitempty"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// EndedByDecoy reports whether the duress code closed the monitoring window.
func (s *Session) EndedByDecoy() bool {
	return s.EndedVia != nil && *s.EndedVia == EndedViaDecoy
}

// OwnerView returns a copy of s as the owner may see it. A session ended
// with the duress code is shown exactly like one ended with the real code:
// resolved by disarm. Operators read the session directly.
func (s *Session) OwnerView() *Session {
	v := *s
	if !s.EndedByDecoy() {
		return &v
	}

	disarm := EndedViaDisarm
	v.State = StateResolved
	v.EndedVia = &disarm
	v.ResolvedVia = &disarm
	if s.EndedAt != nil {
		v.UpdatedAt = *s.EndedAt
	}
	return &v
}

// EscalatedPayload is the body of an escalated event.
type EscalatedPayload struct {
	From        State    `json:"from"`
	EndedVia    EndedVia `json:"ended_via"`
	Description string   `json:"description"`
}

// ResolvedPayload is the body of a resolved event.
type ResolvedPayload struct {
	From        State      `json:"from"`
	ResolvedVia EndedVia   `json:"resolved_via"`
	OperatorID  *uuid.UUID `json:"operator_id,omitempty"`
	Note        string     `json:"note,omitempty"`
}

// escalationNotice is the trigger recorded on the guardian_notified event
// sent when a session escalates.
const escalationNotice = "escalation"

// OwnerTrail returns the audit trail of s as the owner may see it. events
// must be the complete trail in append order.
//
// A session ended with the duress code gets the trail a real disarm
// leaves: the escalation notice is dropped, the escalated event is
// replaced by a resolved one with the same id and time, and nothing
// appended after it is shown.
func (s *Session) OwnerTrail(events []*EscalationEvent) []*EscalationEvent {
	if !s.EndedByDecoy() {
		return events
	}

	out := make([]*EscalationEvent, 0, len(events))
	ended := false
	for _, ev := range events {
		switch {
		case ev.Type == EventGuardianNotified:
			if notifiedTrigger(ev) != escalationNotice {
				out = append(out, ev)
			}
		case ended:
		case ev.Type == EventEscalated:
			ended = true
			out = append(out, disarmedInPlaceOf(ev))
		case ev.Type == EventGPSUpdate:
			out = append(out, ev)
		}
	}
	return out
}

func notifiedTrigger(ev *EscalationEvent) string {
	var p struct {
		Trigger string `json:"trigger"`
	}
	_ = json.Unmarshal(ev.Payload, &p)
	return p.Trigger
}

func disarmedInPlaceOf(ev *EscalationEvent) *EscalationEvent {
	var escalated EscalatedPayload
	_ = json.Unmarshal(ev.Payload, &escalated)

	raw, _ := json.Marshal(ResolvedPayload{From: escalated.From, ResolvedVia: EndedViaDisarm})
	return &EscalationEvent{
		ID:        ev.ID,
		SessionID: ev.SessionID,
		Type:      EventResolved,
		Payload:   raw,
		CreatedAt: ev.CreatedAt,
	}
}

// Transition describes a compare-and-swap on a session's state. The store
// applies it only when the persisted state equals From.
type Transition struct {
	SessionID   uuid.UUID
	From        State
	To          State
	EndedVia    *EndedVia
	ResolvedVia *EndedVia
	At          time.Time
}

// Validate checks the transition against the table and the ended_via rules.
func (t Transition) Validate() error {
	if !CanTransition(t.From, t.To) {
		return fmt.Errorf("transition %s -> %s not allowed", t.From, t.To)
	}
	if t.To == StateEscalated && (t.EndedVia == nil || !t.EndedVia.Escalates()) {
		return fmt.Errorf("escalation requires an escalating ended_via")
	}
	if t.To == StateResolved && t.ResolvedVia == nil {
		return fmt.Errorf("resolution requires resolved_via")
	}
	return nil
}

// Apply mutates s as the store would after a successful swap.
func (t Transition) Apply(s *Session) {
	s.State = t.To
	if t.EndedVia != nil && s.EndedVia == nil {
		v := *t.EndedVia
		s.EndedVia = &v
		at := t.At
		s.EndedAt = &at
	}
	if t.ResolvedVia != nil {
		v := *t.ResolvedVia
		s.ResolvedVia = &v
	}
	s.UpdatedAt = t.At
}

// SafetyCodePair holds the one-way hashes of the owner's two codes.
type SafetyCodePair struct {
	OwnerID    uuid.UUID `json:"owner_id"`
	DisarmHash []byte    `json:"-"`
	DecoyHash  []byte    `json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Channel is a guardian delivery channel.
type Channel string

const (
	ChannelSMS     Channel = "sms"
	ChannelEmail   Channel = "email"
	ChannelPush    Channel = "push"
	ChannelWebhook Channel = "webhook"
)

// Valid reports whether c is a supported channel.
func (c Channel) Valid() bool {
	switch c {
	case ChannelSMS, ChannelEmail, ChannelPush, ChannelWebhook:
		return true
	}
	return false
}

// Guardian is one trusted contact inside a group.
type Guardian struct {
	Name    string  `json:"name"`
	Channel Channel `json:"channel"`
	Address string  `json:"address"`
}

// GuardianGroup is an owner-managed, ordered list of guardians.
type GuardianGroup struct {
	ID        uuid.UUID  `json:"id"`
	OwnerID   uuid.UUID  `json:"owner_id"`
	Name      string     `json:"name"`
	Guardians []Guardian `json:"guardians"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// EventType is the closed set of audit event kinds.
type EventType string

const (
	EventGPSUpdate        EventType = "gps_update"
	EventGuardianNotified EventType = "guardian_notified"
	EventEscalated        EventType = "escalated"
	EventResolved         EventType = "resolved"
)

// EscalationEvent is one append-only audit record. DedupeKey, when set,
// is unique per session and makes the append idempotent.
type EscalationEvent struct {
	ID        int64           `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	Type      EventType       `json:"type"`
	DedupeKey string          `json:"-"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// NewEvent builds an event with a JSON-encoded payload.
func NewEvent(sessionID uuid.UUID, typ EventType, payload interface{}, at time.Time) (*EscalationEvent, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s payload: %w", typ, err)
	}
	return &EscalationEvent{
		SessionID: sessionID,
		Type:      typ,
		Payload:   raw,
		CreatedAt: at,
	}, nil
}

// VerifyOutcome is the result of checking a submitted code. It never
// leaves the backend.
type VerifyOutcome int

const (
	NoMatch VerifyOutcome = iota
	MatchDisarm
	MatchDecoy
)

func (o VerifyOutcome) String() string {
	switch o {
	case MatchDisarm:
		return "MATCH_DISARM"
	case MatchDecoy:
		return "MATCH_DECOY"
	default:
		return "NO_MATCH"
	}
}
