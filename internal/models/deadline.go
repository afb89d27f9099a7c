package models

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DeadlinePhase names which timeout a queued deadline drives.
type DeadlinePhase string

const (
	// PhaseBufferGrace fires at ScheduledEndAt and moves active -> buffer_grace.
	PhaseBufferGrace DeadlinePhase = "buffer_grace"
	// PhaseEscalate fires at BufferEndAt and moves buffer_grace -> escalated.
	PhaseEscalate DeadlinePhase = "escalate"
)

// Deadline is one absolute-time entry in the durable timer queue.
type Deadline struct {
	SessionID uuid.UUID
	Phase     DeadlinePhase
	At        time.Time
}

// DeadlinesFor returns the deadlines still pending for s given its state.
func DeadlinesFor(s *Session) []Deadline {
	switch s.State {
	case StateActive:
		return []Deadline{
			{SessionID: s.ID, Phase: PhaseBufferGrace, At: s.ScheduledEndAt},
			{SessionID: s.ID, Phase: PhaseEscalate, At: s.BufferEndAt},
		}
	case StateBufferGrace:
		return []Deadline{{SessionID: s.ID, Phase: PhaseEscalate, At: s.BufferEndAt}}
	}
	return nil
}

// Member encodes the deadline as a queue member, "<session id>:<phase>".
func (d Deadline) Member() string {
	return d.SessionID.String() + ":" + string(d.Phase)
}

// ParseDeadlineMember is the inverse of Member. The At field is left zero.
func ParseDeadlineMember(member string) (Deadline, error) {
	id, phase, ok := strings.Cut(member, ":")
	if !ok {
		return Deadline{}, fmt.Errorf("malformed deadline member %q", member)
	}
	sessionID, err := uuid.Parse(id)
	if err != nil {
		return Deadline{}, fmt.Errorf("malformed deadline member %q: %w", member, err)
	}
	switch p := DeadlinePhase(phase); p {
	case PhaseBufferGrace, PhaseEscalate:
		return Deadline{SessionID: sessionID, Phase: p}, nil
	}
	return Deadline{}, fmt.Errorf("unknown deadline phase %q", phase)
}
