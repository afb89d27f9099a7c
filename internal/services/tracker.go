package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/pkg/clock"
)

// trackingStates accept GPS fixes and heartbeats. Location keeps flowing
// after escalation so responders can follow the owner; it stops once the
// session is resolved.
var trackingStates = []models.State{
	models.StateActive,
	models.StateBufferGrace,
	models.StateEscalated,
}

// TrackerStore is the subset of the store used by the tracker.
type TrackerStore interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	RecordLocation(ctx context.Context, sessionID uuid.UUID, point *models.GeoPoint, ev *models.EscalationEvent, accepting []models.State) (bool, error)
}

// Tracker records GPS fixes and heartbeats for a session.
type Tracker struct {
	store TrackerStore
	clock clock.Clock
}

// NewTracker creates a Tracker.
func NewTracker(store TrackerStore, clk clock.Clock) *Tracker {
	return &Tracker{store: store, clock: clk}
}

// gpsPayload is the body of a gps_update event.
type gpsPayload struct {
	Point     *models.GeoPoint `json:"point,omitempty"`
	Heartbeat bool             `json:"heartbeat,omitempty"`
	Device    string           `json:"device,omitempty"`
	Battery   *int             `json:"battery_pct,omitempty"`
}

// HeartbeatParams is what a client sends on check-in. Point is optional.
type HeartbeatParams struct {
	Point      *models.GeoPoint
	UserAgent  string
	BatteryPct *int
}

// RecordLocation stores a GPS fix for the owner's session and appends a
// gps_update event. A zero RecordedAt is stamped with the current time.
func (t *Tracker) RecordLocation(ctx context.Context, ownerID, sessionID uuid.UUID, point models.GeoPoint, userAgent string) error {
	if err := point.Validate(); err != nil {
		return invalid("point", "%s", err.Error())
	}
	if point.AccuracyM < 0 {
		return invalid("accuracy_m", "must not be negative")
	}

	s, err := t.ownedSession(ctx, ownerID, sessionID)
	if err != nil {
		return err
	}

	return t.record(ctx, s, &point, gpsPayload{Device: ExtractDeviceInfo(userAgent)})
}

// Heartbeat records an owner check-in. It never changes the session state.
func (t *Tracker) Heartbeat(ctx context.Context, ownerID, sessionID uuid.UUID, params HeartbeatParams) error {
	if params.Point != nil {
		if err := params.Point.Validate(); err != nil {
			return invalid("point", "%s", err.Error())
		}
	}
	if params.BatteryPct != nil && (*params.BatteryPct < 0 || *params.BatteryPct > 100) {
		return invalid("battery_pct", "must be between 0 and 100")
	}

	s, err := t.ownedSession(ctx, ownerID, sessionID)
	if err != nil {
		return err
	}

	return t.record(ctx, s, params.Point, gpsPayload{
		Heartbeat: true,
		Device:    ExtractDeviceInfo(params.UserAgent),
		Battery:   params.BatteryPct,
	})
}

// record appends a gps_update for s, and moves last_gps when point is set,
// in one conditional write against the tracking states.
//
// A session escalated by the duress code keeps recording for responders,
// but the owner's device gets the answer a disarmed session would give.
func (t *Tracker) record(ctx context.Context, s *models.Session, point *models.GeoPoint, payload gpsPayload) error {
	now := t.clock.Now()
	if point != nil {
		p := *point
		if p.RecordedAt.IsZero() {
			p.RecordedAt = now
		}
		point = &p
		payload.Point = point
	}

	ev, err := models.NewEvent(s.ID, models.EventGPSUpdate, payload, now)
	if err != nil {
		return err
	}

	accepted, err := t.store.RecordLocation(ctx, s.ID, point, ev, trackingStates)
	if err != nil {
		return storeErr(err, "session")
	}
	if !accepted {
		log.Debug().Str("session_id", s.ID.String()).Msg("Location rejected, session not tracking")
		return errNotTracking()
	}
	if s.EndedByDecoy() {
		return errNotTracking()
	}
	return nil
}

func errNotTracking() error {
	return conflict("session no longer accepts location updates")
}

// ownedSession loads a session and hides other owners' sessions as not found.
func (t *Tracker) ownedSession(ctx context.Context, ownerID, sessionID uuid.UUID) (*models.Session, error) {
	s, err := t.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, storeErr(err, "session")
	}
	if s.OwnerID != ownerID {
		return nil, fmt.Errorf("session: %w", ErrNotFound)
	}
	return s, nil
}

// isNotFound reports whether err means the entity is missing.
func isNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
