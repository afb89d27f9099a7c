package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordLocation(t *testing.T) {
	ctx := context.Background()

	t.Run("updates last gps and appends an event", func(t *testing.T) {
		h := newHarness(t)
		s := h.activate(t, h.owner, h.group, time.Hour)

		p := testutil.TestPoint()
		p.Latitude = 52.5163
		require.NoError(t, h.lifecycle.RecordLocation(ctx, h.owner, s.ID, p, testutil.UserAgents.MobileSafari))

		stored := h.stored(t, s.ID)
		require.NotNil(t, stored.LastGPS)
		assert.Equal(t, 52.5163, stored.LastGPS.Latitude)

		events := h.store.EventsOfType(s.ID, models.EventGPSUpdate)
		require.Len(t, events, 1)

		var payload gpsPayload
		require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
		assert.Contains(t, payload.Device, "Mobile")
		assert.False(t, payload.Heartbeat)
	})

	t.Run("stamps a missing fix time", func(t *testing.T) {
		h := newHarness(t)
		s := h.activate(t, h.owner, h.group, time.Hour)
		h.clock.Advance(3 * time.Minute)

		p := testutil.TestPoint()
		p.RecordedAt = time.Time{}
		require.NoError(t, h.lifecycle.RecordLocation(ctx, h.owner, s.ID, p, ""))

		assert.Equal(t, h.clock.Now(), h.stored(t, s.ID).LastGPS.RecordedAt)
	})

	t.Run("updated_at follows the server clock", func(t *testing.T) {
		h := newHarness(t)
		s := h.activate(t, h.owner, h.group, time.Hour)
		h.clock.Advance(10 * time.Minute)

		p := testutil.TestPoint()
		p.RecordedAt = testutil.TestEpoch.Add(-48 * time.Hour)
		require.NoError(t, h.lifecycle.RecordLocation(ctx, h.owner, s.ID, p, ""))

		stored := h.stored(t, s.ID)
		assert.Equal(t, h.clock.Now(), stored.UpdatedAt)
		assert.Equal(t, p.RecordedAt, stored.LastGPS.RecordedAt)
	})

	t.Run("keeps tracking after escalation", func(t *testing.T) {
		h := newHarness(t)
		s := h.activate(t, h.owner, h.group, time.Hour)
		_, err := h.lifecycle.Panic(ctx, h.owner, s.ID)
		require.NoError(t, err)

		assert.NoError(t, h.lifecycle.RecordLocation(ctx, h.owner, s.ID, testutil.TestPoint(), ""))
	})

	t.Run("rejects updates after resolution", func(t *testing.T) {
		h := newHarness(t)
		s := h.activate(t, h.owner, h.group, time.Hour)
		_, err := h.lifecycle.Disarm(ctx, h.owner, s.ID, testutil.DisarmCode)
		require.NoError(t, err)

		err = h.lifecycle.RecordLocation(ctx, h.owner, s.ID, testutil.TestPoint(), "")

		var cerr *ConflictError
		assert.ErrorAs(t, err, &cerr)
		assert.Empty(t, h.store.EventsOfType(s.ID, models.EventGPSUpdate))
	})

	t.Run("answers a duress session like a disarmed one", func(t *testing.T) {
		h := newHarness(t)
		disarmed := h.activate(t, h.owner, h.group, time.Hour)
		_, err := h.lifecycle.Disarm(ctx, h.owner, disarmed.ID, testutil.DisarmCode)
		require.NoError(t, err)
		realErr := h.lifecycle.RecordLocation(ctx, h.owner, disarmed.ID, testutil.TestPoint(), "")

		s := h.activate(t, h.owner, h.group, time.Hour)
		_, err = h.lifecycle.Disarm(ctx, h.owner, s.ID, testutil.DecoyCode)
		require.NoError(t, err)
		h.runner.Wait()

		p := testutil.TestPoint()
		p.Latitude = 52.4996
		decoyErr := h.lifecycle.RecordLocation(ctx, h.owner, s.ID, p, "")

		require.Error(t, decoyErr)
		assert.Equal(t, realErr, decoyErr)

		// Responders still get the fix.
		stored := h.stored(t, s.ID)
		require.NotNil(t, stored.LastGPS)
		assert.Equal(t, 52.4996, stored.LastGPS.Latitude)
		assert.Len(t, h.store.EventsOfType(s.ID, models.EventGPSUpdate), 1)
	})

	t.Run("rejects out of range coordinates", func(t *testing.T) {
		h := newHarness(t)
		s := h.activate(t, h.owner, h.group, time.Hour)

		p := testutil.TestPoint()
		p.Longitude = 200
		err := h.lifecycle.RecordLocation(ctx, h.owner, s.ID, p, "")

		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})

	t.Run("hides other owners' sessions", func(t *testing.T) {
		h := newHarness(t)
		s := h.activate(t, h.owner, h.group, time.Hour)

		err := h.lifecycle.RecordLocation(ctx, uuid.New(), s.ID, testutil.TestPoint(), "")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestCheckIn(t *testing.T) {
	ctx := context.Background()

	t.Run("appends a heartbeat without changing state", func(t *testing.T) {
		h := newHarness(t)
		s := h.activate(t, h.owner, h.group, time.Hour)

		err := h.lifecycle.CheckIn(ctx, h.owner, s.ID, HeartbeatParams{
			UserAgent:  testutil.UserAgents.MobileChrome,
			BatteryPct: testutil.IntPtr(64),
		})
		require.NoError(t, err)

		stored := h.stored(t, s.ID)
		assert.Equal(t, models.StateActive, stored.State)
		assert.Nil(t, stored.LastGPS)

		events := h.store.EventsOfType(s.ID, models.EventGPSUpdate)
		require.Len(t, events, 1)

		var payload gpsPayload
		require.NoError(t, json.Unmarshal(events[0].Payload, &payload))
		assert.True(t, payload.Heartbeat)
		require.NotNil(t, payload.Battery)
		assert.Equal(t, 64, *payload.Battery)
	})

	t.Run("with a fix updates last gps", func(t *testing.T) {
		h := newHarness(t)
		s := h.activate(t, h.owner, h.group, time.Hour)
		p := testutil.TestPoint()

		require.NoError(t, h.lifecycle.CheckIn(ctx, h.owner, s.ID, HeartbeatParams{Point: &p}))

		assert.NotNil(t, h.stored(t, s.ID).LastGPS)
	})

	t.Run("rejects a resolved session", func(t *testing.T) {
		h := newHarness(t)
		s := h.activate(t, h.owner, h.group, time.Hour)
		_, err := h.lifecycle.Disarm(ctx, h.owner, s.ID, testutil.DisarmCode)
		require.NoError(t, err)

		err = h.lifecycle.CheckIn(ctx, h.owner, s.ID, HeartbeatParams{})

		var cerr *ConflictError
		assert.ErrorAs(t, err, &cerr)
		assert.Empty(t, h.store.EventsOfType(s.ID, models.EventGPSUpdate))
	})

	t.Run("check-in racing a resolve is not recorded", func(t *testing.T) {
		h := newHarness(t)
		s := h.activate(t, h.owner, h.group, time.Hour)
		before := h.stored(t, s.ID)

		_, err := h.lifecycle.Disarm(ctx, h.owner, s.ID, testutil.DisarmCode)
		require.NoError(t, err)

		// The tracker read the session before the disarm landed.
		tracker := NewTracker(staleReads{MemStore: h.store, session: before}, h.clock)
		err = tracker.Heartbeat(ctx, h.owner, s.ID, HeartbeatParams{BatteryPct: testutil.IntPtr(30)})

		var cerr *ConflictError
		assert.ErrorAs(t, err, &cerr)
		assert.Empty(t, h.store.EventsOfType(s.ID, models.EventGPSUpdate))
		assert.Equal(t, models.StateResolved, h.stored(t, s.ID).State)
	})

	t.Run("rejects an invalid battery level", func(t *testing.T) {
		h := newHarness(t)
		s := h.activate(t, h.owner, h.group, time.Hour)

		err := h.lifecycle.CheckIn(ctx, h.owner, s.ID, HeartbeatParams{BatteryPct: testutil.IntPtr(140)})

		var verr *ValidationError
		assert.ErrorAs(t, err, &verr)
	})
}

// staleReads serves a fixed, outdated copy of one session.
type staleReads struct {
	*testutil.MemStore
	session *models.Session
}

func (s staleReads) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	if id == s.session.ID {
		cp := *s.session
		return &cp, nil
	}
	return s.MemStore.GetSession(ctx, id)
}
