package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testAt = time.Date(2026, 3, 14, 21, 30, 0, 0, time.UTC)

func setupMockDB(t *testing.T) (*PostgresDB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		assert.NoError(t, mock.ExpectationsWereMet())
		db.Close()
	})
	return &PostgresDB{db: db}, mock
}

const (
	transitionSQL     = `UPDATE escort_sessions SET state = \$3, .* WHERE id = \$1 AND state = \$2`
	existsSQL         = `SELECT EXISTS \(SELECT 1 FROM escort_sessions WHERE id = \$1\)`
	insertEventSQL    = `INSERT INTO escalation_events \(session_id, type, dedupe_key, payload, created_at\) VALUES \(\$1, \$2, \$3, \$4, \$5\) ON CONFLICT \(session_id, dedupe_key\) WHERE dedupe_key IS NOT NULL DO NOTHING RETURNING id`
	recordLocationSQL = `UPDATE escort_sessions SET last_gps = COALESCE\(\$2::jsonb, last_gps\), updated_at = \$3 WHERE id = \$1 AND state = ANY\(\$4\)`
	typeFilter        = `session_id = \$1 AND \(\$2::text\[\] IS NULL OR type = ANY\(\$2::text\[\]\)\)`
)

func escalation(t *testing.T, sessionID uuid.UUID) (models.Transition, *models.EscalationEvent) {
	t.Helper()
	via := models.EndedViaDecoy
	tr := models.Transition{
		SessionID: sessionID,
		From:      models.StateActive,
		To:        models.StateEscalated,
		EndedVia:  &via,
		At:        testAt,
	}
	ev, err := models.NewEvent(sessionID, models.EventEscalated, models.EscalatedPayload{
		From:     models.StateActive,
		EndedVia: via,
	}, testAt)
	require.NoError(t, err)
	return tr, ev
}

func TestApplyTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("swaps state and appends the event in one transaction", func(t *testing.T) {
		db, mock := setupMockDB(t)
		sessionID := uuid.New()
		tr, ev := escalation(t, sessionID)

		mock.ExpectBegin()
		mock.ExpectExec(transitionSQL).
			WithArgs(sessionID, "active", "escalated", "decoy", nil, testAt).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertEventSQL).
			WithArgs(sessionID, "escalated", nil, []byte(ev.Payload), testAt).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
		mock.ExpectCommit()

		applied, err := db.ApplyTransition(ctx, tr, ev)
		require.NoError(t, err)
		assert.True(t, applied)
		assert.Equal(t, int64(7), ev.ID)
	})

	t.Run("lost swap appends nothing", func(t *testing.T) {
		db, mock := setupMockDB(t)
		sessionID := uuid.New()
		tr, ev := escalation(t, sessionID)

		mock.ExpectBegin()
		mock.ExpectExec(transitionSQL).
			WithArgs(sessionID, "active", "escalated", "decoy", nil, testAt).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(existsSQL).
			WithArgs(sessionID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectCommit()

		applied, err := db.ApplyTransition(ctx, tr, ev)
		require.NoError(t, err)
		assert.False(t, applied)
		assert.Zero(t, ev.ID)
	})

	t.Run("unknown session rolls back", func(t *testing.T) {
		db, mock := setupMockDB(t)
		sessionID := uuid.New()
		tr, ev := escalation(t, sessionID)

		mock.ExpectBegin()
		mock.ExpectExec(transitionSQL).WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(existsSQL).
			WithArgs(sessionID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
		mock.ExpectRollback()

		_, err := db.ApplyTransition(ctx, tr, ev)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestAppendEventOnce(t *testing.T) {
	ctx := context.Background()
	sessionID := uuid.New()

	newNotice := func(t *testing.T) *models.EscalationEvent {
		ev, err := models.NewEvent(sessionID, models.EventGuardianNotified, map[string]string{"trigger": "escalation"}, testAt)
		require.NoError(t, err)
		ev.DedupeKey = "notify:escalation"
		return ev
	}

	t.Run("first insert wins", func(t *testing.T) {
		db, mock := setupMockDB(t)
		ev := newNotice(t)

		mock.ExpectQuery(insertEventSQL).
			WithArgs(sessionID, "guardian_notified", "notify:escalation", []byte(ev.Payload), testAt).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(3)))

		inserted, err := db.AppendEventOnce(ctx, ev)
		require.NoError(t, err)
		assert.True(t, inserted)
		assert.Equal(t, int64(3), ev.ID)
	})

	t.Run("conflict returns no row", func(t *testing.T) {
		db, mock := setupMockDB(t)
		ev := newNotice(t)

		mock.ExpectQuery(insertEventSQL).
			WithArgs(sessionID, "guardian_notified", "notify:escalation", []byte(ev.Payload), testAt).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		inserted, err := db.AppendEventOnce(ctx, ev)
		require.NoError(t, err)
		assert.False(t, inserted)
	})

	t.Run("requires a dedupe key", func(t *testing.T) {
		db, _ := setupMockDB(t)
		ev := newNotice(t)
		ev.DedupeKey = ""

		_, err := db.AppendEventOnce(ctx, ev)
		assert.Error(t, err)
	})
}

func TestRecordLocation(t *testing.T) {
	ctx := context.Background()
	accepting := []models.State{models.StateActive, models.StateBufferGrace, models.StateEscalated}
	acceptingArg := pq.Array([]string{"active", "buffer_grace", "escalated"})

	newFix := func(t *testing.T, sessionID uuid.UUID) *models.EscalationEvent {
		ev, err := models.NewEvent(sessionID, models.EventGPSUpdate, map[string]bool{"heartbeat": true}, testAt)
		require.NoError(t, err)
		return ev
	}

	t.Run("stores the point with the event time", func(t *testing.T) {
		db, mock := setupMockDB(t)
		sessionID := uuid.New()
		ev := newFix(t, sessionID)
		point := &models.GeoPoint{Latitude: 52.52, Longitude: 13.405, RecordedAt: testAt.Add(-72 * time.Hour)}
		raw, err := json.Marshal(point)
		require.NoError(t, err)

		mock.ExpectBegin()
		mock.ExpectExec(recordLocationSQL).
			WithArgs(sessionID, string(raw), testAt, acceptingArg).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertEventSQL).
			WithArgs(sessionID, "gps_update", nil, []byte(ev.Payload), testAt).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
		mock.ExpectCommit()

		accepted, err := db.RecordLocation(ctx, sessionID, point, ev, accepting)
		require.NoError(t, err)
		assert.True(t, accepted)
	})

	t.Run("heartbeat without a point keeps last gps", func(t *testing.T) {
		db, mock := setupMockDB(t)
		sessionID := uuid.New()
		ev := newFix(t, sessionID)

		mock.ExpectBegin()
		mock.ExpectExec(recordLocationSQL).
			WithArgs(sessionID, nil, testAt, acceptingArg).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(insertEventSQL).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(12)))
		mock.ExpectCommit()

		accepted, err := db.RecordLocation(ctx, sessionID, nil, ev, accepting)
		require.NoError(t, err)
		assert.True(t, accepted)
	})

	t.Run("resolved session appends nothing", func(t *testing.T) {
		db, mock := setupMockDB(t)
		sessionID := uuid.New()
		ev := newFix(t, sessionID)

		mock.ExpectBegin()
		mock.ExpectExec(recordLocationSQL).
			WithArgs(sessionID, nil, testAt, acceptingArg).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(existsSQL).
			WithArgs(sessionID).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
		mock.ExpectCommit()

		accepted, err := db.RecordLocation(ctx, sessionID, nil, ev, accepting)
		require.NoError(t, err)
		assert.False(t, accepted)
	})
}

func TestListEvents(t *testing.T) {
	ctx := context.Background()
	sessionID := uuid.New()
	columns := []string{"id", "session_id", "type", "dedupe_key", "payload", "created_at"}

	t.Run("no filter passes a null array", func(t *testing.T) {
		db, mock := setupMockDB(t)

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM escalation_events WHERE ` + typeFilter).
			WithArgs(sessionID, nil).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(2)))
		mock.ExpectQuery(`SELECT id, session_id, type, .* WHERE ` + typeFilter + ` ORDER BY id ASC LIMIT \$3 OFFSET \$4`).
			WithArgs(sessionID, nil, 50, 0).
			WillReturnRows(sqlmock.NewRows(columns).
				AddRow(int64(1), sessionID.String(), "guardian_notified", "notify:session_start", []byte(`{"trigger":"session_start"}`), testAt).
				AddRow(int64(2), sessionID.String(), "gps_update", "", []byte(`{}`), testAt))

		events, total, err := db.ListEvents(ctx, sessionID, nil, 50, 0)
		require.NoError(t, err)
		assert.Equal(t, int64(2), total)
		require.Len(t, events, 2)
		assert.Equal(t, models.EventGuardianNotified, events[0].Type)
		assert.Equal(t, "notify:session_start", events[0].DedupeKey)
		assert.Equal(t, sessionID, events[1].SessionID)
	})

	t.Run("type filter is passed as a text array", func(t *testing.T) {
		db, mock := setupMockDB(t)
		filter := pq.Array([]string{"gps_update"})

		mock.ExpectQuery(`SELECT COUNT\(\*\) FROM escalation_events WHERE ` + typeFilter).
			WithArgs(sessionID, filter).
			WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(int64(0)))
		mock.ExpectQuery(`SELECT id, session_id, type, .* WHERE ` + typeFilter).
			WithArgs(sessionID, filter, 10, 0).
			WillReturnRows(sqlmock.NewRows(columns))

		events, total, err := db.ListEvents(ctx, sessionID, []models.EventType{models.EventGPSUpdate}, 10, 0)
		require.NoError(t, err)
		assert.Zero(t, total)
		assert.Empty(t, events)
	})
}
