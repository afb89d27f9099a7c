// Package database provides database access layers for PostgreSQL and Redis.
// Implements connection management, query operations, and transaction handling
// with automatic retry logic and connection pooling.
//
// PostgreSQL is the durable store for escort sessions, safety codes, guardian
// groups and the append-only escalation log. Redis holds the deadline queue,
// rate limiting counters, the token blacklist and the operator channel.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/pkg/config"
	"github.com/rtolen/vairify-dev-sub001/pkg/utils"
)

// TxFunc is a function that runs within a database transaction.
// Used with WithTransaction to ensure atomic operations.
//
// The transaction will be automatically committed on success or rolled
// back on error/panic.
type TxFunc func(tx *sql.Tx) error

// Querier is an interface for executing SQL queries.
// Abstracts *sql.DB and *sql.Tx so the same query helpers run both inside
// and outside transactions.
type Querier interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

// PostgresDB wraps a PostgreSQL database connection with connection pooling.
//
// Features:
//   - Automatic connection retry with exponential backoff
//   - Connection pooling (configurable max connections)
//   - Transaction support with automatic rollback on errors
//   - Per-session compare-and-swap on state
//   - Health check support
type PostgresDB struct {
	db *sql.DB // Underlying connection pool
}

// NewPostgresDB creates a new PostgreSQL connection with automatic retry.
// Implements exponential backoff retry logic to handle transient connection
// failures during startup (e.g., database container not ready yet).
//
// Connection pool settings:
//   - MaxOpenConns: From configuration (default: 25)
//   - MaxIdleConns: Half of MaxOpenConns
//   - ConnMaxLifetime: 1 hour
//
// Example:
//
//	db, err := database.NewPostgresDB(&cfg.Database)
//	if err != nil {
//	    log.Fatal().Err(err).Msg("Database connection failed")
//	}
//	defer db.Close()
func NewPostgresDB(cfg *config.DatabaseConfig) (*PostgresDB, error) {
	var db *sql.DB
	var connErr error

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	retryConfig := utils.DatabaseRetryConfig()
	retryConfig.MaxAttempts = 5
	retryConfig.InitialDelay = 100 * time.Millisecond
	retryConfig.MaxDelay = 3 * time.Second

	err := utils.Retry(ctx, retryConfig, func() error {
		var err error
		db, err = sql.Open("postgres", cfg.DSN())
		if err != nil {
			connErr = err
			log.Warn().Err(err).Msg("Failed to open database connection, retrying...")
			return err
		}

		db.SetMaxOpenConns(cfg.MaxConns)
		db.SetMaxIdleConns(cfg.MaxConns / 2)
		db.SetConnMaxLifetime(time.Hour)

		pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer pingCancel()

		if err := db.PingContext(pingCtx); err != nil {
			connErr = err
			log.Warn().Err(err).Msg("Failed to ping database, retrying...")
			db.Close()
			return err
		}

		return nil
	})

	if err != nil {
		if connErr != nil {
			return nil, fmt.Errorf("failed to connect to database after retries: %w", connErr)
		}
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	log.Info().Msg("Successfully connected to PostgreSQL")

	return &PostgresDB{db: db}, nil
}

// Close closes the database connection and releases all resources.
func (p *PostgresDB) Close() error {
	return p.db.Close()
}

// Ping checks if the database connection is alive.
// Used by the readiness endpoint.
func (p *PostgresDB) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

// RunMigrations executes the idempotent schema script (see Schema).
func (p *PostgresDB) RunMigrations(ctx context.Context, migrationSQL string) error {
	_, err := p.db.ExecContext(ctx, migrationSQL)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	log.Info().Msg("Database migrations completed successfully")
	return nil
}

// WithTransaction executes a function within a database transaction.
// Automatically handles commit on success and rollback on error or panic.
func (p *PostgresDB) WithTransaction(ctx context.Context, fn TxFunc) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if r := recover(); r != nil {
			if rbErr := tx.Rollback(); rbErr != nil {
				log.Error().Err(rbErr).Msg("Failed to rollback transaction after panic")
			}
			panic(r)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			log.Error().Err(rbErr).Msg("Failed to rollback transaction")
			return fmt.Errorf("transaction error: %v, rollback error: %w", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	return nil
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

const sessionColumns = `id, owner_id, state, created_at, scheduled_end_at, buffer_end_at,
	guardian_group_ids, intel, last_gps, ended_via, resolved_via, ended_at,
	nearest_responder, updated_at`

// InsertSession persists a freshly activated session.
//
// The partial unique index escort_sessions_one_open_per_owner turns this
// into a conditional insert: if the owner already has a non-resolved
// session the insert fails and ErrDuplicate is returned. No row is
// written in that case and the existing session is untouched.
//
// Example:
//
//	if err := db.InsertSession(ctx, session); errors.Is(err, database.ErrDuplicate) {
//	    // owner already has an open session
//	}
func (p *PostgresDB) InsertSession(ctx context.Context, s *models.Session) error {
	intel, err := json.Marshal(s.Intel)
	if err != nil {
		return fmt.Errorf("failed to encode intel: %w", err)
	}

	query := `
		INSERT INTO escort_sessions (
			id, owner_id, state, created_at, scheduled_end_at, buffer_end_at,
			guardian_group_ids, intel, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err = p.db.ExecContext(ctx, query,
		s.ID,
		s.OwnerID,
		string(s.State),
		s.CreatedAt,
		s.ScheduledEndAt,
		s.BufferEndAt,
		pq.Array(uuidStrings(s.GuardianGroupIDs)),
		intel,
		s.UpdatedAt,
	)
	if isPQCode(err, uniqueViolation) {
		return fmt.Errorf("owner %s already has an open session: %w", s.OwnerID, ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}

	log.Info().
		Str("session_id", s.ID.String()).
		Str("owner_id", s.OwnerID.String()).
		Time("scheduled_end_at", s.ScheduledEndAt).
		Time("buffer_end_at", s.BufferEndAt).
		Msg("Session persisted")

	return nil
}

// GetSession loads a session by ID. Returns ErrNotFound if absent.
func (p *PostgresDB) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM escort_sessions WHERE id = $1`

	s, err := scanSession(p.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// GetOpenSessionByOwner returns the owner's non-resolved session, or
// ErrNotFound when there is none.
func (p *PostgresDB) GetOpenSessionByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Session, error) {
	query := `SELECT ` + sessionColumns + ` FROM escort_sessions WHERE owner_id = $1 AND state <> 'resolved'`

	s, err := scanSession(p.db.QueryRowContext(ctx, query, ownerID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("open session for owner %s: %w", ownerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open session: %w", err)
	}
	return s, nil
}

// ApplyTransition performs the per-session compare-and-swap on state and,
// when it wins, appends ev (may be nil) in the same transaction.
//
// The update only matches when the persisted state equals t.From, so of two
// racing writers (a disarm and a scheduler timeout, say) exactly one sees
// applied=true. ended_via and ended_at are written only while still NULL.
//
// Returns applied=false with a nil error when the swap lost, and
// ErrNotFound when the session does not exist.
func (p *PostgresDB) ApplyTransition(ctx context.Context, t models.Transition, ev *models.EscalationEvent) (bool, error) {
	applied := false

	err := p.WithTransaction(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE escort_sessions
			SET state = $3,
				ended_via = COALESCE(ended_via, $4::text),
				ended_at = CASE WHEN ended_via IS NULL AND $4::text IS NOT NULL THEN $6 ELSE ended_at END,
				resolved_via = COALESCE($5::text, resolved_via),
				updated_at = $6
			WHERE id = $1 AND state = $2
		`

		result, err := tx.ExecContext(ctx, query,
			t.SessionID,
			string(t.From),
			string(t.To),
			nullEndedVia(t.EndedVia),
			nullEndedVia(t.ResolvedVia),
			t.At,
		)
		if err != nil {
			return fmt.Errorf("failed to update session state: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		if rows == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM escort_sessions WHERE id = $1)`, t.SessionID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check session: %w", err)
			}
			if !exists {
				return fmt.Errorf("session %s: %w", t.SessionID, ErrNotFound)
			}
			return nil
		}

		applied = true
		if ev == nil {
			return nil
		}
		_, err = insertEvent(ctx, tx, ev)
		return err
	})
	if err != nil {
		return false, err
	}

	if applied {
		log.Info().
			Str("session_id", t.SessionID.String()).
			Str("from", string(t.From)).
			Str("to", string(t.To)).
			Msg("Session transitioned")
	}

	return applied, nil
}

// RecordLocation appends ev and, when point is non-nil, stores it as the
// session's last GPS fix, atomically, provided the session is in one of the
// accepting states. updated_at takes the event time, never the device's
// fix time. Returns false when the session exists but is not accepting
// updates.
func (p *PostgresDB) RecordLocation(ctx context.Context, sessionID uuid.UUID, point *models.GeoPoint, ev *models.EscalationEvent, accepting []models.State) (bool, error) {
	var gps sql.NullString
	if point != nil {
		raw, err := json.Marshal(point)
		if err != nil {
			return false, fmt.Errorf("failed to encode gps point: %w", err)
		}
		gps = sql.NullString{String: string(raw), Valid: true}
	}

	accepted := false
	err := p.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			UPDATE escort_sessions
			SET last_gps = COALESCE($2::jsonb, last_gps), updated_at = $3
			WHERE id = $1 AND state = ANY($4)
		`, sessionID, gps, ev.CreatedAt, pq.Array(stateStrings(accepting)))
		if err != nil {
			return fmt.Errorf("failed to update last gps: %w", err)
		}
		rows, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rows == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM escort_sessions WHERE id = $1)`, sessionID).Scan(&exists); err != nil {
				return fmt.Errorf("failed to check session: %w", err)
			}
			if !exists {
				return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
			}
			return nil
		}
		accepted = true
		_, err = insertEvent(ctx, tx, ev)
		return err
	})
	if err != nil {
		return false, err
	}
	return accepted, nil
}

// SetNearestResponder attaches the best-effort responder lookup result.
func (p *PostgresDB) SetNearestResponder(ctx context.Context, sessionID uuid.UUID, r models.Responder) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to encode responder: %w", err)
	}

	result, err := p.db.ExecContext(ctx,
		`UPDATE escort_sessions SET nearest_responder = $2 WHERE id = $1`,
		sessionID, raw,
	)
	if err != nil {
		return fmt.Errorf("failed to set nearest responder: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows == 0 {
		return fmt.Errorf("session %s: %w", sessionID, ErrNotFound)
	}
	return nil
}

// ListSessionsInStates returns sessions in any of the given states, oldest
// deadline first, with the total number of matches for pagination.
func (p *PostgresDB) ListSessionsInStates(ctx context.Context, states []models.State, limit, offset int) ([]*models.Session, int64, error) {
	filter := pq.Array(stateStrings(states))

	var total int64
	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM escort_sessions WHERE state = ANY($1)`, filter,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count sessions: %w", err)
	}

	query := `SELECT ` + sessionColumns + `
		FROM escort_sessions
		WHERE state = ANY($1)
		ORDER BY buffer_end_at ASC, id ASC
		LIMIT $2 OFFSET $3`

	rows, err := p.db.QueryContext(ctx, query, filter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*models.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, total, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var (
		s                         models.Session
		state                     string
		groupIDs                  []string
		intel, lastGPS, responder []byte
		endedVia, resolvedVia     sql.NullString
		endedAt                   sql.NullTime
	)

	err := row.Scan(
		&s.ID,
		&s.OwnerID,
		&state,
		&s.CreatedAt,
		&s.ScheduledEndAt,
		&s.BufferEndAt,
		pq.Array(&groupIDs),
		&intel,
		&lastGPS,
		&endedVia,
		&resolvedVia,
		&endedAt,
		&responder,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	s.State = models.State(state)

	for _, raw := range groupIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid guardian group id %q: %w", raw, err)
		}
		s.GuardianGroupIDs = append(s.GuardianGroupIDs, id)
	}

	if err := json.Unmarshal(intel, &s.Intel); err != nil {
		return nil, fmt.Errorf("invalid intel: %w", err)
	}
	if lastGPS != nil {
		s.LastGPS = &models.GeoPoint{}
		if err := json.Unmarshal(lastGPS, s.LastGPS); err != nil {
			return nil, fmt.Errorf("invalid last_gps: %w", err)
		}
	}
	if responder != nil {
		s.NearestResponder = &models.Responder{}
		if err := json.Unmarshal(responder, s.NearestResponder); err != nil {
			return nil, fmt.Errorf("invalid nearest_responder: %w", err)
		}
	}

	if s.EndedVia, err = parseNullEndedVia(endedVia); err != nil {
		return nil, err
	}
	if s.ResolvedVia, err = parseNullEndedVia(resolvedVia); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}

	return &s, nil
}

// ---------------------------------------------------------------------------
// Escalation events
// ---------------------------------------------------------------------------

// AppendEventOnce appends ev unless an event with the same (session_id,
// dedupe_key) already exists. Returns true when this call inserted it.
//
// This is the idempotency gate for guardian fan-out: whichever caller
// inserts the guardian_notified marker is the only one that dispatches.
func (p *PostgresDB) AppendEventOnce(ctx context.Context, ev *models.EscalationEvent) (bool, error) {
	if ev.DedupeKey == "" {
		return false, fmt.Errorf("dedupe key is required")
	}
	return insertEvent(ctx, p.db, ev)
}

func insertEvent(ctx context.Context, q Querier, ev *models.EscalationEvent) (bool, error) {
	payload := ev.Payload
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}

	var dedupe sql.NullString
	if ev.DedupeKey != "" {
		dedupe = sql.NullString{String: ev.DedupeKey, Valid: true}
	}

	query := `
		INSERT INTO escalation_events (session_id, type, dedupe_key, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (session_id, dedupe_key) WHERE dedupe_key IS NOT NULL DO NOTHING
		RETURNING id
	`

	err := q.QueryRowContext(ctx, query,
		ev.SessionID, string(ev.Type), dedupe, []byte(payload), ev.CreatedAt,
	).Scan(&ev.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to append %s event: %w", ev.Type, err)
	}
	return true, nil
}

// ListEvents returns a page of the session's audit trail in append order,
// along with the total count. A nil types slice returns every event type.
func (p *PostgresDB) ListEvents(ctx context.Context, sessionID uuid.UUID, types []models.EventType, limit, offset int) ([]*models.EscalationEvent, int64, error) {
	filter := pq.Array(eventTypeStrings(types))

	var total int64
	if err := p.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM escalation_events WHERE session_id = $1 AND ($2::text[] IS NULL OR type = ANY($2::text[]))`,
		sessionID, filter,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count events: %w", err)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT id, session_id, type, COALESCE(dedupe_key, ''), payload, created_at
		FROM escalation_events
		WHERE session_id = $1 AND ($2::text[] IS NULL OR type = ANY($2::text[]))
		ORDER BY id ASC
		LIMIT $3 OFFSET $4
	`, sessionID, filter, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	var events []*models.EscalationEvent
	for rows.Next() {
		var (
			ev      models.EscalationEvent
			typ     string
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.SessionID, &typ, &ev.DedupeKey, &payload, &ev.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan event: %w", err)
		}
		ev.Type = models.EventType(typ)
		ev.Payload = json.RawMessage(payload)
		events = append(events, &ev)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to iterate events: %w", err)
	}

	return events, total, nil
}

// ---------------------------------------------------------------------------
// Safety codes
// ---------------------------------------------------------------------------

// UpsertCodes stores the owner's code hashes, replacing any previous pair.
// Returns ErrDuplicate if the table CHECK sees identical hashes.
func (p *PostgresDB) UpsertCodes(ctx context.Context, c *models.SafetyCodePair) error {
	query := `
		INSERT INTO safety_codes (owner_id, disarm_hash, decoy_hash, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (owner_id)
		DO UPDATE SET
			disarm_hash = EXCLUDED.disarm_hash,
			decoy_hash = EXCLUDED.decoy_hash,
			updated_at = EXCLUDED.updated_at
	`

	_, err := p.db.ExecContext(ctx, query, c.OwnerID, c.DisarmHash, c.DecoyHash, c.UpdatedAt)
	if isPQCode(err, checkViolation) {
		return fmt.Errorf("codes must differ: %w", ErrDuplicate)
	}
	if err != nil {
		return fmt.Errorf("failed to store safety codes: %w", err)
	}

	log.Info().Str("owner_id", c.OwnerID.String()).Msg("Safety codes updated")
	return nil
}

// GetCodes loads the owner's code hashes. Returns ErrNotFound if unset.
func (p *PostgresDB) GetCodes(ctx context.Context, ownerID uuid.UUID) (*models.SafetyCodePair, error) {
	c := models.SafetyCodePair{OwnerID: ownerID}
	err := p.db.QueryRowContext(ctx,
		`SELECT disarm_hash, decoy_hash, updated_at FROM safety_codes WHERE owner_id = $1`, ownerID,
	).Scan(&c.DisarmHash, &c.DecoyHash, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("safety codes for %s: %w", ownerID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get safety codes: %w", err)
	}
	return &c, nil
}

// ---------------------------------------------------------------------------
// Guardian groups
// ---------------------------------------------------------------------------

// CreateGroup inserts a new guardian group.
func (p *PostgresDB) CreateGroup(ctx context.Context, g *models.GuardianGroup) error {
	guardians, err := json.Marshal(g.Guardians)
	if err != nil {
		return fmt.Errorf("failed to encode guardians: %w", err)
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO guardian_groups (id, owner_id, name, guardians, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, g.ID, g.OwnerID, g.Name, guardians, g.CreatedAt, g.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create guardian group: %w", err)
	}
	return nil
}

// UpdateGroup replaces a group's name and guardian list. Sessions hold the
// group by id, so edits apply to later notifications of open sessions.
func (p *PostgresDB) UpdateGroup(ctx context.Context, g *models.GuardianGroup) error {
	guardians, err := json.Marshal(g.Guardians)
	if err != nil {
		return fmt.Errorf("failed to encode guardians: %w", err)
	}

	err = p.db.QueryRowContext(ctx, `
		UPDATE guardian_groups
		SET name = $3, guardians = $4, updated_at = $5
		WHERE id = $1 AND owner_id = $2
		RETURNING created_at
	`, g.ID, g.OwnerID, g.Name, guardians, g.UpdatedAt).Scan(&g.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("guardian group %s: %w", g.ID, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to update guardian group: %w", err)
	}
	return nil
}

// DeleteGroup removes a group unless an open session references it, in
// which case ErrReferenced is returned.
func (p *PostgresDB) DeleteGroup(ctx context.Context, ownerID, groupID uuid.UUID) error {
	return p.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := tx.ExecContext(ctx, `
			DELETE FROM guardian_groups g
			WHERE g.id = $1 AND g.owner_id = $2
			AND NOT EXISTS (
				SELECT 1 FROM escort_sessions s
				WHERE s.state <> 'resolved' AND g.id = ANY(s.guardian_group_ids)
			)
		`, groupID, ownerID)
		if err != nil {
			return fmt.Errorf("failed to delete guardian group: %w", err)
		}
		if rows, _ := result.RowsAffected(); rows > 0 {
			return nil
		}

		var exists bool
		if err := tx.QueryRowContext(ctx,
			`SELECT EXISTS (SELECT 1 FROM guardian_groups WHERE id = $1 AND owner_id = $2)`,
			groupID, ownerID,
		).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check guardian group: %w", err)
		}
		if !exists {
			return fmt.Errorf("guardian group %s: %w", groupID, ErrNotFound)
		}
		return fmt.Errorf("guardian group %s: %w", groupID, ErrReferenced)
	})
}

// GetGroups loads the given groups in the order of ids. Missing ids are
// silently skipped; callers compare lengths when they need all of them.
func (p *PostgresDB) GetGroups(ctx context.Context, ids []uuid.UUID) ([]*models.GuardianGroup, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, name, guardians, created_at, updated_at
		FROM guardian_groups
		WHERE id = ANY($1::uuid[])
		ORDER BY array_position($1::uuid[], id)
	`, pq.Array(uuidStrings(ids)))
	if err != nil {
		return nil, fmt.Errorf("failed to get guardian groups: %w", err)
	}
	defer rows.Close()
	return scanGroups(rows)
}

// ListGroups returns every group the owner has, oldest first.
func (p *PostgresDB) ListGroups(ctx context.Context, ownerID uuid.UUID) ([]*models.GuardianGroup, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, owner_id, name, guardians, created_at, updated_at
		FROM guardian_groups
		WHERE owner_id = $1
		ORDER BY created_at ASC
	`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list guardian groups: %w", err)
	}
	defer rows.Close()
	return scanGroups(rows)
}

func scanGroups(rows *sql.Rows) ([]*models.GuardianGroup, error) {
	var groups []*models.GuardianGroup
	for rows.Next() {
		var (
			g         models.GuardianGroup
			guardians []byte
		)
		if err := rows.Scan(&g.ID, &g.OwnerID, &g.Name, &guardians, &g.CreatedAt, &g.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan guardian group: %w", err)
		}
		if err := json.Unmarshal(guardians, &g.Guardians); err != nil {
			return nil, fmt.Errorf("invalid guardians for group %s: %w", g.ID, err)
		}
		groups = append(groups, &g)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate guardian groups: %w", err)
	}
	return groups, nil
}

func uuidStrings(ids []uuid.UUID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = id.String()
	}
	return out
}

func stateStrings(states []models.State) []string {
	out := make([]string, len(states))
	for i, s := range states {
		out[i] = string(s)
	}
	return out
}

func eventTypeStrings(types []models.EventType) []string {
	if len(types) == 0 {
		return nil
	}
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func nullEndedVia(v *models.EndedVia) sql.NullString {
	if v == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: string(*v), Valid: true}
}

func parseNullEndedVia(v sql.NullString) (*models.EndedVia, error) {
	if !v.Valid {
		return nil, nil
	}
	e, err := models.ParseEndedVia(v.String)
	if err != nil {
		return nil, err
	}
	return &e, nil
}
