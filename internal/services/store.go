package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
)

// SessionStore is the durable record of escort sessions. *database.PostgresDB
// implements it; tests use testutil.MemStore.
type SessionStore interface {
	InsertSession(ctx context.Context, s *models.Session) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
	GetOpenSessionByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Session, error)
	ApplyTransition(ctx context.Context, t models.Transition, ev *models.EscalationEvent) (bool, error)
	RecordLocation(ctx context.Context, sessionID uuid.UUID, point *models.GeoPoint, ev *models.EscalationEvent, accepting []models.State) (bool, error)
	SetNearestResponder(ctx context.Context, sessionID uuid.UUID, r models.Responder) error
	ListSessionsInStates(ctx context.Context, states []models.State, limit, offset int) ([]*models.Session, int64, error)
}

// EventStore is the append-only escalation log.
type EventStore interface {
	AppendEventOnce(ctx context.Context, ev *models.EscalationEvent) (bool, error)
	ListEvents(ctx context.Context, sessionID uuid.UUID, types []models.EventType, limit, offset int) ([]*models.EscalationEvent, int64, error)
}

// CodeStore persists safety code hashes.
type CodeStore interface {
	UpsertCodes(ctx context.Context, c *models.SafetyCodePair) error
	GetCodes(ctx context.Context, ownerID uuid.UUID) (*models.SafetyCodePair, error)
}

// GroupStore persists guardian groups.
type GroupStore interface {
	CreateGroup(ctx context.Context, g *models.GuardianGroup) error
	UpdateGroup(ctx context.Context, g *models.GuardianGroup) error
	DeleteGroup(ctx context.Context, ownerID, groupID uuid.UUID) error
	GetGroups(ctx context.Context, ids []uuid.UUID) ([]*models.GuardianGroup, error)
	ListGroups(ctx context.Context, ownerID uuid.UUID) ([]*models.GuardianGroup, error)
}

// Store is everything the lifecycle controller reads and writes.
type Store interface {
	SessionStore
	EventStore
	CodeStore
	GroupStore
}

// DeadlineQueue is the durable timer queue. *database.RedisDB implements it.
type DeadlineQueue interface {
	ScheduleDeadline(ctx context.Context, d models.Deadline) error
	CancelDeadlines(ctx context.Context, sessionID uuid.UUID) error
	DueDeadlines(ctx context.Context, now time.Time, limit int64) ([]models.Deadline, error)
	ClaimDeadline(ctx context.Context, d models.Deadline) (bool, error)
	PendingDeadlines(ctx context.Context) (int64, error)
}

// EscalationPublisher pushes escalation notices to the operator channel.
type EscalationPublisher interface {
	PublishEscalation(ctx context.Context, channel string, payload []byte) (int64, error)
}
