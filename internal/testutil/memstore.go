package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/rtolen/vairify-dev-sub001/internal/database"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
)

// MemStore is an in-memory twin of database.PostgresDB for service tests.
// It enforces the same constraints the schema does: one open session per
// owner, the deadline ordering check, compare-and-swap transitions,
// dedupe keys on events and the open-session guard on group deletion.
//
// Values are copied on the way in and out, so callers can never mutate
// stored state behind the store's back.
type MemStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
	events   []*models.EscalationEvent
	codes    map[uuid.UUID]*models.SafetyCodePair
	groups   map[uuid.UUID]*models.GuardianGroup
	nextID   int64

	// GetSessionHook, when set, runs before GetSession and may fail it.
	GetSessionHook func(id uuid.UUID) error
	// GetGroupsHook, when set, runs before GetGroups and may fail it.
	GetGroupsHook func(ids []uuid.UUID) error
}

// NewMemStore returns an empty store.
func NewMemStore() *MemStore {
	return &MemStore{
		sessions: make(map[uuid.UUID]*models.Session),
		codes:    make(map[uuid.UUID]*models.SafetyCodePair),
		groups:   make(map[uuid.UUID]*models.GuardianGroup),
	}
}

func (m *MemStore) InsertSession(ctx context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !(s.CreatedAt.Before(s.ScheduledEndAt) && s.ScheduledEndAt.Before(s.BufferEndAt)) {
		return fmt.Errorf("deadline ordering check violated")
	}
	if len(s.GuardianGroupIDs) == 0 {
		return fmt.Errorf("guardian groups check violated")
	}
	for _, existing := range m.sessions {
		if existing.OwnerID == s.OwnerID && existing.State != models.StateResolved {
			return fmt.Errorf("owner %s already has an open session: %w", s.OwnerID, database.ErrDuplicate)
		}
	}
	if _, ok := m.sessions[s.ID]; ok {
		return fmt.Errorf("session %s: %w", s.ID, database.ErrDuplicate)
	}

	m.sessions[s.ID] = copySession(s)
	return nil
}

func (m *MemStore) GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error) {
	if m.GetSessionHook != nil {
		if err := m.GetSessionHook(id); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, database.ErrNotFound)
	}
	return copySession(s), nil
}

func (m *MemStore) GetOpenSessionByOwner(ctx context.Context, ownerID uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.OwnerID == ownerID && s.State != models.StateResolved {
			return copySession(s), nil
		}
	}
	return nil, fmt.Errorf("open session for owner %s: %w", ownerID, database.ErrNotFound)
}

func (m *MemStore) ApplyTransition(ctx context.Context, t models.Transition, ev *models.EscalationEvent) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[t.SessionID]
	if !ok {
		return false, fmt.Errorf("session %s: %w", t.SessionID, database.ErrNotFound)
	}
	if s.State != t.From {
		return false, nil
	}

	t.Apply(s)
	if ev != nil {
		m.appendLocked(ev)
	}
	return true, nil
}

func (m *MemStore) RecordLocation(ctx context.Context, sessionID uuid.UUID, point *models.GeoPoint, ev *models.EscalationEvent, accepting []models.State) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return false, fmt.Errorf("session %s: %w", sessionID, database.ErrNotFound)
	}
	if !containsState(accepting, s.State) {
		return false, nil
	}

	if point != nil {
		p := *point
		s.LastGPS = &p
	}
	s.UpdatedAt = ev.CreatedAt
	m.appendLocked(ev)
	return true, nil
}

func (m *MemStore) SetNearestResponder(ctx context.Context, sessionID uuid.UUID, r models.Responder) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[sessionID]
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, database.ErrNotFound)
	}
	s.NearestResponder = &r
	return nil
}

func (m *MemStore) ListSessionsInStates(ctx context.Context, states []models.State, limit, offset int) ([]*models.Session, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*models.Session
	for _, s := range m.sessions {
		if containsState(states, s.State) {
			matched = append(matched, copySession(s))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].BufferEndAt.Equal(matched[j].BufferEndAt) {
			return matched[i].ID.String() < matched[j].ID.String()
		}
		return matched[i].BufferEndAt.Before(matched[j].BufferEndAt)
	})

	return page(matched, limit, offset), int64(len(matched)), nil
}

func (m *MemStore) AppendEventOnce(ctx context.Context, ev *models.EscalationEvent) (bool, error) {
	if ev.DedupeKey == "" {
		return false, fmt.Errorf("dedupe key is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.events {
		if existing.SessionID == ev.SessionID && existing.DedupeKey == ev.DedupeKey {
			return false, nil
		}
	}
	m.appendLocked(ev)
	return true, nil
}

func (m *MemStore) appendLocked(ev *models.EscalationEvent) {
	m.nextID++
	ev.ID = m.nextID
	stored := *ev
	m.events = append(m.events, &stored)
}

func (m *MemStore) ListEvents(ctx context.Context, sessionID uuid.UUID, types []models.EventType, limit, offset int) ([]*models.EscalationEvent, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var matched []*models.EscalationEvent
	for _, ev := range m.events {
		if ev.SessionID != sessionID {
			continue
		}
		if len(types) > 0 && !containsEventType(types, ev.Type) {
			continue
		}
		cp := *ev
		matched = append(matched, &cp)
	}

	return page(matched, limit, offset), int64(len(matched)), nil
}

func (m *MemStore) UpsertCodes(ctx context.Context, c *models.SafetyCodePair) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if string(c.DisarmHash) == string(c.DecoyHash) {
		return fmt.Errorf("codes must differ: %w", database.ErrDuplicate)
	}
	cp := *c
	m.codes[c.OwnerID] = &cp
	return nil
}

func (m *MemStore) GetCodes(ctx context.Context, ownerID uuid.UUID) (*models.SafetyCodePair, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.codes[ownerID]
	if !ok {
		return nil, fmt.Errorf("safety codes for %s: %w", ownerID, database.ErrNotFound)
	}
	cp := *c
	return &cp, nil
}

func (m *MemStore) CreateGroup(ctx context.Context, g *models.GuardianGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.groups[g.ID]; ok {
		return fmt.Errorf("guardian group %s: %w", g.ID, database.ErrDuplicate)
	}
	m.groups[g.ID] = copyGroup(g)
	return nil
}

func (m *MemStore) UpdateGroup(ctx context.Context, g *models.GuardianGroup) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.groups[g.ID]
	if !ok || existing.OwnerID != g.OwnerID {
		return fmt.Errorf("guardian group %s: %w", g.ID, database.ErrNotFound)
	}
	g.CreatedAt = existing.CreatedAt
	m.groups[g.ID] = copyGroup(g)
	return nil
}

func (m *MemStore) DeleteGroup(ctx context.Context, ownerID, groupID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	g, ok := m.groups[groupID]
	if !ok || g.OwnerID != ownerID {
		return fmt.Errorf("guardian group %s: %w", groupID, database.ErrNotFound)
	}
	for _, s := range m.sessions {
		if s.State == models.StateResolved {
			continue
		}
		for _, id := range s.GuardianGroupIDs {
			if id == groupID {
				return fmt.Errorf("guardian group %s: %w", groupID, database.ErrReferenced)
			}
		}
	}
	delete(m.groups, groupID)
	return nil
}

func (m *MemStore) GetGroups(ctx context.Context, ids []uuid.UUID) ([]*models.GuardianGroup, error) {
	if m.GetGroupsHook != nil {
		if err := m.GetGroupsHook(ids); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.GuardianGroup
	for _, id := range ids {
		if g, ok := m.groups[id]; ok {
			out = append(out, copyGroup(g))
		}
	}
	return out, nil
}

func (m *MemStore) ListGroups(ctx context.Context, ownerID uuid.UUID) ([]*models.GuardianGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.GuardianGroup
	for _, g := range m.groups {
		if g.OwnerID == ownerID {
			out = append(out, copyGroup(g))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Session returns a copy of the stored session, or nil. For assertions that
// inspect the store directly.
func (m *MemStore) Session(id uuid.UUID) *models.Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil
	}
	return copySession(s)
}

// EventsOfType returns copies of every stored event of typ for the session.
func (m *MemStore) EventsOfType(sessionID uuid.UUID, typ models.EventType) []*models.EscalationEvent {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*models.EscalationEvent
	for _, ev := range m.events {
		if ev.SessionID == sessionID && ev.Type == typ {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out
}

// DeleteSession removes a session row. Only tests use it, to simulate a
// deadline outliving its session.
func (m *MemStore) DeleteSession(id uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
}

func copySession(s *models.Session) *models.Session {
	cp := *s
	cp.GuardianGroupIDs = append([]uuid.UUID(nil), s.GuardianGroupIDs...)
	cp.Intel.PhotoRefs = append([]string(nil), s.Intel.PhotoRefs...)
	if s.Intel.Coordinates != nil {
		c := *s.Intel.Coordinates
		cp.Intel.Coordinates = &c
	}
	if s.LastGPS != nil {
		p := *s.LastGPS
		cp.LastGPS = &p
	}
	if s.EndedVia != nil {
		v := *s.EndedVia
		cp.EndedVia = &v
	}
	if s.ResolvedVia != nil {
		v := *s.ResolvedVia
		cp.ResolvedVia = &v
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	if s.NearestResponder != nil {
		r := *s.NearestResponder
		cp.NearestResponder = &r
	}
	return &cp
}

func copyGroup(g *models.GuardianGroup) *models.GuardianGroup {
	cp := *g
	cp.Guardians = append([]models.Guardian(nil), g.Guardians...)
	return &cp
}

func containsState(states []models.State, s models.State) bool {
	for _, candidate := range states {
		if candidate == s {
			return true
		}
	}
	return false
}

func containsEventType(types []models.EventType, t models.EventType) bool {
	for _, candidate := range types {
		if candidate == t {
			return true
		}
	}
	return false
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}
