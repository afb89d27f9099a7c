package services

import (
	"context"
	"net/mail"
	"net/url"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/pkg/clock"
)

const (
	maxGroupNameLen  = 100
	maxGuardians     = 50
	maxGuardianName  = 100
	maxPushTokenLen  = 4096
	maxWebhookURLLen = 2048
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{6,14}$`)

// GroupInput is the caller-editable part of a guardian group.
type GroupInput struct {
	Name      string            `json:"name"`
	Guardians []models.Guardian `json:"guardians"`
}

// GuardianDirectory manages an owner's guardian groups. Sessions reference
// groups by ID and read them at send time, so edits apply to open sessions.
type GuardianDirectory struct {
	store GroupStore
	clock clock.Clock
}

func NewGuardianDirectory(store GroupStore, clk clock.Clock) *GuardianDirectory {
	return &GuardianDirectory{store: store, clock: clk}
}

// CreateGroup validates in and stores a new group owned by ownerID.
func (d *GuardianDirectory) CreateGroup(ctx context.Context, ownerID uuid.UUID, in GroupInput) (*models.GuardianGroup, error) {
	guardians, err := validateGroup(in)
	if err != nil {
		return nil, err
	}

	now := d.clock.Now()
	g := &models.GuardianGroup{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(in.Name),
		Guardians: guardians,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := d.store.CreateGroup(ctx, g); err != nil {
		return nil, storeErr(err, "guardian group")
	}

	log.Info().
		Str("owner_id", ownerID.String()).
		Str("group_id", g.ID.String()).
		Int("guardians", len(g.Guardians)).
		Msg("Guardian group created")

	return g, nil
}

// UpdateGroup replaces the name and guardian list of one of the owner's
// groups. Another owner's group is reported as ErrNotFound.
func (d *GuardianDirectory) UpdateGroup(ctx context.Context, ownerID, groupID uuid.UUID, in GroupInput) (*models.GuardianGroup, error) {
	guardians, err := validateGroup(in)
	if err != nil {
		return nil, err
	}

	g := &models.GuardianGroup{
		ID:        groupID,
		OwnerID:   ownerID,
		Name:      strings.TrimSpace(in.Name),
		Guardians: guardians,
		UpdatedAt: d.clock.Now(),
	}
	if err := d.store.UpdateGroup(ctx, g); err != nil {
		return nil, storeErr(err, "guardian group")
	}
	return g, nil
}

// DeleteGroup removes one of the owner's groups. A group referenced by a
// session that is not yet resolved cannot be deleted (ConflictError).
func (d *GuardianDirectory) DeleteGroup(ctx context.Context, ownerID, groupID uuid.UUID) error {
	if err := d.store.DeleteGroup(ctx, ownerID, groupID); err != nil {
		return storeErr(err, "guardian group")
	}

	log.Info().
		Str("owner_id", ownerID.String()).
		Str("group_id", groupID.String()).
		Msg("Guardian group deleted")
	return nil
}

// ListGroups returns the owner's groups, oldest first.
func (d *GuardianDirectory) ListGroups(ctx context.Context, ownerID uuid.UUID) ([]*models.GuardianGroup, error) {
	groups, err := d.store.ListGroups(ctx, ownerID)
	if err != nil {
		return nil, storeErr(err, "guardian groups")
	}
	if groups == nil {
		groups = []*models.GuardianGroup{}
	}
	return groups, nil
}

// validateGroup checks in and returns the normalized guardian list.
func validateGroup(in GroupInput) ([]models.Guardian, error) {
	name := strings.TrimSpace(in.Name)
	switch {
	case name == "":
		return nil, invalid("name", "is required")
	case len(name) > maxGroupNameLen:
		return nil, invalid("name", "must be at most %d characters", maxGroupNameLen)
	case len(in.Guardians) == 0:
		return nil, invalid("guardians", "at least one guardian is required")
	case len(in.Guardians) > maxGuardians:
		return nil, invalid("guardians", "at most %d guardians per group", maxGuardians)
	}

	seen := make(map[string]bool, len(in.Guardians))
	out := make([]models.Guardian, 0, len(in.Guardians))
	for i, g := range in.Guardians {
		g.Name = strings.TrimSpace(g.Name)
		g.Address = strings.TrimSpace(g.Address)

		if len(g.Name) > maxGuardianName {
			return nil, invalid("guardians", "guardian %d: name must be at most %d characters", i, maxGuardianName)
		}
		if err := validateAddress(g.Channel, g.Address); err != nil {
			return nil, invalid("guardians", "guardian %d: %v", i, err)
		}

		key := string(g.Channel) + "|" + strings.ToLower(g.Address)
		if seen[key] {
			return nil, invalid("guardians", "guardian %d: duplicate %s address", i, g.Channel)
		}
		seen[key] = true
		out = append(out, g)
	}
	return out, nil
}

func validateAddress(ch models.Channel, addr string) error {
	if !ch.Valid() {
		return invalid("channel", "unsupported channel %q", ch)
	}
	if addr == "" {
		return invalid("address", "is required")
	}

	switch ch {
	case models.ChannelSMS:
		if !e164.MatchString(addr) {
			return invalid("address", "phone number must be in E.164 format")
		}
	case models.ChannelEmail:
		parsed, err := mail.ParseAddress(addr)
		if err != nil || parsed.Address != addr {
			return invalid("address", "invalid email address")
		}
	case models.ChannelPush:
		if len(addr) > maxPushTokenLen {
			return invalid("address", "push token too long")
		}
	case models.ChannelWebhook:
		u, err := url.Parse(addr)
		if err != nil || len(addr) > maxWebhookURLLen || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
			return invalid("address", "webhook must be an absolute http(s) URL")
		}
	}
	return nil
}
