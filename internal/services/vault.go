package services

import (
	"context"
	"errors"
	"fmt"
	"unicode"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/pkg/clock"
	"golang.org/x/crypto/bcrypt"
)

const (
	minCodeLength = 4
	maxCodeLength = 32
)

// placeholderHash is compared against when an owner has no codes stored, so
// a lookup miss costs the same two bcrypt rounds as a hit.
var placeholderHash, _ = bcrypt.GenerateFromPassword([]byte("placeholder-code"), bcrypt.MinCost)

// CodeVault stores and verifies each owner's disarm and decoy codes.
//
// Codes are hashed with bcrypt, which salts every hash, so two equal codes
// never produce equal hashes. Equality is therefore checked by comparing
// the candidate decoy against the freshly computed disarm hash.
//
// Plaintext codes are never logged and never leave this type.
type CodeVault struct {
	store CodeStore
	clock clock.Clock
	cost  int // bcrypt work factor
}

// NewCodeVault creates a vault. cost is the bcrypt work factor; pass
// bcrypt.DefaultCost in production.
func NewCodeVault(store CodeStore, clk clock.Clock, cost int) *CodeVault {
	return &CodeVault{store: store, clock: clk, cost: cost}
}

// SetCodes replaces the owner's code pair. Returns a ValidationError when a
// code is malformed or the two codes are the same.
func (v *CodeVault) SetCodes(ctx context.Context, ownerID uuid.UUID, disarm, decoy string) error {
	if err := validateCode("disarm_code", disarm); err != nil {
		return err
	}
	if err := validateCode("decoy_code", decoy); err != nil {
		return err
	}

	disarmHash, err := bcrypt.GenerateFromPassword([]byte(disarm), v.cost)
	if err != nil {
		return fmt.Errorf("failed to hash disarm code: %w", err)
	}
	if bcrypt.CompareHashAndPassword(disarmHash, []byte(decoy)) == nil {
		return invalid("decoy_code", "must differ from the disarm code")
	}

	decoyHash, err := bcrypt.GenerateFromPassword([]byte(decoy), v.cost)
	if err != nil {
		return fmt.Errorf("failed to hash decoy code: %w", err)
	}

	pair := &models.SafetyCodePair{
		OwnerID:    ownerID,
		DisarmHash: disarmHash,
		DecoyHash:  decoyHash,
		UpdatedAt:  v.clock.Now(),
	}
	if err := v.store.UpsertCodes(ctx, pair); err != nil {
		return storeErr(err, "safety codes")
	}

	return nil
}

// Verify checks a submitted code against both stored hashes.
//
// Both comparisons always run, whatever the first one returned, so the
// time spent does not depend on which code (if any) matched. An owner
// without codes is compared against a placeholder hash and gets NoMatch
// along with ErrNotFound.
func (v *CodeVault) Verify(ctx context.Context, ownerID uuid.UUID, code string) (models.VerifyOutcome, error) {
	disarmHash, decoyHash := placeholderHash, placeholderHash

	pair, err := v.store.GetCodes(ctx, ownerID)
	switch {
	case err == nil:
		disarmHash, decoyHash = pair.DisarmHash, pair.DecoyHash
	default:
		err = storeErr(err, "safety codes")
	}

	disarmOK := bcrypt.CompareHashAndPassword(disarmHash, []byte(code)) == nil
	decoyOK := bcrypt.CompareHashAndPassword(decoyHash, []byte(code)) == nil

	if err != nil {
		return models.NoMatch, err
	}

	outcome := models.NoMatch
	if disarmOK {
		outcome = models.MatchDisarm
	}
	if decoyOK {
		outcome = models.MatchDecoy
	}
	return outcome, nil
}

// VerifyCodes is the setup-time check used while editing codes: it reports
// whether disarm and decoy are exactly the stored pair.
func (v *CodeVault) VerifyCodes(ctx context.Context, ownerID uuid.UUID, disarm, decoy string) (bool, error) {
	pair, err := v.store.GetCodes(ctx, ownerID)
	if err != nil {
		return false, storeErr(err, "safety codes")
	}

	disarmOK := bcrypt.CompareHashAndPassword(pair.DisarmHash, []byte(disarm)) == nil
	decoyOK := bcrypt.CompareHashAndPassword(pair.DecoyHash, []byte(decoy)) == nil
	return disarmOK && decoyOK, nil
}

// HasCodes reports whether the owner has configured a code pair.
func (v *CodeVault) HasCodes(ctx context.Context, ownerID uuid.UUID) (bool, error) {
	_, err := v.store.GetCodes(ctx, ownerID)
	if err == nil {
		return true, nil
	}
	if err = storeErr(err, "safety codes"); errors.Is(err, ErrNotFound) {
		return false, nil
	}
	log.Error().Err(err).Str("owner_id", ownerID.String()).Msg("Failed to look up safety codes")
	return false, err
}

func validateCode(field, code string) error {
	if len(code) < minCodeLength || len(code) > maxCodeLength {
		return invalid(field, "must be between %d and %d characters", minCodeLength, maxCodeLength)
	}
	for _, r := range code {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return invalid(field, "may only contain letters and digits")
		}
	}
	return nil
}
