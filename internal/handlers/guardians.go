package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/internal/services"
	"github.com/rtolen/vairify-dev-sub001/pkg/utils"
)

// CodeVault sets and checks the caller's safety codes.
type CodeVault interface {
	SetCodes(ctx context.Context, ownerID uuid.UUID, disarm, decoy string) error
	VerifyCodes(ctx context.Context, ownerID uuid.UUID, disarm, decoy string) (bool, error)
}

// GroupDirectory manages the caller's guardian groups.
type GroupDirectory interface {
	CreateGroup(ctx context.Context, ownerID uuid.UUID, in services.GroupInput) (*models.GuardianGroup, error)
	UpdateGroup(ctx context.Context, ownerID, groupID uuid.UUID, in services.GroupInput) (*models.GuardianGroup, error)
	DeleteGroup(ctx context.Context, ownerID, groupID uuid.UUID) error
	ListGroups(ctx context.Context, ownerID uuid.UUID) ([]*models.GuardianGroup, error)
}

// GuardianHandler serves /api/v1/codes and /api/v1/guardian-groups, the
// setup a user does before starting a session.
type GuardianHandler struct {
	codes  CodeVault
	groups GroupDirectory
}

func NewGuardianHandler(codes CodeVault, groups GroupDirectory) *GuardianHandler {
	return &GuardianHandler{codes: codes, groups: groups}
}

// CodesRequest carries a plaintext code pair. It is never logged.
type CodesRequest struct {
	DisarmCode string `json:"disarm_code"`
	DecoyCode  string `json:"decoy_code"`
}

// VerifyCodesResponse reports whether a submitted pair is the stored one.
type VerifyCodesResponse struct {
	Valid bool `json:"valid"`
}

// SetCodes replaces the caller's disarm and decoy codes. 204 on success.
func (h *GuardianHandler) SetCodes(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req CodesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	if err := h.codes.SetCodes(r.Context(), ownerID, req.DisarmCode, req.DecoyCode); err != nil {
		writeServiceError(w, r, err, "set codes")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// VerifyCodes checks a pair against the stored codes while the user edits
// them. 404 when no codes are set yet.
func (h *GuardianHandler) VerifyCodes(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req CodesRequest
	if !decodeBody(w, r, &req) {
		return
	}

	valid, err := h.codes.VerifyCodes(r.Context(), ownerID, req.DisarmCode, req.DecoyCode)
	if err != nil {
		writeServiceError(w, r, err, "verify codes")
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, VerifyCodesResponse{Valid: valid})
}

// ListGroups returns the caller's guardian groups.
func (h *GuardianHandler) ListGroups(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}

	groups, err := h.groups.ListGroups(r.Context(), ownerID)
	if err != nil {
		writeServiceError(w, r, err, "list groups")
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, groups)
}

// CreateGroup adds a guardian group. 201 with the stored group.
func (h *GuardianHandler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}

	var in services.GroupInput
	if !decodeBody(w, r, &in) {
		return
	}

	group, err := h.groups.CreateGroup(r.Context(), ownerID, in)
	if err != nil {
		writeServiceError(w, r, err, "create group")
		return
	}

	utils.RespondWithJSON(w, r, http.StatusCreated, group)
}

// UpdateGroup replaces a group's name and guardians.
func (h *GuardianHandler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var in services.GroupInput
	if !decodeBody(w, r, &in) {
		return
	}

	group, err := h.groups.UpdateGroup(r.Context(), ownerID, groupID, in)
	if err != nil {
		writeServiceError(w, r, err, "update group")
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, group)
}

// DeleteGroup removes a group. 409 while an open session uses it.
func (h *GuardianHandler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}
	groupID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	if err := h.groups.DeleteGroup(r.Context(), ownerID, groupID); err != nil {
		writeServiceError(w, r, err, "delete group")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
