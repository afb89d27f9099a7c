package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/internal/services"
	"github.com/rtolen/vairify-dev-sub001/pkg/utils"
)

// OperatorService is the operator-facing part of *services.Lifecycle.
type OperatorService interface {
	ListEscalated(ctx context.Context, limit, offset int) ([]*models.Session, int64, error)
	OperatorView(ctx context.Context, sessionID uuid.UUID) (*services.OperatorView, error)
	OperatorResolve(ctx context.Context, operatorID, sessionID uuid.UUID, note string) (*models.Session, error)
}

// TokenRevoker blacklists access tokens. *services.JWTService implements it.
type TokenRevoker interface {
	RevokeToken(ctx context.Context, tokenString string) error
}

// OperatorHandler serves /api/v1/operator. Routes are mounted behind
// middleware.RequireRole(services.RoleOperator).
type OperatorHandler struct {
	sessions OperatorService
	tokens   TokenRevoker
}

func NewOperatorHandler(sessions OperatorService, tokens TokenRevoker) *OperatorHandler {
	return &OperatorHandler{sessions: sessions, tokens: tokens}
}

// ResolveRequest closes an escalation.
type ResolveRequest struct {
	Note string `json:"note"`
}

// RevokeRequest names the access token to cut off.
type RevokeRequest struct {
	Token string `json:"token"`
}

// Queue lists escalated sessions awaiting an operator, oldest escalation
// first.
func (h *OperatorHandler) Queue(w http.ResponseWriter, r *http.Request) {
	params := utils.ParsePageParams(r)

	sessions, total, err := h.sessions.ListEscalated(r.Context(), params.Limit, params.Offset)
	if err != nil {
		writeServiceError(w, r, err, "list escalated")
		return
	}
	if sessions == nil {
		sessions = []*models.Session{}
	}

	utils.RespondWithJSON(w, r, http.StatusOK, utils.NewPaginatedResponse(sessions, params, total))
}

// View returns the full operator view of a session, including intel,
// last location, responder and the recent audit trail.
func (h *OperatorHandler) View(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	view, err := h.sessions.OperatorView(r.Context(), sessionID)
	if err != nil {
		writeServiceError(w, r, err, "operator view")
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, view)
}

// Resolve marks an escalated session handled. The body is optional.
// Resolving an already resolved session returns it unchanged.
func (h *OperatorHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := callerID(w, r)
	if !ok {
		return
	}
	sessionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req ResolveRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	session, err := h.sessions.OperatorResolve(r.Context(), operatorID, sessionID, req.Note)
	if err != nil {
		writeServiceError(w, r, err, "operator resolve")
		return
	}

	log.Info().
		Str("operator_id", operatorID.String()).
		Str("session_id", sessionID.String()).
		Msg("Escalation resolved by operator")

	utils.RespondWithJSON(w, r, http.StatusOK, session)
}

// RevokeToken blacklists an access token, for example one held by a
// compromised or seized owner device. Every later request with it gets 401.
func (h *OperatorHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	operatorID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req RevokeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Token == "" {
		utils.RespondWithFieldError(w, r, http.StatusBadRequest, "token", "is required")
		return
	}

	if err := h.tokens.RevokeToken(r.Context(), req.Token); err != nil {
		writeServiceError(w, r, err, "revoke token")
		return
	}

	log.Info().Str("operator_id", operatorID.String()).Msg("Access token revoked by operator")

	w.WriteHeader(http.StatusNoContent)
}
