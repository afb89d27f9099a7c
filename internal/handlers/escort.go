// Package handlers provides the HTTP surface of the escort service. Handlers
// decode and check requests, call the service layer through small
// interfaces and map service errors onto statuses.
//
// This package includes handlers for:
//   - Health checks and readiness probes
//   - Escort sessions (activate, check-in, location, disarm, panic, audit trail)
//   - Safety codes and guardian groups
//   - The operator escalation queue
package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/internal/services"
	"github.com/rtolen/vairify-dev-sub001/pkg/utils"
)

// EscortService is the owner-facing part of *services.Lifecycle.
type EscortService interface {
	Activate(ctx context.Context, p services.ActivateParams) (*models.Session, error)
	GetSessionState(ctx context.Context, ownerID, sessionID uuid.UUID) (*models.Session, error)
	CheckIn(ctx context.Context, ownerID, sessionID uuid.UUID, params services.HeartbeatParams) error
	RecordLocation(ctx context.Context, ownerID, sessionID uuid.UUID, point models.GeoPoint, userAgent string) error
	Disarm(ctx context.Context, ownerID, sessionID uuid.UUID, code string) (services.DisarmReceipt, error)
	Panic(ctx context.Context, ownerID, sessionID uuid.UUID) (*models.Session, error)
	ListAuditTrail(ctx context.Context, ownerID, sessionID uuid.UUID, limit, offset int) ([]*models.EscalationEvent, int64, error)
}

// EscortHandler serves /api/v1/sessions. Every route acts on the caller's
// own sessions; another owner's session is reported as not found.
type EscortHandler struct {
	sessions EscortService
}

// NewEscortHandler creates the session handler.
//
// Example:
//
//	escortHandler := handlers.NewEscortHandler(lifecycle)
//	r.Post("/sessions", escortHandler.Activate)
func NewEscortHandler(sessions EscortService) *EscortHandler {
	return &EscortHandler{sessions: sessions}
}

// ActivateRequest starts a session. Durations are whole minutes; a missing
// buffer means the server default.
type ActivateRequest struct {
	GuardianGroupIDs []uuid.UUID  `json:"guardian_group_ids"`
	DurationMinutes  int          `json:"duration_minutes"`
	BufferMinutes    *int         `json:"buffer_minutes,omitempty"`
	Intel            models.Intel `json:"intel"`
}

// CheckInRequest is an optional heartbeat body.
type CheckInRequest struct {
	Location   *models.GeoPoint `json:"location,omitempty"`
	BatteryPct *int             `json:"battery_pct,omitempty"`
}

// DisarmRequest carries a submitted code.
type DisarmRequest struct {
	Code string `json:"code"`
}

// Activate starts a monitored session.
//
// Example request:
//
//	POST /api/v1/sessions
//	{"guardian_group_ids":["..."],"duration_minutes":90,"intel":{"location_text":"Hotel Adlon, room 412"}}
//
// Responds 201 with the session, 400 on invalid input or missing codes, and
// 409 when the caller already has an open session.
func (h *EscortHandler) Activate(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}

	var req ActivateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	params := services.ActivateParams{
		OwnerID:          ownerID,
		GuardianGroupIDs: req.GuardianGroupIDs,
		Duration:         time.Duration(req.DurationMinutes) * time.Minute,
		Intel:            req.Intel,
	}
	if req.BufferMinutes != nil {
		if *req.BufferMinutes <= 0 {
			utils.RespondWithFieldError(w, r, http.StatusBadRequest, "buffer_minutes", "must be positive")
			return
		}
		params.Buffer = time.Duration(*req.BufferMinutes) * time.Minute
	}

	session, err := h.sessions.Activate(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, err, "activate")
		return
	}

	utils.RespondWithJSON(w, r, http.StatusCreated, session)
}

// Get returns the caller's view of a session.
func (h *EscortHandler) Get(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}
	sessionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	session, err := h.sessions.GetSessionState(r.Context(), ownerID, sessionID)
	if err != nil {
		writeServiceError(w, r, err, "get session")
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, session)
}

// CheckIn records a heartbeat. The body is optional; when it carries a
// location the fix is stored as well.
func (h *EscortHandler) CheckIn(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}
	sessionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req CheckInRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	err := h.sessions.CheckIn(r.Context(), ownerID, sessionID, services.HeartbeatParams{
		Point:      req.Location,
		UserAgent:  r.UserAgent(),
		BatteryPct: req.BatteryPct,
	})
	if err != nil {
		writeServiceError(w, r, err, "check in")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Location stores a GPS fix.
func (h *EscortHandler) Location(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}
	sessionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var point models.GeoPoint
	if !decodeBody(w, r, &point) {
		return
	}

	if err := h.sessions.RecordLocation(r.Context(), ownerID, sessionID, point, r.UserAgent()); err != nil {
		writeServiceError(w, r, err, "record location")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// Disarm submits a safety code. The response body and status are the same
// for the disarm code and the duress code; only a wrong code differs, and
// only in the receipt text.
func (h *EscortHandler) Disarm(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}
	sessionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	var req DisarmRequest
	if !decodeBody(w, r, &req) {
		return
	}

	receipt, err := h.sessions.Disarm(r.Context(), ownerID, sessionID, req.Code)
	if err != nil {
		writeServiceError(w, r, err, "disarm")
		return
	}

	utils.RespondWithJSON(w, r, http.StatusOK, receipt)
}

// Panic escalates a monitored session immediately.
func (h *EscortHandler) Panic(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}
	sessionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	session, err := h.sessions.Panic(r.Context(), ownerID, sessionID)
	if err != nil {
		writeServiceError(w, r, err, "panic")
		return
	}

	log.Warn().
		Str("owner_id", ownerID.String()).
		Str("session_id", sessionID.String()).
		Msg("Panic button pressed")

	utils.RespondWithJSON(w, r, http.StatusOK, session)
}

// Events returns a page of the session's audit trail, oldest first.
//
// Query parameters: page (default 1), page_size (default 20, max 100).
func (h *EscortHandler) Events(w http.ResponseWriter, r *http.Request) {
	ownerID, ok := callerID(w, r)
	if !ok {
		return
	}
	sessionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}

	params := utils.ParsePageParams(r)
	events, total, err := h.sessions.ListAuditTrail(r.Context(), ownerID, sessionID, params.Limit, params.Offset)
	if err != nil {
		writeServiceError(w, r, err, "list events")
		return
	}
	if events == nil {
		events = []*models.EscalationEvent{}
	}

	utils.RespondWithJSON(w, r, http.StatusOK, utils.NewPaginatedResponse(events, params, total))
}
