package handlers

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rtolen/vairify-dev-sub001/internal/middleware"
	"github.com/rtolen/vairify-dev-sub001/internal/services"
	"github.com/rtolen/vairify-dev-sub001/pkg/utils"
)

// writeServiceError maps the service error taxonomy onto HTTP statuses.
// Anything unrecognized is logged and reported as a bare 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error, action string) {
	var (
		verr *services.ValidationError
		cerr *services.ConflictError
	)

	switch {
	case errors.As(err, &verr):
		utils.RespondWithFieldError(w, r, http.StatusBadRequest, verr.Field, verr.Message)
	case errors.Is(err, services.ErrNotFound):
		utils.RespondWithError(w, r, http.StatusNotFound, "Not found")
	case errors.As(err, &cerr):
		utils.RespondWithError(w, r, http.StatusConflict, cerr.Message)
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("action", action).Msg("Request failed")
		utils.RespondWithError(w, r, http.StatusInternalServerError, "Internal server error")
	}
}

// callerID returns the authenticated user, writing a 401 when there is none.
func callerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, ok := middleware.GetUserID(r.Context())
	if !ok {
		utils.RespondWithError(w, r, http.StatusUnauthorized, "Unauthorized")
		return uuid.Nil, false
	}
	return id, true
}

// pathID parses the {name} URL parameter as a UUID, writing a 400 when it
// is malformed.
func pathID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		utils.RespondWithFieldError(w, r, http.StatusBadRequest, name, "must be a UUID")
		return uuid.Nil, false
	}
	return id, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	if err := utils.DecodeJSON(w, r, dst); err != nil {
		utils.RespondWithError(w, r, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}
