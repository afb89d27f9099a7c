package handlers

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/internal/services"
	"github.com/rtolen/vairify-dev-sub001/internal/testutil"
	"github.com/rtolen/vairify-dev-sub001/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func setupOperatorHandler(t *testing.T) (*OperatorHandler, *MockOperatorService) {
	h, svc, _ := setupOperatorHandlerWithTokens(t)
	return h, svc
}

func setupOperatorHandlerWithTokens(t *testing.T) (*OperatorHandler, *MockOperatorService, *MockTokenRevoker) {
	t.Helper()
	svc := new(MockOperatorService)
	tokens := new(MockTokenRevoker)
	t.Cleanup(func() {
		svc.AssertExpectations(t)
		tokens.AssertExpectations(t)
	})
	return NewOperatorHandler(svc, tokens), svc, tokens
}

func TestOperatorHandlerQueue(t *testing.T) {
	t.Run("pages the escalated sessions", func(t *testing.T) {
		h, svc := setupOperatorHandler(t)
		sessions := []*models.Session{{ID: uuid.New(), State: models.StateEscalated}}
		svc.On("ListEscalated", mock.Anything, 5, 5).Return(sessions, int64(6), nil)

		req := testutil.MakeRequest(t, http.MethodGet, "/api/v1/operator/sessions?page=2&page_size=5", nil)
		rec := httptest.NewRecorder()
		h.Queue(rec, req)

		testutil.AssertStatusCode(t, rec, http.StatusOK)
		var page struct {
			Data       []models.Session `json:"data"`
			Pagination utils.PageMeta   `json:"pagination"`
		}
		testutil.ParseJSONResponse(t, rec, &page)
		require.Len(t, page.Data, 1)
		assert.Equal(t, sessions[0].ID, page.Data[0].ID)
		assert.EqualValues(t, 6, page.Pagination.TotalItems)
		assert.False(t, page.Pagination.HasNext)
	})

	t.Run("empty queue is an empty list", func(t *testing.T) {
		h, svc := setupOperatorHandler(t)
		svc.On("ListEscalated", mock.Anything, 20, 0).Return(nil, int64(0), nil)

		req := testutil.MakeRequest(t, http.MethodGet, "/api/v1/operator/sessions", nil)
		rec := httptest.NewRecorder()
		h.Queue(rec, req)

		testutil.AssertStatusCode(t, rec, http.StatusOK)
		assert.Contains(t, rec.Body.String(), `"data":[]`)
	})

	t.Run("store failure is 500", func(t *testing.T) {
		h, svc := setupOperatorHandler(t)
		svc.On("ListEscalated", mock.Anything, 20, 0).Return(nil, int64(0), errors.New("connection reset"))

		req := testutil.MakeRequest(t, http.MethodGet, "/api/v1/operator/sessions", nil)
		rec := httptest.NewRecorder()
		h.Queue(rec, req)

		testutil.AssertStatusCode(t, rec, http.StatusInternalServerError)
		assert.NotContains(t, rec.Body.String(), "connection reset")
	})
}

func TestOperatorHandlerView(t *testing.T) {
	sessionID := uuid.New()

	t.Run("returns the unmasked session", func(t *testing.T) {
		h, svc := setupOperatorHandler(t)
		decoy := models.EndedViaDecoy
		view := &services.OperatorView{
			Session:     &models.Session{ID: sessionID, State: models.StateEscalated, EndedVia: &decoy},
			Description: decoy.Describe(),
		}
		svc.On("OperatorView", mock.Anything, sessionID).Return(view, nil)

		req := testutil.WithURLParams(testutil.MakeRequest(t, http.MethodGet, "/api/v1/operator/sessions/"+sessionID.String(), nil), "id", sessionID.String())
		rec := httptest.NewRecorder()
		h.View(rec, req)

		testutil.AssertStatusCode(t, rec, http.StatusOK)
		var got services.OperatorView
		testutil.ParseJSONResponse(t, rec, &got)
		require.NotNil(t, got.Session.EndedVia)
		assert.Equal(t, models.EndedViaDecoy, *got.Session.EndedVia)
		assert.Equal(t, view.Description, got.Description)
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		h, svc := setupOperatorHandler(t)
		svc.On("OperatorView", mock.Anything, sessionID).Return(nil, services.ErrNotFound)

		req := testutil.WithURLParams(testutil.MakeRequest(t, http.MethodGet, "/", nil), "id", sessionID.String())
		rec := httptest.NewRecorder()
		h.View(rec, req)

		testutil.AssertStatusCode(t, rec, http.StatusNotFound)
	})
}

func TestOperatorHandlerResolve(t *testing.T) {
	operator := uuid.New()
	sessionID := uuid.New()
	path := "/api/v1/operator/sessions/" + sessionID.String() + "/resolve"

	t.Run("resolves with a note", func(t *testing.T) {
		h, svc := setupOperatorHandler(t)
		via := models.EndedViaOperatorResolved
		svc.On("OperatorResolve", mock.Anything, operator, sessionID, "Police on site").
			Return(&models.Session{ID: sessionID, State: models.StateResolved, ResolvedVia: &via}, nil)

		req := testutil.MakeRequest(t, http.MethodPost, path, ResolveRequest{Note: "Police on site"})
		req = asCaller(testutil.WithURLParams(req, "id", sessionID.String()), operator)
		rec := httptest.NewRecorder()
		h.Resolve(rec, req)

		testutil.AssertStatusCode(t, rec, http.StatusOK)
		var got models.Session
		testutil.ParseJSONResponse(t, rec, &got)
		assert.Equal(t, models.StateResolved, got.State)
	})

	t.Run("body is optional", func(t *testing.T) {
		h, svc := setupOperatorHandler(t)
		svc.On("OperatorResolve", mock.Anything, operator, sessionID, "").
			Return(&models.Session{ID: sessionID, State: models.StateResolved}, nil)

		req := httptest.NewRequest(http.MethodPost, path, nil)
		req = asCaller(testutil.WithURLParams(req, "id", sessionID.String()), operator)
		rec := httptest.NewRecorder()
		h.Resolve(rec, req)

		testutil.AssertStatusCode(t, rec, http.StatusOK)
	})

	t.Run("session that never escalated is 409", func(t *testing.T) {
		h, svc := setupOperatorHandler(t)
		svc.On("OperatorResolve", mock.Anything, operator, sessionID, "").
			Return(nil, &services.ConflictError{Message: "session is active; only escalated sessions can be resolved by an operator"})

		req := httptest.NewRequest(http.MethodPost, path, nil)
		req = asCaller(testutil.WithURLParams(req, "id", sessionID.String()), operator)
		rec := httptest.NewRecorder()
		h.Resolve(rec, req)

		testutil.AssertStatusCode(t, rec, http.StatusConflict)
	})

	t.Run("requires an authenticated caller", func(t *testing.T) {
		h, _ := setupOperatorHandler(t)

		req := testutil.WithURLParams(httptest.NewRequest(http.MethodPost, path, nil), "id", sessionID.String())
		rec := httptest.NewRecorder()
		h.Resolve(rec, req)

		testutil.AssertStatusCode(t, rec, http.StatusUnauthorized)
	})
}

func TestOperatorHandlerRevokeToken(t *testing.T) {
	operator := uuid.New()
	path := "/api/v1/operator/tokens/revoke"

	t.Run("revokes the token", func(t *testing.T) {
		h, _, tokens := setupOperatorHandlerWithTokens(t)
		tokens.On("RevokeToken", mock.Anything, "owner.device.token").Return(nil)

		req := asCaller(testutil.MakeRequest(t, http.MethodPost, path, RevokeRequest{Token: "owner.device.token"}), operator)
		rec := httptest.NewRecorder()
		h.RevokeToken(rec, req)

		testutil.AssertStatusCode(t, rec, http.StatusNoContent)
	})

	t.Run("missing token is 400", func(t *testing.T) {
		h, _, _ := setupOperatorHandlerWithTokens(t)

		req := asCaller(testutil.MakeRequest(t, http.MethodPost, path, RevokeRequest{}), operator)
		rec := httptest.NewRecorder()
		h.RevokeToken(rec, req)

		testutil.AssertStatusCode(t, rec, http.StatusBadRequest)
		var body utils.ErrorResponse
		testutil.ParseJSONResponse(t, rec, &body)
		assert.Equal(t, "token", body.Field)
	})

	t.Run("unverifiable token is 400", func(t *testing.T) {
		h, _, tokens := setupOperatorHandlerWithTokens(t)
		tokens.On("RevokeToken", mock.Anything, "forged").
			Return(&services.ValidationError{Field: "token", Message: "is not a valid access token"})

		req := asCaller(testutil.MakeRequest(t, http.MethodPost, path, RevokeRequest{Token: "forged"}), operator)
		rec := httptest.NewRecorder()
		h.RevokeToken(rec, req)

		testutil.AssertStatusCode(t, rec, http.StatusBadRequest)
	})

	t.Run("blacklist failure is 500", func(t *testing.T) {
		h, _, tokens := setupOperatorHandlerWithTokens(t)
		tokens.On("RevokeToken", mock.Anything, "owner.device.token").Return(errors.New("redis: connection refused"))

		req := asCaller(testutil.MakeRequest(t, http.MethodPost, path, RevokeRequest{Token: "owner.device.token"}), operator)
		rec := httptest.NewRecorder()
		h.RevokeToken(rec, req)

		testutil.AssertStatusCode(t, rec, http.StatusInternalServerError)
	})
}
