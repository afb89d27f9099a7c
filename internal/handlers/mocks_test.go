package handlers

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rtolen/vairify-dev-sub001/internal/middleware"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/internal/services"
	"github.com/stretchr/testify/mock"
)

type MockEscortService struct {
	mock.Mock
}

func (m *MockEscortService) Activate(ctx context.Context, p services.ActivateParams) (*models.Session, error) {
	args := m.Called(ctx, p)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockEscortService) GetSessionState(ctx context.Context, ownerID, sessionID uuid.UUID) (*models.Session, error) {
	args := m.Called(ctx, ownerID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockEscortService) CheckIn(ctx context.Context, ownerID, sessionID uuid.UUID, params services.HeartbeatParams) error {
	args := m.Called(ctx, ownerID, sessionID, params)
	return args.Error(0)
}

func (m *MockEscortService) RecordLocation(ctx context.Context, ownerID, sessionID uuid.UUID, point models.GeoPoint, userAgent string) error {
	args := m.Called(ctx, ownerID, sessionID, point, userAgent)
	return args.Error(0)
}

func (m *MockEscortService) Disarm(ctx context.Context, ownerID, sessionID uuid.UUID, code string) (services.DisarmReceipt, error) {
	args := m.Called(ctx, ownerID, sessionID, code)
	return args.Get(0).(services.DisarmReceipt), args.Error(1)
}

func (m *MockEscortService) Panic(ctx context.Context, ownerID, sessionID uuid.UUID) (*models.Session, error) {
	args := m.Called(ctx, ownerID, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

func (m *MockEscortService) ListAuditTrail(ctx context.Context, ownerID, sessionID uuid.UUID, limit, offset int) ([]*models.EscalationEvent, int64, error) {
	args := m.Called(ctx, ownerID, sessionID, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*models.EscalationEvent), args.Get(1).(int64), args.Error(2)
}

type MockCodeVault struct {
	mock.Mock
}

func (m *MockCodeVault) SetCodes(ctx context.Context, ownerID uuid.UUID, disarm, decoy string) error {
	args := m.Called(ctx, ownerID, disarm, decoy)
	return args.Error(0)
}

func (m *MockCodeVault) VerifyCodes(ctx context.Context, ownerID uuid.UUID, disarm, decoy string) (bool, error) {
	args := m.Called(ctx, ownerID, disarm, decoy)
	return args.Bool(0), args.Error(1)
}

type MockGroupDirectory struct {
	mock.Mock
}

func (m *MockGroupDirectory) CreateGroup(ctx context.Context, ownerID uuid.UUID, in services.GroupInput) (*models.GuardianGroup, error) {
	args := m.Called(ctx, ownerID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GuardianGroup), args.Error(1)
}

func (m *MockGroupDirectory) UpdateGroup(ctx context.Context, ownerID, groupID uuid.UUID, in services.GroupInput) (*models.GuardianGroup, error) {
	args := m.Called(ctx, ownerID, groupID, in)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.GuardianGroup), args.Error(1)
}

func (m *MockGroupDirectory) DeleteGroup(ctx context.Context, ownerID, groupID uuid.UUID) error {
	args := m.Called(ctx, ownerID, groupID)
	return args.Error(0)
}

func (m *MockGroupDirectory) ListGroups(ctx context.Context, ownerID uuid.UUID) ([]*models.GuardianGroup, error) {
	args := m.Called(ctx, ownerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*models.GuardianGroup), args.Error(1)
}

type MockOperatorService struct {
	mock.Mock
}

func (m *MockOperatorService) ListEscalated(ctx context.Context, limit, offset int) ([]*models.Session, int64, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Get(1).(int64), args.Error(2)
	}
	return args.Get(0).([]*models.Session), args.Get(1).(int64), args.Error(2)
}

func (m *MockOperatorService) OperatorView(ctx context.Context, sessionID uuid.UUID) (*services.OperatorView, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*services.OperatorView), args.Error(1)
}

func (m *MockOperatorService) OperatorResolve(ctx context.Context, operatorID, sessionID uuid.UUID, note string) (*models.Session, error) {
	args := m.Called(ctx, operatorID, sessionID, note)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Session), args.Error(1)
}

type MockTokenRevoker struct {
	mock.Mock
}

func (m *MockTokenRevoker) RevokeToken(ctx context.Context, tokenString string) error {
	args := m.Called(ctx, tokenString)
	return args.Error(0)
}

// asCaller puts userID in the request context the way JWTAuth does.
func asCaller(req *http.Request, userID uuid.UUID) *http.Request {
	return req.WithContext(context.WithValue(req.Context(), middleware.UserIDKey, userID))
}
