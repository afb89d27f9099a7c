package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rtolen/vairify-dev-sub001/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockRateCounter struct {
	mock.Mock
}

func (m *mockRateCounter) IncrementRateLimit(ctx context.Context, key, endpoint string, window time.Duration) (int64, error) {
	args := m.Called(ctx, key, endpoint, window)
	return args.Get(0).(int64), args.Error(1)
}

func okHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

func TestRateLimiter(t *testing.T) {
	t.Run("blocks after the limit within one window", func(t *testing.T) {
		mr, cleanup := testutil.SetupMiniRedis(t)
		defer cleanup()
		redisDB := testutil.NewTestRedisDB(t, mr)
		defer redisDB.Close()

		handler := NewRateLimiter(redisDB, 3, time.Minute).Limit("disarm")(okHandler())

		codes := make([]int, 0, 4)
		for i := 0; i < 4; i++ {
			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions/x/disarm", nil)
			req.RemoteAddr = "203.0.113.7:51234"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			codes = append(codes, rec.Code)

			if i == 3 {
				assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))
				assert.Equal(t, "60", rec.Header().Get("Retry-After"))
			}
		}

		assert.Equal(t, []int{204, 204, 204, 429}, codes)
		assert.True(t, mr.Exists("ratelimit:ip:203.0.113.7:disarm"))
	})

	t.Run("window expiry resets the budget", func(t *testing.T) {
		mr, cleanup := testutil.SetupMiniRedis(t)
		defer cleanup()
		redisDB := testutil.NewTestRedisDB(t, mr)
		defer redisDB.Close()

		handler := NewRateLimiter(redisDB, 1, time.Minute).Limit("disarm")(okHandler())
		serve := func() int {
			req := httptest.NewRequest(http.MethodPost, "/", nil)
			req.RemoteAddr = "203.0.113.7:51234"
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)
			return rec.Code
		}

		assert.Equal(t, http.StatusNoContent, serve())
		assert.Equal(t, http.StatusTooManyRequests, serve())
		mr.FastForward(61 * time.Second)
		assert.Equal(t, http.StatusNoContent, serve())
	})

	t.Run("authenticated callers are counted per user", func(t *testing.T) {
		counter := new(mockRateCounter)
		userID := uuid.New()
		counter.On("IncrementRateLimit", mock.Anything, "user:"+userID.String(), "disarm", time.Minute).
			Return(int64(1), nil).Once()

		handler := NewRateLimiter(counter, 5, time.Minute).Limit("disarm")(okHandler())

		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(context.WithValue(req.Context(), UserIDKey, userID))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNoContent, rec.Code)
		assert.Equal(t, "5", rec.Header().Get("X-RateLimit-Limit"))
		assert.Equal(t, "4", rec.Header().Get("X-RateLimit-Remaining"))
		counter.AssertExpectations(t)
	})

	t.Run("fails open when the counter errors", func(t *testing.T) {
		counter := new(mockRateCounter)
		counter.On("IncrementRateLimit", mock.Anything, mock.Anything, "disarm", time.Minute).
			Return(int64(0), errors.New("redis down"))

		handler := NewRateLimiter(counter, 1, time.Minute).Limit("disarm")(okHandler())

		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/", nil))

		assert.Equal(t, http.StatusNoContent, rec.Code)
	})
}

func TestCallerKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Forwarded-For", "198.51.100.4, 10.0.0.1")
	assert.Equal(t, "ip:198.51.100.4", callerKey(req))
}
