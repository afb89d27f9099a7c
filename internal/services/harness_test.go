package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/rtolen/vairify-dev-sub001/internal/database"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/internal/testutil"
	"github.com/rtolen/vairify-dev-sub001/pkg/clock"
	"github.com/rtolen/vairify-dev-sub001/pkg/config"
	"github.com/rtolen/vairify-dev-sub001/pkg/utils"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const testOperatorChannel = "escort:operator:escalations"

// recordingDispatcher captures messages and can fail chosen addresses.
type recordingDispatcher struct {
	mu       sync.Mutex
	sent     []Message
	attempts map[string]int
	failures map[string]error // address -> error returned on every attempt
}

func newRecordingDispatcher() *recordingDispatcher {
	return &recordingDispatcher{
		attempts: make(map[string]int),
		failures: make(map[string]error),
	}
}

func (d *recordingDispatcher) Send(ctx context.Context, msg Message) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.attempts[msg.To]++
	if err, ok := d.failures[msg.To]; ok {
		return err
	}
	d.sent = append(d.sent, msg)
	return nil
}

func (d *recordingDispatcher) failAddress(addr string, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failures[addr] = err
}

func (d *recordingDispatcher) messages(sessionID uuid.UUID, trigger Trigger) []Message {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Message
	for _, m := range d.sent {
		if m.SessionID == sessionID && m.Trigger == trigger {
			out = append(out, m)
		}
	}
	return out
}

func (d *recordingDispatcher) attemptsFor(addr string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts[addr]
}

func (d *recordingDispatcher) registry() map[models.Channel]Dispatcher {
	return map[models.Channel]Dispatcher{
		models.ChannelSMS:     d,
		models.ChannelEmail:   d,
		models.ChannelPush:    d,
		models.ChannelWebhook: d,
	}
}

// fastRetry keeps delivery retries in the millisecond range.
func fastRetry() utils.RetryConfig {
	return utils.RetryConfig{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func testEscortConfig() config.EscortConfig {
	return config.EscortConfig{
		DefaultBuffer:  5 * time.Minute,
		MaxDuration:    24 * time.Hour,
		SweepInterval:  time.Second,
		SweepBatchSize: 50,
		Concurrency:    4,
	}
}

// harness is a fully wired lifecycle on an in-memory store, miniredis and
// a fake clock.
type harness struct {
	store      *testutil.MemStore
	mr         *miniredis.Miniredis
	redis      *database.RedisDB
	clock      *clock.Fake
	vault      *CodeVault
	dispatcher *recordingDispatcher
	notifier   *Notifier
	runner     *Runner
	lifecycle  *Lifecycle
	scheduler  *Scheduler

	owner uuid.UUID
	group *models.GuardianGroup
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	mr, cleanup := testutil.SetupMiniRedis(t)
	redisDB := testutil.NewTestRedisDB(t, mr)
	t.Cleanup(func() {
		redisDB.Close()
		cleanup()
	})

	h := &harness{
		store:      testutil.NewMemStore(),
		mr:         mr,
		redis:      redisDB,
		clock:      clock.NewFake(testutil.TestEpoch),
		dispatcher: newRecordingDispatcher(),
		runner:     NewRunner(),
	}

	h.vault = NewCodeVault(h.store, h.clock, bcrypt.MinCost)
	h.notifier = NewNotifier(h.store, h.dispatcher.registry(), redisDB, testOperatorChannel, h.clock, WithDeliveryRetry(fastRetry()))
	h.lifecycle = NewLifecycle(h.store, redisDB, h.vault, h.notifier, nil, h.runner, h.clock, testEscortConfig())
	h.scheduler = NewScheduler(redisDB, h.store, h.lifecycle, h.clock, testEscortConfig(), WithEscalationRedelivery(h.lifecycle))

	h.owner, h.group = h.newOwner(t, models.ChannelSMS, models.ChannelEmail)
	return h
}

// newOwner creates an owner with codes and one guardian group.
func (h *harness) newOwner(t *testing.T, channels ...models.Channel) (uuid.UUID, *models.GuardianGroup) {
	t.Helper()

	owner := uuid.New()
	require.NoError(t, h.vault.SetCodes(context.Background(), owner, testutil.DisarmCode, testutil.DecoyCode))

	group := testutil.TestGroup(owner, channels...)
	require.NoError(t, h.store.CreateGroup(context.Background(), group))
	return owner, group
}

func (h *harness) activate(t *testing.T, owner uuid.UUID, group *models.GuardianGroup, duration time.Duration) *models.Session {
	t.Helper()

	s, err := h.lifecycle.Activate(context.Background(), ActivateParams{
		OwnerID:          owner,
		GuardianGroupIDs: []uuid.UUID{group.ID},
		Duration:         duration,
		Intel:            testutil.TestIntel(),
	})
	require.NoError(t, err)
	h.runner.Wait()
	return s
}

func (h *harness) sweep(t *testing.T) SweepResult {
	t.Helper()

	result, err := h.scheduler.SweepOnce(context.Background())
	require.NoError(t, err)
	h.runner.Wait()
	return result
}

func (h *harness) stored(t *testing.T, id uuid.UUID) *models.Session {
	t.Helper()

	s := h.store.Session(id)
	require.NotNil(t, s)
	return s
}

func (h *harness) pending(t *testing.T) int64 {
	t.Helper()

	n, err := h.redis.PendingDeadlines(context.Background())
	require.NoError(t, err)
	return n
}

var errGatewayDown = errors.New("gateway unavailable")
