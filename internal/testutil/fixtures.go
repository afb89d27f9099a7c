// Package testutil provides fixtures, an in-memory store and HTTP/Redis
// helpers shared by the service, middleware and handler tests.
package testutil

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
)

// Codes used by tests that set up a vault.
const (
	DisarmCode = "4821"
	DecoyCode  = "9157"
)

// TestEpoch is the fixed start time fake clocks are created at.
var TestEpoch = time.Date(2026, 3, 14, 21, 0, 0, 0, time.UTC)

// TestPoint returns a GPS fix in central Berlin.
func TestPoint() models.GeoPoint {
	return models.GeoPoint{
		Latitude:   52.520008,
		Longitude:  13.404954,
		AccuracyM:  12,
		RecordedAt: TestEpoch,
	}
}

// TestIntel returns intel with a location and coordinates.
func TestIntel() models.Intel {
	p := TestPoint()
	return models.Intel{
		LocationText: "Hotel Adlon, room 412",
		Coordinates:  &p,
		Notes:        "Client says he drives a grey Audi",
		PhotoRefs:    []string{"photos/client-1.jpg"},
	}
}

// TestGroup returns a guardian group owned by ownerID with one guardian per
// channel given. Addresses are unique per call.
func TestGroup(ownerID uuid.UUID, channels ...models.Channel) *models.GuardianGroup {
	if len(channels) == 0 {
		channels = []models.Channel{models.ChannelSMS}
	}

	g := &models.GuardianGroup{
		ID:        uuid.New(),
		OwnerID:   ownerID,
		Name:      "Close friends",
		CreatedAt: TestEpoch,
		UpdatedAt: TestEpoch,
	}
	for i, ch := range channels {
		g.Guardians = append(g.Guardians, models.Guardian{
			Name:    "Guardian " + string(rune('A'+i)),
			Channel: ch,
			Address: testAddress(ch),
		})
	}
	return g
}

func testAddress(ch models.Channel) string {
	suffix := uuid.NewString()[:8]
	switch ch {
	case models.ChannelEmail:
		return "guardian-" + suffix + "@example.com"
	case models.ChannelWebhook:
		return "https://hooks.example.com/" + suffix
	case models.ChannelPush:
		return "device-" + suffix
	}
	return fmt.Sprintf("+49151%07d", phoneSeq.Add(1))
}

var phoneSeq atomic.Int64

// IntPtr returns a pointer to the given int
func IntPtr(i int) *int {
	return &i
}

// UserAgents provides common user agent strings for testing
var UserAgents = struct {
	Chrome       string
	MobileSafari string
	MobileChrome string
}{
	Chrome:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	MobileSafari: "Mozilla/5.0 (iPhone; CPU iPhone OS 17_1 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	MobileChrome: "Mozilla/5.0 (Linux; Android 13) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.6099.144 Mobile Safari/537.36",
}
