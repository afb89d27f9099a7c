package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/rtolen/vairify-dev-sub001/internal/metrics"
	"github.com/rtolen/vairify-dev-sub001/internal/models"
	"github.com/rtolen/vairify-dev-sub001/pkg/clock"
	"github.com/rtolen/vairify-dev-sub001/pkg/utils"
	"golang.org/x/sync/errgroup"
)

// Trigger is why guardians are being contacted. Each trigger is sent at
// most once per session.
type Trigger string

const (
	TriggerSessionStart Trigger = "session_start"
	TriggerEscalation   Trigger = "escalation"
)

// DedupeKey is the guardian_notified event key for this trigger.
func (t Trigger) DedupeKey() string {
	return "notify:" + string(t)
}

// NotifierStore is what the fan-out reads and writes.
type NotifierStore interface {
	GetGroups(ctx context.Context, ids []uuid.UUID) ([]*models.GuardianGroup, error)
	AppendEventOnce(ctx context.Context, ev *models.EscalationEvent) (bool, error)
}

// NotifyResult summarizes one fan-out.
type NotifyResult struct {
	Duplicate  bool // another call already sent this trigger; nothing was sent
	Recipients int
	Delivered  int
	Failed     int
}

// Notifier fans guardian alerts out to every contact of a session's
// guardian groups and publishes escalations to the operator channel.
//
// Idempotency comes from the event log: a guardian_notified event keyed by
// (session, trigger) is appended before any message goes out, and only
// the caller whose append inserted it dispatches. Individual delivery
// failures are logged and counted but never fail the fan-out.
type Notifier struct {
	store           NotifierStore
	dispatchers     map[models.Channel]Dispatcher
	publisher       EscalationPublisher
	operatorChannel string
	clock           clock.Clock
	retry           utils.RetryConfig
	concurrency     int
}

// NotifierOption customizes a Notifier.
type NotifierOption func(*Notifier)

// WithDeliveryRetry overrides the per-contact retry policy.
func WithDeliveryRetry(cfg utils.RetryConfig) NotifierOption {
	return func(n *Notifier) { n.retry = cfg }
}

// NewNotifier creates a Notifier. publisher may be nil to skip the operator
// channel.
func NewNotifier(store NotifierStore, dispatchers map[models.Channel]Dispatcher, publisher EscalationPublisher, operatorChannel string, clk clock.Clock, opts ...NotifierOption) *Notifier {
	n := &Notifier{
		store:           store,
		dispatchers:     dispatchers,
		publisher:       publisher,
		operatorChannel: operatorChannel,
		clock:           clk,
		retry:           utils.ExternalAPIRetryConfig(),
		concurrency:     8,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

type recipient struct {
	GroupID uuid.UUID      `json:"group_id"`
	Name    string         `json:"name"`
	Channel models.Channel `json:"channel"`
	Address string         `json:"address"`
}

type notifiedPayload struct {
	Trigger    Trigger     `json:"trigger"`
	Recipients []recipient `json:"recipients"`
}

type operatorNotice struct {
	SessionID   uuid.UUID        `json:"session_id"`
	OwnerID     uuid.UUID        `json:"owner_id"`
	EndedVia    string           `json:"ended_via"`
	Description string           `json:"description"`
	LastGPS     *models.GeoPoint `json:"last_gps,omitempty"`
	Location    string           `json:"location_text,omitempty"`
	At          time.Time        `json:"at"`
}

// Notify sends trigger to every guardian of s, once.
func (n *Notifier) Notify(ctx context.Context, s *models.Session, trigger Trigger) (NotifyResult, error) {
	var groups []*models.GuardianGroup
	err := utils.Retry(ctx, utils.DatabaseRetryConfig(), func() error {
		var err error
		groups, err = n.store.GetGroups(ctx, s.GuardianGroupIDs)
		return err
	})
	if err != nil {
		return NotifyResult{}, fmt.Errorf("failed to load guardian groups: %w", err)
	}

	recipients := collectRecipients(groups)

	ev, err := models.NewEvent(s.ID, models.EventGuardianNotified, notifiedPayload{
		Trigger:    trigger,
		Recipients: recipients,
	}, n.clock.Now())
	if err != nil {
		return NotifyResult{}, err
	}
	ev.DedupeKey = trigger.DedupeKey()

	var inserted bool
	err = utils.Retry(ctx, utils.DatabaseRetryConfig(), func() error {
		var err error
		inserted, err = n.store.AppendEventOnce(ctx, ev)
		return err
	})
	if err != nil {
		return NotifyResult{}, fmt.Errorf("failed to record notification: %w", err)
	}
	if !inserted {
		log.Info().
			Str("session_id", s.ID.String()).
			Str("trigger", string(trigger)).
			Msg("Guardians already notified, skipping")
		metrics.RecordNotification("all", "duplicate")
		return NotifyResult{Duplicate: true}, nil
	}

	if trigger == TriggerEscalation {
		n.publishEscalation(ctx, s)
	}

	result := n.fanOut(ctx, s, trigger, recipients)

	log.Info().
		Str("session_id", s.ID.String()).
		Str("trigger", string(trigger)).
		Int("recipients", result.Recipients).
		Int("delivered", result.Delivered).
		Int("failed", result.Failed).
		Msg("Guardian notification complete")

	return result, nil
}

func (n *Notifier) fanOut(ctx context.Context, s *models.Session, trigger Trigger, recipients []recipient) NotifyResult {
	var delivered, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(n.concurrency)

	for _, rcpt := range recipients {
		g.Go(func() error {
			msg := composeMessage(s, trigger, rcpt)

			d, ok := n.dispatchers[rcpt.Channel]
			if !ok {
				log.Warn().
					Str("session_id", s.ID.String()).
					Str("channel", string(rcpt.Channel)).
					Msg("No dispatcher for channel")
				metrics.RecordNotification(string(rcpt.Channel), "no_dispatcher")
				failed.Add(1)
				return nil
			}

			err := utils.Retry(gctx, n.retry, func() error {
				return d.Send(gctx, msg)
			})
			if err != nil {
				depErr := &DependencyFailure{Dependency: "guardian_" + string(rcpt.Channel), Err: err}
				log.Warn().
					Err(depErr).
					Str("session_id", s.ID.String()).
					Str("to", maskAddress(rcpt.Address)).
					Msg("Guardian delivery failed")
				metrics.RecordNotification(string(rcpt.Channel), "failed")
				failed.Add(1)
				return nil
			}

			metrics.RecordNotification(string(rcpt.Channel), "sent")
			delivered.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	return NotifyResult{
		Recipients: len(recipients),
		Delivered:  int(delivered.Load()),
		Failed:     int(failed.Load()),
	}
}

func (n *Notifier) publishEscalation(ctx context.Context, s *models.Session) {
	if n.publisher == nil {
		return
	}

	notice := operatorNotice{
		SessionID: s.ID,
		OwnerID:   s.OwnerID,
		LastGPS:   s.LastGPS,
		Location:  s.Intel.LocationText,
		At:        n.clock.Now(),
	}
	if s.EndedVia != nil {
		notice.EndedVia = string(*s.EndedVia)
		notice.Description = s.EndedVia.Describe()
	}

	payload, err := json.Marshal(notice)
	if err != nil {
		log.Error().Err(err).Str("session_id", s.ID.String()).Msg("Failed to encode operator notice")
		return
	}

	receivers, err := n.publisher.PublishEscalation(ctx, n.operatorChannel, payload)
	if err != nil {
		log.Error().
			Err(&DependencyFailure{Dependency: "operator_channel", Err: err}).
			Str("session_id", s.ID.String()).
			Msg("Failed to publish escalation to operators")
		return
	}
	if receivers == 0 {
		log.Warn().Str("session_id", s.ID.String()).Msg("No operator subscribed to escalation channel")
	}
}

// collectRecipients flattens groups in order, dropping repeated
// (channel, address) pairs so a guardian in two groups is contacted once.
func collectRecipients(groups []*models.GuardianGroup) []recipient {
	seen := make(map[string]bool)
	var out []recipient
	for _, g := range groups {
		for _, guardian := range g.Guardians {
			key := string(guardian.Channel) + "|" + guardian.Address
			if seen[key] {
				continue
			}
			seen[key] = true
			out = append(out, recipient{
				GroupID: g.ID,
				Name:    guardian.Name,
				Channel: guardian.Channel,
				Address: guardian.Address,
			})
		}
	}
	return out
}

func composeMessage(s *models.Session, trigger Trigger, rcpt recipient) Message {
	msg := Message{
		SessionID:     s.ID,
		Trigger:       trigger,
		Channel:       rcpt.Channel,
		To:            rcpt.Address,
		RecipientName: rcpt.Name,
	}

	switch trigger {
	case TriggerEscalation:
		msg.Subject = "EMERGENCY: escort session escalated"
		msg.Body = fmt.Sprintf(
			"%s, the person you are guarding has not confirmed they are safe. Last known location: %s. Try to reach them or contact emergency services.",
			greetingName(rcpt.Name), describeLocation(s),
		)
		msg.Location = s.LastGPS
		if msg.Location == nil {
			msg.Location = s.Intel.Coordinates
		}
	default:
		msg.Subject = "Escort session started"
		msg.Body = fmt.Sprintf(
			"%s, you have been chosen as a guardian for an escort session at %s. Check-out is expected by %s.",
			greetingName(rcpt.Name), describeLocation(s), s.ScheduledEndAt.Format(time.RFC1123),
		)
	}
	return msg
}

func greetingName(name string) string {
	if name == "" {
		return "Hello"
	}
	return name
}

func describeLocation(s *models.Session) string {
	p := s.LastGPS
	if p == nil {
		p = s.Intel.Coordinates
	}
	switch {
	case s.Intel.LocationText != "" && p != nil:
		return fmt.Sprintf("%s (%.5f, %.5f)", s.Intel.LocationText, p.Latitude, p.Longitude)
	case p != nil:
		return fmt.Sprintf("%.5f, %.5f", p.Latitude, p.Longitude)
	case s.Intel.LocationText != "":
		return s.Intel.LocationText
	}
	return "unknown"
}
