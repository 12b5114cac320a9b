// Package notify fans run-lifecycle and client-health events out to admin
// operators: an in-app WebSocket push plus, where configured, email and
// webhook delivery. It is a thin layer off the broker's event stream — it
// must never block a run/event/command path, so every dispatch runs in its
// own goroutine.
package notify

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/orcabay/control-plane/gatewayd/internal/hub"
	"github.com/orcabay/control-plane/gatewayd/internal/metrics"
	"github.com/orcabay/control-plane/gatewayd/internal/store"
)

// Service is the single entry point for run/client notifications.
type Service struct {
	store   *store.Store
	hub     *hub.Hub
	email   *emailSender
	webhook *webhookSender
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// SetMetrics wires the Prometheus counters incremented on delivery outcome.
// Left nil, those increments are silently skipped.
func (s *Service) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
}

// New builds a Service. The email and webhook senders reload their settings
// from st on every send, so a settings change takes effect without a
// restart.
func New(st *store.Store, h *hub.Hub, logger *zap.Logger) *Service {
	svc := &Service{store: st, hub: h, logger: logger.Named("notify")}
	svc.email = newEmailSender(func(ctx context.Context) (*SMTPConfig, error) {
		return loadSMTPConfig(ctx, st)
	})
	svc.webhook = newWebhookSender(func(ctx context.Context) (*WebhookConfig, error) {
		return loadWebhookConfig(ctx, st)
	})
	return svc
}

// RunDone fires when a run reaches the "done" terminal state.
func (s *Service) RunDone(runID, command string) {
	s.dispatch(event{
		typ:   "run.done",
		title: fmt.Sprintf("Run completed: %s", runID),
		body:  fmt.Sprintf("Run %q (%s) finished successfully at %s.", command, runID, time.Now().UTC().Format(time.RFC3339)),
		payload: map[string]any{
			"runId": runID, "command": command,
		},
	})
}

// RunFailed fires when a run reaches the "failed" terminal state.
func (s *Service) RunFailed(runID, command string, exitCode int) {
	s.dispatch(event{
		typ:   "run.failed",
		title: fmt.Sprintf("Run failed: %s", runID),
		body:  fmt.Sprintf("Run %q (%s) failed with exit code %d at %s.", command, runID, exitCode, time.Now().UTC().Format(time.RFC3339)),
		payload: map[string]any{
			"runId": runID, "command": command, "exitCode": exitCode,
		},
	})
}

// ClientOffline fires when the status sweep marks a client offline (§4.3).
func (s *Service) ClientOffline(clientID, displayName string) {
	s.dispatch(event{
		typ:   "client.offline",
		title: fmt.Sprintf("Client offline: %s", displayName),
		body:  fmt.Sprintf("Client %q (%s) stopped reporting heartbeats at %s.", displayName, clientID, time.Now().UTC().Format(time.RFC3339)),
		payload: map[string]any{
			"clientId": clientID, "displayName": displayName,
		},
	})
}

type event struct {
	typ     string
	title   string
	body    string
	payload map[string]any
}

// dispatch runs the full fan-out in its own goroutine so no caller on a
// run/event/command path ever blocks on notification delivery.
func (s *Service) dispatch(ev event) {
	go s.notify(context.Background(), ev)
}

func (s *Service) notify(ctx context.Context, ev event) {
	admins, err := s.store.ListUsersByRole(ctx, store.RoleAdmin)
	if err != nil {
		s.logger.Error("listing admin recipients", zap.Error(err))
		return
	}

	emails := make([]string, 0, len(admins))
	for _, u := range admins {
		emails = append(emails, u.Email)
		s.hub.Broadcast("notifications:"+u.ID, hub.Message{
			Type: hub.MsgEvent,
			Payload: map[string]any{
				"notificationType": ev.typ,
				"title":            ev.title,
				"body":             ev.body,
				"payload":          ev.payload,
				"createdAt":        time.Now().UTC().Format(time.RFC3339),
			},
		})
	}

	if err := s.email.Send(ctx, emails, ev.title, ev.body); err != nil {
		s.logger.Warn("email delivery failed", zap.String("type", ev.typ), zap.Error(err))
		s.recordOutcome("email", "failure")
	} else {
		s.recordOutcome("email", "success")
	}
	if err := s.webhook.Send(ctx, ev.typ, ev.title, ev.body, ev.payload); err != nil {
		s.logger.Warn("webhook delivery failed", zap.String("type", ev.typ), zap.Error(err))
		s.recordOutcome("webhook", "failure")
	} else {
		s.recordOutcome("webhook", "success")
	}
}

func (s *Service) recordOutcome(channel, outcome string) {
	if s.metrics != nil {
		s.metrics.NotificationsSent.WithLabelValues(channel, outcome).Inc()
	}
}
