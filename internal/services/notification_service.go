package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/evanmoreau/loginshield/internal/metrics"
	"github.com/evanmoreau/loginshield/internal/models"
)

// Notice is one security notification to deliver.
type Notice struct {
	ToEmail string
	Subject string
	Body    string
}

// NoticeSender delivers a notice over one channel (email, WhatsApp).
type NoticeSender interface {
	Channel() string
	Send(ctx context.Context, notice Notice) error
}

// RecipientDirectory resolves notice recipients against registered
// accounts. The lockout tracker accepts arbitrary submitted
// identifiers, so owner notices only go to addresses that exist.
type RecipientDirectory interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

// NotificationConfig holds configuration for the dispatcher
type NotificationConfig struct {
	QueueSize        int
	Workers          int
	RetryBackoff     time.Duration
	SecurityTeamAddr string
}

// NotificationService dispatches security notices through background
// workers. Enqueueing never blocks the request path: when the queue is
// full the notice is dropped and counted. A failing channel is logged
// and does not stop delivery on the remaining channels.
type NotificationService struct {
	senders []NoticeSender
	users   RecipientDirectory
	config  NotificationConfig
	queue   chan Notice
	logger  *slog.Logger
	wg      sync.WaitGroup
}

// NewNotificationService creates a new NotificationService. users may
// be nil, in which case owner notices skip the registration check.
func NewNotificationService(senders []NoticeSender, users RecipientDirectory, config NotificationConfig, logger *slog.Logger) *NotificationService {
	if config.QueueSize <= 0 {
		config.QueueSize = 256
	}
	if config.Workers <= 0 {
		config.Workers = 2
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = 2 * time.Second
	}

	return &NotificationService{
		senders: senders,
		users:   users,
		config:  config,
		queue:   make(chan Notice, config.QueueSize),
		logger:  logger,
	}
}

// Start launches the delivery workers.
func (s *NotificationService) Start() {
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker()
	}
	s.logger.Info("notification dispatcher started",
		slog.Int("workers", s.config.Workers),
		slog.Int("queue_size", s.config.QueueSize))
}

// Stop drains queued notices and waits for the workers to finish.
func (s *NotificationService) Stop() {
	close(s.queue)
	s.wg.Wait()
	s.logger.Info("notification dispatcher stopped")
}

func (s *NotificationService) worker() {
	defer s.wg.Done()

	for notice := range s.queue {
		s.deliver(notice)
	}
}

func (s *NotificationService) deliver(notice Notice) {
	for _, sender := range s.senders {
		if err := s.send(sender, notice); err != nil {
			metrics.NotificationsTotal.WithLabelValues(sender.Channel(), "failed").Inc()
			s.logger.Error("notification delivery failed",
				slog.String("channel", sender.Channel()),
				slog.String("to", notice.ToEmail),
				slog.String("subject", notice.Subject),
				slog.Any("error", err))
			continue
		}

		metrics.NotificationsTotal.WithLabelValues(sender.Channel(), "sent").Inc()
	}
}

// send makes one delivery attempt plus one retry after a short backoff.
func (s *NotificationService) send(sender NoticeSender, notice Notice) error {
	err := s.attempt(sender, notice)
	if err == nil {
		return nil
	}

	s.logger.Warn("notification attempt failed, retrying",
		slog.String("channel", sender.Channel()),
		slog.Any("error", err))
	time.Sleep(s.config.RetryBackoff)

	return s.attempt(sender, notice)
}

func (s *NotificationService) attempt(sender NoticeSender, notice Notice) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return sender.Send(ctx, notice)
}

// Enqueue hands a notice to the background workers without blocking.
func (s *NotificationService) Enqueue(notice Notice) {
	select {
	case s.queue <- notice:
	default:
		metrics.NotificationsDroppedTotal.Inc()
		s.logger.Warn("notification queue full, dropping notice",
			slog.String("to", notice.ToEmail),
			slog.String("subject", notice.Subject))
	}
}

// NotifyLockout alerts the account owner and the security team that an
// account was locked after repeated failures. Identifiers that never
// matched a registered account alert the security team only.
func (s *NotificationService) NotifyLockout(identifier, ipAddress string, lockedUntil time.Time) {
	body := fmt.Sprintf(
		"The account %s was locked after too many failed login attempts.\n\n"+
			"Last attempt from IP: %s\n"+
			"Locked until: %s\n\n"+
			"If this was not you, consider resetting your password once the lock expires.",
		identifier, ipAddress, lockedUntil.UTC().Format(time.RFC1123))

	if s.recipientRegistered(identifier) {
		s.Enqueue(Notice{
			ToEmail: identifier,
			Subject: "Your account has been temporarily locked",
			Body:    body,
		})
	}

	if s.config.SecurityTeamAddr != "" {
		s.Enqueue(Notice{
			ToEmail: s.config.SecurityTeamAddr,
			Subject: fmt.Sprintf("Account lockout: %s", identifier),
			Body:    body,
		})
	}
}

// recipientRegistered reports whether the address belongs to a known
// account. Lookup errors are logged and treated as unknown.
func (s *NotificationService) recipientRegistered(email string) bool {
	if s.users == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := s.users.GetByEmail(ctx, email); err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to resolve notice recipient", slog.Any("error", err))
		}
		return false
	}
	return true
}

// NotifyUnusualLogin alerts the account owner and the security team
// about a login that tripped one or more risk signals.
func (s *NotificationService) NotifyUnusualLogin(email, ipAddress string, assessment *models.LoginRiskAssessment) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "A login to %s was flagged as unusual (risk level: %s).\n\n", email, assessment.RiskLevel)
	fmt.Fprintf(&sb, "IP address: %s\n", ipAddress)
	if loc := assessment.Location; loc != nil {
		fmt.Fprintf(&sb, "Location: %s, %s\n", loc.City, loc.Country)
		if loc.ISP != "" {
			fmt.Fprintf(&sb, "Network: %s\n", loc.ISP)
		}
	}
	sb.WriteString("\nSignals:\n")
	for _, alert := range assessment.Alerts {
		fmt.Fprintf(&sb, "  - [%s] %s\n", alert.Severity, alert.Message)
	}
	sb.WriteString("\nIf this was you, no action is needed. Otherwise change your password immediately.")

	body := sb.String()

	s.Enqueue(Notice{
		ToEmail: email,
		Subject: "Unusual login to your account",
		Body:    body,
	})

	if s.config.SecurityTeamAddr != "" {
		s.Enqueue(Notice{
			ToEmail: s.config.SecurityTeamAddr,
			Subject: fmt.Sprintf("Unusual login: %s (%s)", email, assessment.RiskLevel),
			Body:    body,
		})
	}
}
