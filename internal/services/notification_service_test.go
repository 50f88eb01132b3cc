package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanmoreau/loginshield/internal/models"
)

func notifierConfig(teamAddr string) NotificationConfig {
	return NotificationConfig{
		QueueSize:        16,
		Workers:          1,
		RetryBackoff:     time.Millisecond,
		SecurityTeamAddr: teamAddr,
	}
}

func TestNotificationService_DeliversToAllChannels(t *testing.T) {
	email := &MockSender{channel: "email"}
	whatsapp := &MockSender{channel: "whatsapp"}
	svc := NewNotificationService([]NoticeSender{email, whatsapp}, nil, notifierConfig(""), testLogger)

	svc.Start()
	svc.Enqueue(Notice{ToEmail: "user@example.com", Subject: "Test", Body: "Body"})
	svc.Stop()

	require.Equal(t, 1, email.SentCount())
	require.Equal(t, 1, whatsapp.SentCount())
	assert.Equal(t, "user@example.com", email.Sent[0].ToEmail)
	assert.Equal(t, "Test", whatsapp.Sent[0].Subject)
}

func TestNotificationService_RetriesOnce(t *testing.T) {
	email := &MockSender{channel: "email", FailN: 1, SendErr: errors.New("ses throttled")}
	svc := NewNotificationService([]NoticeSender{email}, nil, notifierConfig(""), testLogger)

	svc.Start()
	svc.Enqueue(Notice{ToEmail: "user@example.com", Subject: "Test", Body: "Body"})
	svc.Stop()

	// The first attempt failed, the retry landed
	assert.Equal(t, 1, email.SentCount())
}

func TestNotificationService_FailingChannelDoesNotStopOthers(t *testing.T) {
	email := &MockSender{channel: "email", FailN: 2, SendErr: errors.New("ses unavailable")}
	whatsapp := &MockSender{channel: "whatsapp"}
	svc := NewNotificationService([]NoticeSender{email, whatsapp}, nil, notifierConfig(""), testLogger)

	svc.Start()
	svc.Enqueue(Notice{ToEmail: "user@example.com", Subject: "Test", Body: "Body"})
	svc.Stop()

	// Both attempts on the email channel failed; WhatsApp still delivered
	assert.Zero(t, email.SentCount())
	assert.Equal(t, 1, whatsapp.SentCount())
}

func TestNotificationService_QueueFullDropsNotice(t *testing.T) {
	email := &MockSender{channel: "email"}
	cfg := NotificationConfig{QueueSize: 1, Workers: 1, RetryBackoff: time.Millisecond}
	svc := NewNotificationService([]NoticeSender{email}, nil, cfg, testLogger)

	// No workers are running yet, so the second notice finds the queue
	// full and is dropped rather than blocking
	svc.Enqueue(Notice{ToEmail: "first@example.com", Subject: "First", Body: "Body"})
	svc.Enqueue(Notice{ToEmail: "second@example.com", Subject: "Second", Body: "Body"})

	svc.Start()
	svc.Stop()

	require.Equal(t, 1, email.SentCount())
	assert.Equal(t, "first@example.com", email.Sent[0].ToEmail)
}

func TestNotificationService_NotifyLockout(t *testing.T) {
	email := &MockSender{channel: "email"}
	svc := NewNotificationService([]NoticeSender{email}, nil, notifierConfig("secops@example.com"), testLogger)

	lockedUntil := time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC)
	svc.Start()
	svc.NotifyLockout("user@example.com", "203.0.113.5", lockedUntil)
	svc.Stop()

	require.Equal(t, 2, email.SentCount())

	owner := email.Sent[0]
	assert.Equal(t, "user@example.com", owner.ToEmail)
	assert.Equal(t, "Your account has been temporarily locked", owner.Subject)
	assert.Contains(t, owner.Body, "203.0.113.5")
	assert.Contains(t, owner.Body, lockedUntil.UTC().Format(time.RFC1123))

	team := email.Sent[1]
	assert.Equal(t, "secops@example.com", team.ToEmail)
	assert.Equal(t, "Account lockout: user@example.com", team.Subject)
	assert.Equal(t, owner.Body, team.Body)
}

func TestNotificationService_NotifyLockout_NoTeamAddress(t *testing.T) {
	email := &MockSender{channel: "email"}
	svc := NewNotificationService([]NoticeSender{email}, nil, notifierConfig(""), testLogger)

	svc.Start()
	svc.NotifyLockout("user@example.com", "203.0.113.5", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC))
	svc.Stop()

	require.Equal(t, 1, email.SentCount())
	assert.Equal(t, "user@example.com", email.Sent[0].ToEmail)
}

func TestNotificationService_NotifyLockout_UnregisteredIdentifierTeamOnly(t *testing.T) {
	email := &MockSender{channel: "email"}
	users := &MockUserRepository{}
	svc := NewNotificationService([]NoticeSender{email}, users, notifierConfig("secops@example.com"), testLogger)

	svc.Start()
	svc.NotifyLockout("nobody@example.com", "203.0.113.5", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC))
	svc.Stop()

	// The identifier never matched an account, so only the team hears
	require.Equal(t, 1, email.SentCount())
	assert.Equal(t, "secops@example.com", email.Sent[0].ToEmail)
}

func TestNotificationService_NotifyLockout_RegisteredOwnerNotified(t *testing.T) {
	email := &MockSender{channel: "email"}
	users := &MockUserRepository{
		GetByEmailFunc: func(ctx context.Context, em string) (*models.User, error) {
			return &models.User{ID: "user-1", Email: em}, nil
		},
	}
	svc := NewNotificationService([]NoticeSender{email}, users, notifierConfig(""), testLogger)

	svc.Start()
	svc.NotifyLockout("user@example.com", "203.0.113.5", time.Date(2024, 5, 1, 10, 30, 0, 0, time.UTC))
	svc.Stop()

	require.Equal(t, 1, email.SentCount())
	assert.Equal(t, "user@example.com", email.Sent[0].ToEmail)
}

func TestNotificationService_NotifyUnusualLogin(t *testing.T) {
	email := &MockSender{channel: "email"}
	svc := NewNotificationService([]NoticeSender{email}, nil, notifierConfig("secops@example.com"), testLogger)

	assessment := &models.LoginRiskAssessment{
		Status:    models.RiskStatusChecked,
		Unusual:   true,
		RiskLevel: models.RiskLevelCritical,
		Alerts: []models.RiskAlert{
			{
				Type:     models.AlertTypeImpossibleTravel,
				Severity: models.RiskLevelCritical,
				Message:  "Travel from Berlin to New York would require 12770 km/h",
			},
		},
		Location: newYorkLocation(),
	}

	svc.Start()
	svc.NotifyUnusualLogin("user@example.com", "74.64.31.9", assessment)
	svc.Stop()

	require.Equal(t, 2, email.SentCount())

	owner := email.Sent[0]
	assert.Equal(t, "user@example.com", owner.ToEmail)
	assert.Equal(t, "Unusual login to your account", owner.Subject)
	assert.Contains(t, owner.Body, "risk level: critical")
	assert.Contains(t, owner.Body, "74.64.31.9")
	assert.Contains(t, owner.Body, "New York, United States")
	assert.Contains(t, owner.Body, "Verizon Fios")
	assert.Contains(t, owner.Body, "Travel from Berlin to New York")

	team := email.Sent[1]
	assert.Equal(t, "secops@example.com", team.ToEmail)
	assert.Equal(t, "Unusual login: user@example.com (critical)", team.Subject)
}
