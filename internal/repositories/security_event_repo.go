package repositories

import (
	"context"
	"time"

	"github.com/evanmoreau/loginshield/internal/models"
)

// SecurityEventRepository defines the interface for security event data access
type SecurityEventRepository interface {
	// Create stores a new security event
	Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error)

	// ListRecent retrieves the most recent events across all accounts
	ListRecent(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error)

	// ListByEmail retrieves the most recent events recorded against one email
	ListByEmail(ctx context.Context, email string, limit, offset int) ([]*models.SecurityEvent, error)

	// DeleteOlderThan removes events created before the cutoff (for retention cleanup)
	// Returns the count of deleted rows
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
