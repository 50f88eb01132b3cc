package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/evanmoreau/loginshield/internal/database"
	"github.com/evanmoreau/loginshield/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SecurityEventRepositoryImpl implements SecurityEventRepository
type SecurityEventRepositoryImpl struct {
	pool *pgxpool.Pool
}

// NewSecurityEventRepository creates a new security event repository
func NewSecurityEventRepository(db *database.DB) SecurityEventRepository {
	return &SecurityEventRepositoryImpl{pool: db.Pool}
}

// scanSecurityEventRow handles nullable fields and populates a SecurityEvent model from a database row
func scanSecurityEventRow(scanner rowScanner) (*models.SecurityEvent, error) {
	var event models.SecurityEvent

	err := scanner.Scan(
		&event.ID, &event.EventType, &event.Email, &event.IPAddress,
		&event.UserAgent, &event.Severity, &event.Details, &event.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &event, nil
}

// scanSecurityEventRows iterates through rows and scans each into SecurityEvent models
func scanSecurityEventRows(rows pgx.Rows) ([]*models.SecurityEvent, error) {
	defer rows.Close()

	events := make([]*models.SecurityEvent, 0)

	for rows.Next() {
		event, err := scanSecurityEventRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan security event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating security event rows: %w", err)
	}

	return events, nil
}

// Create creates a new security event entry. ID and timestamp come
// from the database defaults.
func (r *SecurityEventRepositoryImpl) Create(ctx context.Context, event *models.SecurityEvent) (*models.SecurityEvent, error) {
	query := `
		INSERT INTO security_events (event_type, email, ip_address, user_agent, severity, details)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, event_type, email, ip_address, user_agent, severity, details, created_at
	`

	result, err := scanSecurityEventRow(r.pool.QueryRow(
		ctx, query,
		event.EventType, event.Email, event.IPAddress,
		event.UserAgent, event.Severity, event.Details,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create security event: %w", err)
	}

	return result, nil
}

// ListRecent retrieves the most recent security events
func (r *SecurityEventRepositoryImpl) ListRecent(ctx context.Context, limit, offset int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, event_type, email, ip_address, user_agent, severity, details, created_at
		FROM security_events
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`

	rows, err := r.pool.Query(ctx, query, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events: %w", err)
	}

	return scanSecurityEventRows(rows)
}

// ListByEmail retrieves security events recorded against one email
func (r *SecurityEventRepositoryImpl) ListByEmail(ctx context.Context, email string, limit, offset int) ([]*models.SecurityEvent, error) {
	query := `
		SELECT id, event_type, email, ip_address, user_agent, severity, details, created_at
		FROM security_events
		WHERE email = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`

	rows, err := r.pool.Query(ctx, query, email, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to query security events by email: %w", err)
	}

	return scanSecurityEventRows(rows)
}

// DeleteOlderThan removes security events created before the cutoff
func (r *SecurityEventRepositoryImpl) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `DELETE FROM security_events WHERE created_at < $1`

	result, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old security events: %w", err)
	}

	return result.RowsAffected(), nil
}
