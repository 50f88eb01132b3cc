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

// LoginLocationRepository persists the append-only login location
// history. The seq column is a bigserial, so insertion order is the
// ordering authority regardless of timestamp ties.
type LoginLocationRepository struct {
	pool *pgxpool.Pool
}

// NewLoginLocationRepository creates a new LoginLocationRepository
func NewLoginLocationRepository(db *database.DB) *LoginLocationRepository {
	return &LoginLocationRepository{pool: db.Pool}
}

const loginLocationColumns = `id, user_id, email, ip_address, user_agent, country, country_code,
	       region, city, latitude, longitude, isp, is_proxy, is_hosting, is_private,
	       unusual, risk_level, alerts, seq, created_at`

// scanLoginLocationRow populates a LoginLocationEvent from a database row
func scanLoginLocationRow(scanner rowScanner) (*models.LoginLocationEvent, error) {
	var event models.LoginLocationEvent

	err := scanner.Scan(
		&event.ID, &event.UserID, &event.Email, &event.IPAddress, &event.UserAgent,
		&event.Country, &event.CountryCode, &event.Region, &event.City,
		&event.Latitude, &event.Longitude, &event.ISP,
		&event.IsProxy, &event.IsHosting, &event.IsPrivate,
		&event.Unusual, &event.RiskLevel, &event.Alerts,
		&event.Seq, &event.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	return &event, nil
}

// scanLoginLocationRows iterates through rows and scans each into LoginLocationEvent models
func scanLoginLocationRows(rows pgx.Rows) ([]models.LoginLocationEvent, error) {
	defer rows.Close()

	events := make([]models.LoginLocationEvent, 0)

	for rows.Next() {
		event, err := scanLoginLocationRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan login location: %w", err)
		}
		events = append(events, *event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating login location rows: %w", err)
	}

	return events, nil
}

// Append inserts one login location event and fills in the
// server-assigned seq.
func (r *LoginLocationRepository) Append(ctx context.Context, event *models.LoginLocationEvent) error {
	query := `
		INSERT INTO login_locations (
			id, user_id, email, ip_address, user_agent, country, country_code,
			region, city, latitude, longitude, isp, is_proxy, is_hosting, is_private,
			unusual, risk_level, alerts, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING seq
	`

	err := r.pool.QueryRow(ctx, query,
		event.ID, event.UserID, event.Email, event.IPAddress, event.UserAgent,
		event.Country, event.CountryCode, event.Region, event.City,
		event.Latitude, event.Longitude, event.ISP,
		event.IsProxy, event.IsHosting, event.IsPrivate,
		event.Unusual, event.RiskLevel, event.Alerts, event.CreatedAt,
	).Scan(&event.Seq)
	if err != nil {
		return fmt.Errorf("failed to append login location: %w", database.MapPostgresError(err))
	}

	return nil
}

// ListByUser retrieves the account's most recent login locations, newest
// first by insertion order.
func (r *LoginLocationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]models.LoginLocationEvent, error) {
	query := `
		SELECT ` + loginLocationColumns + `
		FROM login_locations
		WHERE user_id = $1
		ORDER BY seq DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query login locations: %w", err)
	}

	return scanLoginLocationRows(rows)
}

// ListUnusual retrieves unusual logins across all accounts since the
// given time, newest first.
func (r *LoginLocationRepository) ListUnusual(ctx context.Context, since time.Time, limit int) ([]models.LoginLocationEvent, error) {
	query := `
		SELECT ` + loginLocationColumns + `
		FROM login_locations
		WHERE unusual = true AND created_at >= $1
		ORDER BY seq DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query unusual logins: %w", err)
	}

	return scanLoginLocationRows(rows)
}
