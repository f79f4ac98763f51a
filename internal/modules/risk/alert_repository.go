package risk

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/rs/zerolog"
)

// AlertRepository is an AlertStore backed by the risk_alerts table
type AlertRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewAlertRepository creates a new sqlite alert repository
func NewAlertRepository(db *sql.DB, log zerolog.Logger) *AlertRepository {
	return &AlertRepository{
		db:  db,
		log: log.With().Str("repository", "alert").Logger(),
	}
}

func (r *AlertRepository) Save(ctx context.Context, alert Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to encode alert: %w", err)
	}

	query := `
		INSERT INTO risk_alerts (id, user_address, category, severity, created_at, acknowledged, escalated, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			severity = excluded.severity,
			acknowledged = excluded.acknowledged,
			escalated = excluded.escalated,
			data = excluded.data
	`
	_, err = r.db.ExecContext(ctx, query,
		alert.ID,
		string(alert.UserID),
		string(alert.Category),
		string(alert.Severity),
		alert.Timestamp.UnixNano(),
		boolToInt(alert.Acknowledged),
		boolToInt(alert.Escalated),
		string(data),
	)
	if err != nil {
		return fmt.Errorf("failed to save alert %s: %w", alert.ID, err)
	}
	return nil
}

func (r *AlertRepository) Get(ctx context.Context, id string) (*Alert, error) {
	var data string
	err := r.db.QueryRowContext(ctx, "SELECT data FROM risk_alerts WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlertNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert %s: %w", id, err)
	}
	return decodeAlert(data)
}

func (r *AlertRepository) ListByUser(ctx context.Context, user domain.UserID, includeAcknowledged bool) ([]Alert, error) {
	query := "SELECT data FROM risk_alerts WHERE user_address = ?"
	if !includeAcknowledged {
		query += " AND acknowledged = 0"
	}
	query += " ORDER BY created_at DESC, id"
	return r.query(ctx, query, string(user))
}

func (r *AlertRepository) FindOpen(ctx context.Context, user domain.UserID, category Category) (*Alert, error) {
	alerts, err := r.query(ctx, `
		SELECT data FROM risk_alerts
		WHERE user_address = ? AND category = ? AND acknowledged = 0
		ORDER BY created_at DESC LIMIT 1
	`, string(user), string(category))
	if err != nil {
		return nil, err
	}
	if len(alerts) == 0 {
		return nil, nil
	}
	return &alerts[0], nil
}

func (r *AlertRepository) ListOverdue(ctx context.Context, cutoff time.Time) ([]Alert, error) {
	return r.query(ctx, `
		SELECT data FROM risk_alerts
		WHERE acknowledged = 0 AND escalated = 0 AND severity = ? AND created_at < ?
		ORDER BY created_at ASC
	`, string(SeverityCritical), cutoff.UnixNano())
}

func (r *AlertRepository) query(ctx context.Context, query string, args ...interface{}) ([]Alert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	alerts := []Alert{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		alert, err := decodeAlert(data)
		if err != nil {
			r.log.Warn().Err(err).Msg("Skipping undecodable alert")
			continue
		}
		alerts = append(alerts, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating alerts: %w", err)
	}
	return alerts, nil
}

func decodeAlert(data string) (*Alert, error) {
	var alert Alert
	if err := json.Unmarshal([]byte(data), &alert); err != nil {
		return nil, fmt.Errorf("failed to decode alert: %w", err)
	}
	return &alert, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
