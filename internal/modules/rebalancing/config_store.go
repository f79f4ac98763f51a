package rebalancing

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/rs/zerolog"
)

// ConfigStore persists configs keyed by user
type ConfigStore interface {
	// Get returns ErrConfigNotFound when the user has no config
	Get(ctx context.Context, user domain.UserID) (*Config, error)
	Save(ctx context.Context, cfg Config) error
	// ListEnabled returns enabled configs ordered by user
	ListEnabled(ctx context.Context) ([]Config, error)
}

// InMemoryConfigStore is a ConfigStore backed by a map
type InMemoryConfigStore struct {
	configs map[domain.UserID]Config
	mu      sync.RWMutex
}

// NewInMemoryConfigStore creates an empty config store
func NewInMemoryConfigStore() *InMemoryConfigStore {
	return &InMemoryConfigStore{configs: make(map[domain.UserID]Config)}
}

func (s *InMemoryConfigStore) Get(ctx context.Context, user domain.UserID) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[user]
	if !ok {
		return nil, ErrConfigNotFound
	}
	out := cfg.Clone()
	return &out, nil
}

func (s *InMemoryConfigStore) Save(ctx context.Context, cfg Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.UserID] = cfg.Clone()
	return nil
}

func (s *InMemoryConfigStore) ListEnabled(ctx context.Context) ([]Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Config{}
	for _, cfg := range s.configs {
		if cfg.Enabled {
			out = append(out, cfg.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// ConfigRepository is a ConfigStore backed by the rebalance_configs table
type ConfigRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewConfigRepository creates a new config repository
func NewConfigRepository(db *sql.DB, log zerolog.Logger) *ConfigRepository {
	return &ConfigRepository{
		db:  db,
		log: log.With().Str("repository", "rebalance_config").Logger(),
	}
}

func (r *ConfigRepository) Get(ctx context.Context, user domain.UserID) (*Config, error) {
	var data string
	err := r.db.QueryRowContext(ctx, "SELECT data FROM rebalance_configs WHERE user_address = ?", string(user)).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrConfigNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get config for %s: %w", user, err)
	}

	var cfg Config
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config for %s: %w", user, err)
	}
	return &cfg, nil
}

func (r *ConfigRepository) Save(ctx context.Context, cfg Config) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}

	query := `
		INSERT INTO rebalance_configs (user_address, data, enabled, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_address) DO UPDATE SET
			data = excluded.data,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`
	enabled := 0
	if cfg.Enabled {
		enabled = 1
	}
	if _, err := r.db.ExecContext(ctx, query, string(cfg.UserID), string(data), enabled, cfg.UpdatedAt.Unix()); err != nil {
		return fmt.Errorf("failed to save config for %s: %w", cfg.UserID, err)
	}
	return nil
}

func (r *ConfigRepository) ListEnabled(ctx context.Context) ([]Config, error) {
	rows, err := r.db.QueryContext(ctx, "SELECT user_address, data FROM rebalance_configs WHERE enabled = 1 ORDER BY user_address")
	if err != nil {
		return nil, fmt.Errorf("failed to list enabled configs: %w", err)
	}
	defer rows.Close()

	out := []Config{}
	for rows.Next() {
		var user, data string
		if err := rows.Scan(&user, &data); err != nil {
			return nil, fmt.Errorf("failed to scan config: %w", err)
		}
		var cfg Config
		if err := json.Unmarshal([]byte(data), &cfg); err != nil {
			r.log.Warn().Err(err).Str("user", user).Msg("Skipping undecodable config")
			continue
		}
		out = append(out, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating configs: %w", err)
	}
	return out, nil
}
