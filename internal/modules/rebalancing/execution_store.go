package rebalancing

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/aristath/vaultkeeper/internal/database"
	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack/v5"
)

// ExecutionStore is the append-only execution history
type ExecutionStore interface {
	Create(ctx context.Context, exec Execution) error
	// Update replaces a non-terminal execution. Terminal records return ErrTerminalExecution.
	Update(ctx context.Context, exec Execution) error
	Get(ctx context.Context, id string) (*Execution, error)
	// List returns the user's executions newest first. limit <= 0 means all.
	List(ctx context.Context, user domain.UserID, limit int) ([]Execution, error)
	// Latest returns the user's newest execution, or nil
	Latest(ctx context.Context, user domain.UserID) (*Execution, error)
}

// InMemoryExecutionStore keeps executions partitioned per user
type InMemoryExecutionStore struct {
	byID   map[string]Execution
	byUser map[domain.UserID][]string // newest first
	mu     sync.RWMutex
}

// NewInMemoryExecutionStore creates an empty execution store
func NewInMemoryExecutionStore() *InMemoryExecutionStore {
	return &InMemoryExecutionStore{
		byID:   make(map[string]Execution),
		byUser: make(map[domain.UserID][]string),
	}
}

func (s *InMemoryExecutionStore) Create(ctx context.Context, exec Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byID[exec.ID]; exists {
		return fmt.Errorf("execution %s already exists", exec.ID)
	}
	s.byID[exec.ID] = exec.Clone()
	s.byUser[exec.UserID] = append([]string{exec.ID}, s.byUser[exec.UserID]...)
	return nil
}

func (s *InMemoryExecutionStore) Update(ctx context.Context, exec Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, ok := s.byID[exec.ID]
	if !ok {
		return ErrExecutionNotFound
	}
	if current.Status.IsTerminal() {
		return ErrTerminalExecution
	}
	s.byID[exec.ID] = exec.Clone()
	return nil
}

func (s *InMemoryExecutionStore) Get(ctx context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	exec, ok := s.byID[id]
	if !ok {
		return nil, ErrExecutionNotFound
	}
	out := exec.Clone()
	return &out, nil
}

func (s *InMemoryExecutionStore) List(ctx context.Context, user domain.UserID, limit int) ([]Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byUser[user]
	if limit > 0 && limit < len(ids) {
		ids = ids[:limit]
	}
	out := make([]Execution, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.byID[id].Clone())
	}
	return out, nil
}

func (s *InMemoryExecutionStore) Latest(ctx context.Context, user domain.UserID) (*Execution, error) {
	list, err := s.List(ctx, user, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

// ExecutionRepository is an ExecutionStore backed by the rebalance_executions
// table. Records are stored as msgpack blobs.
type ExecutionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewExecutionRepository creates a new execution repository
func NewExecutionRepository(db *sql.DB, log zerolog.Logger) *ExecutionRepository {
	return &ExecutionRepository{
		db:  db,
		log: log.With().Str("repository", "rebalance_execution").Logger(),
	}
}

func (r *ExecutionRepository) Create(ctx context.Context, exec Execution) error {
	data, err := encodeExecution(exec)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `
		INSERT INTO rebalance_executions (id, user_address, started_at, status, data)
		VALUES (?, ?, ?, ?, ?)
	`, exec.ID, string(exec.UserID), exec.Timestamp.UnixNano(), string(exec.Status), data)
	if err != nil {
		return fmt.Errorf("failed to create execution %s: %w", exec.ID, err)
	}
	return nil
}

func (r *ExecutionRepository) Update(ctx context.Context, exec Execution) error {
	data, err := encodeExecution(exec)
	if err != nil {
		return err
	}

	return database.WithTransaction(r.db, func(tx *sql.Tx) error {
		var status string
		err := tx.QueryRowContext(ctx, "SELECT status FROM rebalance_executions WHERE id = ?", exec.ID).Scan(&status)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrExecutionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to read execution status: %w", err)
		}
		if Status(status).IsTerminal() {
			return ErrTerminalExecution
		}

		if _, err := tx.ExecContext(ctx,
			"UPDATE rebalance_executions SET status = ?, data = ? WHERE id = ?",
			string(exec.Status), data, exec.ID,
		); err != nil {
			return fmt.Errorf("failed to update execution %s: %w", exec.ID, err)
		}
		return nil
	})
}

func (r *ExecutionRepository) Get(ctx context.Context, id string) (*Execution, error) {
	var data []byte
	err := r.db.QueryRowContext(ctx, "SELECT data FROM rebalance_executions WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrExecutionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get execution %s: %w", id, err)
	}
	return decodeExecution(data)
}

func (r *ExecutionRepository) List(ctx context.Context, user domain.UserID, limit int) ([]Execution, error) {
	query := "SELECT data FROM rebalance_executions WHERE user_address = ? ORDER BY started_at DESC, rowid DESC"
	args := []interface{}{string(user)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list executions: %w", err)
	}
	defer rows.Close()

	out := []Execution{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}
		exec, err := decodeExecution(data)
		if err != nil {
			r.log.Warn().Err(err).Msg("Skipping undecodable execution")
			continue
		}
		out = append(out, *exec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}
	return out, nil
}

func (r *ExecutionRepository) Latest(ctx context.Context, user domain.UserID) (*Execution, error) {
	list, err := r.List(ctx, user, 1)
	if err != nil || len(list) == 0 {
		return nil, err
	}
	return &list[0], nil
}

func encodeExecution(exec Execution) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(&exec); err != nil {
		return nil, fmt.Errorf("failed to encode execution: %w", err)
	}
	return buf.Bytes(), nil
}

func decodeExecution(data []byte) (*Execution, error) {
	var exec Execution
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	if err := dec.Decode(&exec); err != nil {
		return nil, fmt.Errorf("failed to decode execution: %w", err)
	}
	return &exec, nil
}
