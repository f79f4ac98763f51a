package trading

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
)

// InMemoryTransactionLog is a TransactionLog partitioned by user
type InMemoryTransactionLog struct {
	byUser map[domain.UserID][]Transaction
	nextID int64
	mu     sync.RWMutex
}

// NewInMemoryTransactionLog creates an empty log
func NewInMemoryTransactionLog() *InMemoryTransactionLog {
	return &InMemoryTransactionLog{byUser: make(map[domain.UserID][]Transaction)}
}

func (l *InMemoryTransactionLog) Record(ctx context.Context, tx Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.nextID++
	tx.ID = l.nextID
	l.byUser[tx.UserID] = append(l.byUser[tx.UserID], tx)
	return nil
}

func (l *InMemoryTransactionLog) Since(ctx context.Context, user domain.UserID, since time.Time) ([]Transaction, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := []Transaction{}
	for _, tx := range l.byUser[user] {
		if !tx.ExecutedAt.Before(since) {
			out = append(out, tx)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ExecutedAt.Equal(out[j].ExecutedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].ExecutedAt.After(out[j].ExecutedAt)
	})
	return out, nil
}
