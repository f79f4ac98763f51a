package trading

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/rs/zerolog"
)

// transactionColumns is the column list of the transaction_log table.
// Order must match scanTransaction.
const transactionColumns = `id, user_address, protocol, direction, amount, tx_reference, executed_at`

// TransactionRepository is a TransactionLog backed by the transaction_log table
type TransactionRepository struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewTransactionRepository creates a new transaction repository
func NewTransactionRepository(db *sql.DB, log zerolog.Logger) *TransactionRepository {
	return &TransactionRepository{
		db:  db,
		log: log.With().Str("repo", "transaction").Logger(),
	}
}

// Record inserts an executed transaction
func (r *TransactionRepository) Record(ctx context.Context, tx Transaction) error {
	if err := tx.Validate(); err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}

	query := `
		INSERT INTO transaction_log
		(user_address, protocol, direction, amount, tx_reference, executed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err := r.db.ExecContext(ctx, query,
		string(tx.UserID),
		string(tx.Protocol),
		string(tx.Direction),
		tx.Amount,
		tx.TxReference,
		tx.ExecutedAt.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record transaction: %w", err)
	}

	r.log.Debug().
		Str("user", string(tx.UserID)).
		Str("protocol", string(tx.Protocol)).
		Str("direction", string(tx.Direction)).
		Float64("amount", tx.Amount).
		Msg("Transaction recorded")

	return nil
}

// Since returns the user's transactions executed at or after since, newest first
func (r *TransactionRepository) Since(ctx context.Context, user domain.UserID, since time.Time) ([]Transaction, error) {
	query := "SELECT " + transactionColumns + ` FROM transaction_log
		WHERE user_address = ? AND executed_at >= ?
		ORDER BY executed_at DESC, id DESC`

	rows, err := r.db.QueryContext(ctx, query, string(user), since.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	txs := []Transaction{}
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating transactions: %w", err)
	}
	return txs, nil
}

func scanTransaction(rows *sql.Rows) (Transaction, error) {
	var (
		tx         Transaction
		user       string
		protocol   string
		direction  string
		executedAt int64
	)
	if err := rows.Scan(&tx.ID, &user, &protocol, &direction, &tx.Amount, &tx.TxReference, &executedAt); err != nil {
		return Transaction{}, fmt.Errorf("failed to scan transaction: %w", err)
	}
	tx.UserID = domain.UserID(user)
	tx.Protocol = domain.ProtocolID(protocol)
	tx.Direction = domain.Direction(direction)
	tx.ExecutedAt = time.Unix(0, executedAt).UTC()
	return tx, nil
}
