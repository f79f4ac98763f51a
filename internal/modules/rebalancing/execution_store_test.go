package rebalancing

import (
	"context"
	"testing"
	"time"

	"github.com/aristath/vaultkeeper/internal/domain"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutionStores(t *testing.T) {
	db := createTestDB(t)
	stores := map[string]ExecutionStore{
		"memory": NewInMemoryExecutionStore(),
		"sqlite": NewExecutionRepository(db.Conn(), zerolog.Nop()),
	}

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			user := domain.UserID("0x" + name)

			latest, err := store.Latest(ctx, user)
			require.NoError(t, err)
			assert.Nil(t, latest)

			first := Execution{
				ID:             name + "-1",
				UserID:         user,
				Timestamp:      base,
				Trigger:        TriggerDrift,
				FromAllocation: AllocationSnapshot{"aave": 70, "compound": 30},
				ToAllocation:   AllocationSnapshot{"aave": 50, "compound": 50},
				Steps: []Step{
					{Instruction: TransferInstruction{Protocol: "aave", Direction: domain.DirectionWithdraw, Amount: 200}, Status: StepPending},
				},
				Status:  StatusPending,
				Verdict: &VerdictSummary{Approved: true, SecurityScore: 95},
			}
			require.NoError(t, store.Create(ctx, first))

			second := first.Clone()
			second.ID = name + "-2"
			second.Timestamp = base.Add(time.Hour)
			require.NoError(t, store.Create(ctx, second))

			list, err := store.List(ctx, user, 0)
			require.NoError(t, err)
			require.Len(t, list, 2)
			assert.Equal(t, second.ID, list[0].ID)

			list, err = store.List(ctx, user, 1)
			require.NoError(t, err)
			assert.Len(t, list, 1)

			first.Status = StatusExecuting
			require.NoError(t, store.Update(ctx, first))

			finished := base.Add(time.Minute)
			first.Status = StatusCompleted
			first.Steps[0].Status = StepCompleted
			first.Steps[0].TxReference = "aave-withdraw-000001"
			first.TotalCost = 2.5
			first.Elapsed = 1500 * time.Millisecond
			first.FinishedAt = &finished
			require.NoError(t, store.Update(ctx, first))

			got, err := store.Get(ctx, first.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, got.Status)
			assert.Equal(t, "aave-withdraw-000001", got.Steps[0].TxReference)
			assert.Equal(t, 1500*time.Millisecond, got.Elapsed)
			assert.Equal(t, 70.0, got.FromAllocation["aave"])
			require.NotNil(t, got.Verdict)
			assert.Equal(t, 95, got.Verdict.SecurityScore)

			// Terminal records are immutable
			first.Status = StatusFailed
			assert.ErrorIs(t, store.Update(ctx, first), ErrTerminalExecution)

			_, err = store.Get(ctx, "missing")
			assert.ErrorIs(t, err, ErrExecutionNotFound)
			assert.ErrorIs(t, store.Update(ctx, Execution{ID: "missing"}), ErrExecutionNotFound)

			latest, err = store.Latest(ctx, user)
			require.NoError(t, err)
			require.NotNil(t, latest)
			assert.Equal(t, second.ID, latest.ID)
		})
	}
}

func TestStatus_Transitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusExecuting))
	assert.False(t, StatusPending.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusPending.CanTransitionTo(StatusFailed))
	assert.True(t, StatusExecuting.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusExecuting.CanTransitionTo(StatusFailed))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusFailed))
	assert.False(t, StatusFailed.CanTransitionTo(StatusExecuting))
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusExecuting.IsTerminal())
}
