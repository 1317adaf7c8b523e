package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/clubpay-backend/internal/tenancy"
	"github.com/angelmondragon/clubpay-backend/pkg/db"
)

const clubID = "clubaaaaaaaaaaaaaaaa01"

func newScopeRunner(t *testing.T) func(fn func(*tenancy.Scope) error) error {
	t.Helper()
	client, err := db.OpenSQLite(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	manager, err := tenancy.NewManager(client, nil)
	require.NoError(t, err)
	require.NoError(t, manager.Provision(context.Background(), clubID))
	accessor, err := tenancy.NewAccessor(manager)
	require.NoError(t, err)

	return func(fn func(*tenancy.Scope) error) error {
		return accessor.WithTenant(context.Background(), clubID, fn)
	}
}

func TestRecordAndList(t *testing.T) {
	run := newScopeRunner(t)

	err := run(func(s *tenancy.Scope) error {
		return Record(s, Entry{
			ActorID:    SystemActor,
			Action:     ActionChargeCreated,
			EntityType: EntityCharge,
			EntityID:   "charge-1",
			Metadata:   map[string]any{"amount_cents": 15000, "amount_major": AmountMajor(15000)},
		})
	})
	require.NoError(t, err)

	err = run(func(s *tenancy.Scope) error {
		rows, err := List(s, EntityCharge, "charge-1")
		require.NoError(t, err)
		require.Len(t, rows, 1)
		require.Equal(t, SystemActor, rows[0].ActorID)

		var meta map[string]any
		require.NoError(t, rows[0].Metadata.Decode(&meta))
		require.Equal(t, "150.00", meta["amount_major"])
		return nil
	})
	require.NoError(t, err)
}

func TestRecordRequiresActorAndEntity(t *testing.T) {
	run := newScopeRunner(t)
	err := run(func(s *tenancy.Scope) error {
		return Record(s, Entry{Action: ActionChargeCreated, EntityType: EntityCharge, EntityID: "x"})
	})
	require.Error(t, err)

	err = run(func(s *tenancy.Scope) error {
		return Record(s, Entry{ActorID: SystemActor, EntityType: EntityCharge})
	})
	require.Error(t, err)
}

func TestAmountMajor(t *testing.T) {
	require.Equal(t, "150.00", AmountMajor(15000))
	require.Equal(t, "0.99", AmountMajor(99))
	require.Equal(t, "0.00", AmountMajor(0))
	require.Equal(t, "-12.50", AmountMajor(-1250))
}
