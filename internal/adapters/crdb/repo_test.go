package crdb_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/boomfest/boom-tickets/internal/adapters/crdb"
	"github.com/boomfest/boom-tickets/internal/domain"
)

func startCRDB(t *testing.T) *crdb.Repository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping CockroachDB container test in short mode")
	}
	ctx := context.Background()

	crdbContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "cockroachdb/cockroach:v24.1.1",
			Cmd:          []string{"start-single-node", "--insecure"},
			ExposedPorts: []string{"26257/tcp", "8080/tcp"},
			WaitingFor:   wait.ForHTTP("/health?ready=1").WithPort("8080"),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { crdbContainer.Terminate(ctx) })

	host, err := crdbContainer.Host(ctx)
	require.NoError(t, err)
	port, err := crdbContainer.MappedPort(ctx, "26257")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, "postgresql://root@"+host+":"+port.Port()+"/defaultdb?sslmode=disable")
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	require.NoError(t, crdb.Migrate(ctx, pool))
	// Applying the schema twice must be harmless.
	require.NoError(t, crdb.Migrate(ctx, pool))
	return crdb.NewRepository(pool)
}

func newOrder(t *testing.T, name string) domain.Order {
	t.Helper()
	tier := domain.DefaultTiers[1]
	o, err := domain.NewOrder(domain.Checkout{
		CustomerName:  name,
		Email:         "ana@example.com",
		Phone:         "977163359",
		DocumentID:    "45678912",
		TicketClass:   tier.Class,
		Quantity:      2,
		PaymentMethod: "yape",
		Attendees:     []string{"Luis Rojas"},
	}, tier, time.Now())
	require.NoError(t, err)
	return o
}

func TestRepository(t *testing.T) {
	repo := startCRDB(t)
	ctx := context.Background()

	t.Run("insert and get", func(t *testing.T) {
		created, err := repo.InsertOrder(ctx, newOrder(t, "Ana Torres"))
		require.NoError(t, err)
		require.NotZero(t, created.ID)

		got, err := repo.GetOrder(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusPending, got.Status)
		assert.True(t, decimal.NewFromInt(40).Equal(got.TotalAmount))
		assert.Equal(t, []string{"Luis Rojas"}, got.Attendees)
		assert.False(t, got.CheckedIn)
	})

	t.Run("missing order", func(t *testing.T) {
		_, err := repo.GetOrder(ctx, 1)
		assert.ErrorIs(t, err, domain.ErrNotFound)

		_, err = repo.MarkCheckedIn(ctx, 1, time.Now(), "gate")
		assert.ErrorIs(t, err, domain.ErrNotFound)
	})

	t.Run("conditional transitions", func(t *testing.T) {
		created, err := repo.InsertOrder(ctx, newOrder(t, "Luis Rojas"))
		require.NoError(t, err)

		_, err = repo.MarkCheckedIn(ctx, created.ID, time.Now(), "gate")
		assert.ErrorIs(t, err, domain.ErrConflict, "pending orders cannot be checked in")

		approve := domain.StatusChange{From: domain.StatusPending, To: domain.StatusApproved, At: time.Now(), Actor: "admin"}
		approved, err := repo.UpdateStatus(ctx, created.ID, approve)
		require.NoError(t, err)
		assert.Equal(t, domain.StatusApproved, approved.Status)
		assert.Equal(t, "admin", approved.ApprovedBy)

		_, err = repo.UpdateStatus(ctx, created.ID, approve)
		assert.ErrorIs(t, err, domain.ErrConflict)

		at := time.Now().UTC().Truncate(time.Microsecond)
		used, err := repo.MarkCheckedIn(ctx, created.ID, at, "gate-north")
		require.NoError(t, err)
		assert.True(t, used.CheckedIn)
		assert.True(t, at.Equal(*used.CheckedInAt))

		_, err = repo.MarkCheckedIn(ctx, created.ID, time.Now(), "gate-south")
		assert.ErrorIs(t, err, domain.ErrConflict)

		got, err := repo.GetOrder(ctx, created.ID)
		require.NoError(t, err)
		assert.Equal(t, "gate-north", got.CheckedInBy)
	})

	t.Run("concurrent check-in admits once", func(t *testing.T) {
		created, err := repo.InsertOrder(ctx, newOrder(t, "Rosa Quispe"))
		require.NoError(t, err)
		_, err = repo.UpdateStatus(ctx, created.ID, domain.StatusChange{
			From: domain.StatusPending, To: domain.StatusApproved, At: time.Now(), Actor: "admin",
		})
		require.NoError(t, err)

		const devices = 8
		var (
			wg       sync.WaitGroup
			mu       sync.Mutex
			admitted int
		)
		for i := 0; i < devices; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := repo.MarkCheckedIn(ctx, created.ID, time.Now(), "gate")
				if err == nil {
					mu.Lock()
					admitted++
					mu.Unlock()
					return
				}
				assert.True(t, errors.Is(err, domain.ErrConflict), "unexpected error: %v", err)
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, admitted)
	})

	t.Run("list, count and outbox", func(t *testing.T) {
		orders, err := repo.ListOrders(ctx, domain.OrderFilter{Query: "ROSA"})
		require.NoError(t, err)
		require.Len(t, orders, 1)
		assert.Equal(t, "Rosa Quispe", orders[0].CustomerName)

		for _, wildcard := range []string{"_", "%", "a_a", "r%a"} {
			orders, err = repo.ListOrders(ctx, domain.OrderFilter{Query: wildcard})
			require.NoError(t, err)
			assert.Empty(t, orders, "query %q is matched literally", wildcard)
		}

		approved, err := repo.CountOrders(ctx, domain.StatusApproved)
		require.NoError(t, err)
		assert.Equal(t, 2, approved)

		err = repo.WithTx(ctx, func(tx pgx.Tx) error {
			records, err := repo.GetUnpublishedOutbox(ctx, tx, 100)
			if err != nil {
				return err
			}
			types := map[string]int{}
			for _, rec := range records {
				types[rec.EventType]++
			}
			assert.Equal(t, 3, types[domain.EventOrderCreated])
			assert.Equal(t, 2, types[domain.EventOrderApproved])
			assert.Equal(t, 2, types[domain.EventOrderCheckedIn])
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("delete all", func(t *testing.T) {
		n, err := repo.DeleteAll(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 3, n)

		total, err := repo.CountOrders(ctx, "")
		require.NoError(t, err)
		assert.Zero(t, total)
	})
}
