package pgsims

import (
	"context"
	"testing"
	"time"

	"github.com/BearBump/SimKeeper/internal/models"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func TestPGSims_RepoFlow(t *testing.T) {
	if testing.Short() {
		t.Skip("needs docker")
	}
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "admin",
			"POSTGRES_PASSWORD": "admin",
			"POSTGRES_DB":       "simkeeper_test",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pgC.Terminate(ctx) })

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	dsn := "postgres://admin:admin@" + host + ":" + port.Port() + "/simkeeper_test?sslmode=disable"
	var st *Storage
	// порт слушается раньше, чем postgres готов принимать запросы
	require.Eventually(t, func() bool {
		st, err = New(dsn)
		return err == nil
	}, 30*time.Second, 500*time.Millisecond)
	t.Cleanup(st.Close)

	lastUsage := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.Create(ctx, &models.SimCard{ID: "b", Label: "Spare", PhoneNumber: "07700900123", LastUsageDate: lastUsage}))
	require.NoError(t, st.Create(ctx, &models.SimCard{ID: "a", Label: "Main", PhoneNumber: "+447700900456", LastUsageDate: lastUsage, Notes: "drawer"}))

	all, err := st.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	require.Equal(t, "a", all[0].ID)
	require.Equal(t, "drawer", all[0].Notes)
	require.True(t, lastUsage.Equal(all[1].LastUsageDate))

	// UpdateLastUsage не трогает остальные поля
	now := time.Date(2025, 6, 27, 10, 0, 0, 0, time.UTC)
	require.NoError(t, st.UpdateLastUsage(ctx, "a", now))
	got, err := st.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, now.Equal(got.LastUsageDate))
	require.Equal(t, "Main", got.Label)

	got.Label = "Main line"
	require.NoError(t, st.Update(ctx, got))
	byIDs, err := st.GetByIDs(ctx, []string{"a"})
	require.NoError(t, err)
	require.Len(t, byIDs, 1)
	require.Equal(t, "Main line", byIDs[0].Label)

	require.ErrorIs(t, st.UpdateLastUsage(ctx, "missing", now), ErrNotFound)
	require.ErrorIs(t, st.Update(ctx, &models.SimCard{ID: "missing"}), ErrNotFound)
	_, err = st.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, st.Delete(ctx, "b"))
	require.ErrorIs(t, st.Delete(ctx, "b"), ErrNotFound)
	all, err = st.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}
