//go:build database

package mas

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// TestCatalogueWithPostgres runs the catalogue against a disposable
// postgres container.
func TestCatalogueWithPostgres(t *testing.T) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_HOST_AUTH_METHOD": "trust",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	require.NoError(t, err)
	defer func() { _ = pgC.Terminate(ctx) }()

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("host=%s port=%s user=postgres dbname=postgres sslmode=disable", host, port.Port())
	c, err := Open(DriverPostgres, dsn, WithPool(2, 4))
	require.NoError(t, err)
	defer c.Close()
	require.NoError(t, c.Migrate())

	for _, y := range []int{2018, 2019} {
		require.NoError(t, c.Put(ctx, asset("harmonized", fmt.Sprintf("viirs_%d", y), y)))
	}
	require.NoError(t, c.Put(ctx, asset("harmonized", "viirs_2019", 2019)))

	assets, err := c.Assets(ctx, "harmonized")
	require.NoError(t, err)
	assert.Len(t, assets, 2)

	latest, ok, err := c.Latest(ctx, "harmonized", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2019, latest.Year)
}
