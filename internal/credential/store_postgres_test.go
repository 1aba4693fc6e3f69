// AngelaMos | 2026
// store_postgres_test.go

package credential

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/carterperez-dev/templates/credential-engine/internal/config"
	"github.com/carterperez-dev/templates/credential-engine/internal/core"
)

const testDatabaseEnv = "CREDENTIAL_TEST_DATABASE_URL"

func TestPostgresStore_Contract(t *testing.T) {
	url := os.Getenv(testDatabaseEnv)
	if url == "" {
		t.Skipf("%s not set", testDatabaseEnv)
	}

	ctx := context.Background()
	db, err := core.NewDatabase(ctx, config.DatabaseConfig{
		URL:             url,
		MaxOpenConns:    10,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
		ConnMaxIdleTime: time.Minute,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() }) //nolint:errcheck // test teardown

	require.NoError(t, db.Migrate(ctx, Schema...))

	runStoreContract(t, func(t *testing.T) Store {
		_, err := db.DB.ExecContext(ctx, `TRUNCATE credentials`)
		require.NoError(t, err)
		return NewPostgresStore(db.DB)
	})
}
