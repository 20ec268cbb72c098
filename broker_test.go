package broker

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/stretchr/testify/require"
)

// testBroker opens a Broker against BROKER_TEST_DSN and truncates every
// table so each test starts from a clean slate. Tests are skipped when the
// environment variable is unset, for the same reason internal/store's tests
// are: the reservation engine has no portable in-process substitute for a
// real Postgres.
func testBroker(t *testing.T, opts ...BrokerOption) *Broker {
	t.Helper()

	dsn := os.Getenv("BROKER_TEST_DSN")
	if dsn == "" {
		t.Skip("BROKER_TEST_DSN not set, skipping Postgres-backed broker test")
	}

	admin, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	for _, table := range []string{"dead_letters", "subscription_messages", "subscriptions", "scheduled_messages", "messages", "topics"} {
		_, err := admin.Exec("DELETE FROM " + table)
		require.NoError(t, err)
	}
	require.NoError(t, admin.Close())

	b, err := testOpen(dsn, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = b.Close() })
	return b
}

// testOpen is Open with the background loops' intervals pushed far out, so
// the trim/stale/scheduled tickers never fire mid-test and race the
// assertions.
func testOpen(dsn string, opts ...BrokerOption) (*Broker, error) {
	base := []BrokerOption{
		WithLogger(&NoopLogger{}),
		WithTrimInterval(time.Hour),
		WithStaleTimeout(time.Hour),
		WithResetStaleInterval(time.Hour),
		WithScheduledInterval(time.Hour),
	}
	return Open(dsn, append(base, opts...)...)
}

func TestOpen_EnsuresSchemaIdempotently(t *testing.T) {
	b := testBroker(t)
	require.NotNil(t, b)

	second, err := testOpen(os.Getenv("BROKER_TEST_DSN"))
	require.NoError(t, err)
	defer second.Close()
}

func TestBroker_Close_IsIdempotent(t *testing.T) {
	b := testBroker(t)
	require.NoError(t, b.Close())
	require.NoError(t, b.Close())
}

func TestBroker_Topic_AfterCloseReturnsErrClosed(t *testing.T) {
	b := testBroker(t)
	require.NoError(t, b.Close())

	_, err := b.Topic("orders")
	require.ErrorIs(t, err, ErrClosed)
}

func TestBroker_Trim_AfterCloseReturnsErrClosed(t *testing.T) {
	b := testBroker(t)
	require.NoError(t, b.Close())

	err := b.Trim(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}
