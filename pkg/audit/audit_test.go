package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/wcsconnector/core/pkg/model"
)

func newTestSink(t *testing.T) *Sink {
	t.Helper()
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(pgContainer)
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	sink, err := Open(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(sink.Close)

	return sink
}

func TestRecordInsertsRow(t *testing.T) {
	sink := newTestSink(t)
	ctx := context.Background()

	now := time.Now()
	sink.Record(ctx, model.CommandResult{
		CommandID:   "c1",
		DeviceID:    "dev-1",
		Status:      model.Success,
		Message:     "ok",
		StartedAt:   now,
		CompletedAt: now.Add(time.Second),
	})

	var count int
	err := sink.pool.QueryRow(ctx, `SELECT count(*) FROM command_history WHERE command_id = $1`, "c1").Scan(&count)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestRecordSwallowsErrorsOnNilSink(t *testing.T) {
	var sink *Sink
	sink.Record(context.Background(), model.CommandResult{CommandID: "c2"})
	sink.Close()
}
