package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/clickhouse"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/loykin/hwman/internal/history"
)

// setupClickHouseContainer starts a ClickHouse container, skipping the test
// when Docker is unavailable.
func setupClickHouseContainer(ctx context.Context, t *testing.T) (testcontainers.Container, string) {
	t.Helper()

	// Provider detection panics instead of returning an error on hosts
	// without Docker; turn that into a skip too.
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("Docker not available: %v", r)
		}
	}()

	container, err := clickhouse.Run(ctx,
		"clickhouse/clickhouse-server:24.3.2.23",
		clickhouse.WithUsername("default"),
		clickhouse.WithPassword(""),
		clickhouse.WithDatabase("default"),
		testcontainers.WithWaitStrategy(
			wait.ForHTTP("/ping").
				WithPort("8123/tcp").
				WithStartupTimeout(30*time.Second)),
	)
	if err != nil {
		t.Skipf("Failed to start ClickHouse container: %v", err)
		return nil, ""
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("Failed to get container host: %v", err)
		return nil, ""
	}
	port, err := container.MappedPort(ctx, "9000")
	if err != nil {
		_ = container.Terminate(ctx)
		t.Skipf("Failed to get mapped port: %v", err)
		return nil, ""
	}
	return container, host + ":" + port.Port()
}

func setupSinkWithTable(ctx context.Context, t *testing.T, dsn, table string) *Sink {
	t.Helper()

	sink, err := New(dsn, table)
	require.NoError(t, err)

	err = sink.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+table+` (
			kind String,
			occurred_at DateTime64(6),
			service String,
			action String,
			principal String,
			detail String,
			operator String,
			serial String
		) ENGINE = MergeTree()
		ORDER BY (occurred_at, kind)
	`)
	require.NoError(t, err)
	return sink
}

func TestClickHouseSinkSend(t *testing.T) {
	ctx := context.Background()
	container, dsn := setupClickHouseContainer(ctx, t)
	defer func() {
		if container != nil {
			_ = container.Terminate(ctx)
		}
	}()

	sink := setupSinkWithTable(ctx, t, dsn, "hwman_history_test")
	defer func() { _ = sink.Close() }()

	require.NoError(t, sink.Send(ctx, history.Event{
		Kind:       history.KindServiceEvent,
		OccurredAt: time.Now().UTC(),
		Service:    "camera",
		Action:     "start",
		Principal:  "alice",
	}))
	require.NoError(t, sink.Send(ctx, history.Event{
		Kind:       history.KindCertIssued,
		OccurredAt: time.Now().UTC(),
		Operator:   "bob",
		Serial:     "ab12",
	}))

	var count uint64
	row := sink.conn.QueryRow(ctx, "SELECT count() FROM hwman_history_test")
	require.NoError(t, row.Scan(&count))
	assert.EqualValues(t, 2, count)
}

func TestClickHouseSinkUnreachable(t *testing.T) {
	_, err := New("127.0.0.1:1", "t")
	assert.Error(t, err)
}
