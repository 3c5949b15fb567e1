// Package factory builds history sinks from DSN strings.
package factory

import (
	"errors"
	"net/url"
	"strings"

	"github.com/loykin/hwman/internal/history"
	"github.com/loykin/hwman/internal/history/clickhouse"
	"github.com/loykin/hwman/internal/history/opensearch"
)

// NewSinkFromDSN creates a history sink based on DSN format.
// Supported formats:
//   - "clickhouse://host:port?table=table"
//   - "opensearch://host:port/index" (plain HTTP transport)
//   - "opensearchs://host:port/index" (HTTPS)
func NewSinkFromDSN(dsn string) (history.Sink, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, errors.New("empty DSN")
	}
	lower := strings.ToLower(dsn)

	if strings.HasPrefix(lower, "clickhouse://") {
		return parseClickHouseDSN(dsn)
	}
	if strings.HasPrefix(lower, "opensearch://") || strings.HasPrefix(lower, "opensearchs://") {
		return parseOpenSearchDSN(dsn)
	}
	return nil, errors.New("unsupported DSN format: " + dsn)
}

// NewSinks builds a fanout over every DSN; one bad DSN fails the whole
// configuration so mistakes surface at boot.
func NewSinks(dsns []string) (history.Sink, error) {
	if len(dsns) == 0 {
		return nil, nil
	}
	fan := make(history.Fanout, 0, len(dsns))
	for _, dsn := range dsns {
		s, err := NewSinkFromDSN(dsn)
		if err != nil {
			return nil, err
		}
		fan = append(fan, s)
	}
	return fan, nil
}

func parseClickHouseDSN(dsn string) (history.Sink, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	host := u.Host
	if host == "" {
		host = "localhost:9000" // default ClickHouse native port
	}
	table := u.Query().Get("table")
	if table == "" {
		table = "hwman_history"
	}
	return clickhouse.New(host, table)
}

func parseOpenSearchDSN(dsn string) (history.Sink, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return nil, err
	}
	scheme := "http"
	if strings.EqualFold(u.Scheme, "opensearchs") {
		scheme = "https"
	}
	baseURL := scheme + "://" + u.Host
	index := strings.Trim(u.Path, "/")
	if index == "" {
		index = "hwman-history"
	}
	return opensearch.New(baseURL, index), nil
}
