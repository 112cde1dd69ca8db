package export

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/xtxerr/sensorlog/internal/validation"
)

// Querier runs SQL over Parquet exports with an in-memory DuckDB.
type Querier struct {
	db *sql.DB
}

// SensorStats is one row of a Parquet summary query.
type SensorStats struct {
	SensorID string
	Count    int64
	Min      float64
	Max      float64
	Avg      float64
	FirstTs  int64
	LastTs   int64
}

// NewQuerier opens an in-memory DuckDB database. memoryLimit is a DuckDB
// size such as "512MB"; empty keeps the DuckDB default.
func NewQuerier(memoryLimit string) (*Querier, error) {
	db, err := sql.Open("duckdb", "")
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}

	if memoryLimit != "" {
		if _, err := db.Exec(fmt.Sprintf("SET memory_limit='%s'", memoryLimit)); err != nil {
			db.Close()
			return nil, fmt.Errorf("set memory limit: %w", err)
		}
	}

	return &Querier{db: db}, nil
}

// Close closes the database.
func (q *Querier) Close() error {
	if q.db != nil {
		return q.db.Close()
	}
	return nil
}

// SensorStats summarises a Parquet file per sensor. Only sensors whose id
// starts with prefix are included; an empty prefix matches all.
func (q *Querier) SensorStats(ctx context.Context, path, prefix string) ([]SensorStats, error) {
	const query = `
		SELECT
			sensor_id,
			count(*),
			min(value), max(value), avg(value),
			min(timestamp), max(timestamp)
		FROM read_parquet($1)
		WHERE sensor_id LIKE $2 ESCAPE '\'
		GROUP BY sensor_id
		ORDER BY sensor_id
	`

	rows, err := q.db.QueryContext(ctx, query, path, validation.SafeLikePrefix(prefix))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", path, err)
	}
	defer rows.Close()

	var out []SensorStats
	for rows.Next() {
		var s SensorStats
		if err := rows.Scan(&s.SensorID, &s.Count, &s.Min, &s.Max, &s.Avg, &s.FirstTs, &s.LastTs); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate: %w", err)
	}
	return out, nil
}

// QueryParquet is a one-shot SensorStats with a temporary Querier.
func QueryParquet(ctx context.Context, path, prefix string) ([]SensorStats, error) {
	q, err := NewQuerier("")
	if err != nil {
		return nil, err
	}
	defer q.Close()
	return q.SensorStats(ctx, path, prefix)
}
