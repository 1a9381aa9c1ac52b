package adapter

import (
	"context"
	"database/sql"
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/liemle3893/e2e-runner-sub000/internal/assertion"
	"github.com/liemle3893/e2e-runner-sub000/internal/config"
	"github.com/liemle3893/e2e-runner-sub000/internal/errs"
)

// PostgresAdapter runs SQL through database/sql and lib/pq.
type PostgresAdapter struct {
	config config.AdapterConfig

	mu sync.Mutex
	db *sql.DB
}

// NewPostgres creates an unconnected PostgreSQL adapter.
func NewPostgres(cfg config.AdapterConfig) *PostgresAdapter {
	return &PostgresAdapter{config: cfg}
}

func (a *PostgresAdapter) Name() string { return string(PostgreSQL) }

func (a *PostgresAdapter) Connect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db != nil {
		return nil
	}

	dsn := withSearchPath(a.config.ConnectionString, a.config.String("schema"))
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return fmt.Errorf("connecting to postgres: %w", err)
	}

	poolSize := a.config.Int("poolSize", 10)
	db.SetMaxOpenConns(poolSize)
	db.SetMaxIdleConns(poolSize / 2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("pinging postgres: %w", err)
	}
	a.db = db
	return nil
}

// withSearchPath adds search_path to either DSN form lib/pq accepts.
func withSearchPath(dsn, schema string) string {
	if schema == "" {
		return dsn
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		u, err := url.Parse(dsn)
		if err != nil {
			return dsn
		}
		q := u.Query()
		q.Set("search_path", schema)
		u.RawQuery = q.Encode()
		return u.String()
	}
	return strings.TrimSpace(dsn) + " search_path=" + schema
}

func (a *PostgresAdapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

func (a *PostgresAdapter) conn() *sql.DB {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.db
}

func (a *PostgresAdapter) HealthCheck(ctx context.Context) bool {
	db := a.conn()
	if db == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		log.Debug().Err(err).Msg("postgres health check failed")
		return false
	}
	return true
}

func (a *PostgresAdapter) Execute(ctx context.Context, action string, params map[string]any, ac *Context) (*Result, error) {
	db := a.conn()
	if db == nil {
		return nil, &errs.AdapterError{Adapter: a.Name(), Action: action, Message: "not connected"}
	}
	query, err := requireString(a.Name(), action, params, "query")
	if err != nil {
		return nil, err
	}
	args := paramList(params, "params")

	start := time.Now()
	var data map[string]any
	switch action {
	case "execute":
		res, err := db.ExecContext(ctx, query, args...)
		if err != nil {
			return nil, errs.NewAdapterError(a.Name(), action, err)
		}
		n, _ := res.RowsAffected()
		data = map[string]any{"rowCount": n}

	case "query":
		rows, err := a.queryRows(ctx, db, query, args)
		if err != nil {
			return nil, errs.NewAdapterError(a.Name(), action, err)
		}
		data = map[string]any{"rows": rows, "rowCount": len(rows)}

	case "queryOne":
		rows, err := a.queryRows(ctx, db, query, args)
		if err != nil {
			return nil, errs.NewAdapterError(a.Name(), action, err)
		}
		var row any
		if len(rows) > 0 {
			row = rows[0]
		}
		data = map[string]any{"row": row, "rowCount": len(rows)}

	case "count":
		var n int64
		if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
			return nil, errs.NewAdapterError(a.Name(), action, err)
		}
		data = map[string]any{"count": n}

	default:
		return nil, &errs.AdapterError{Adapter: a.Name(), Action: action, Message: "unknown action"}
	}

	if ac != nil {
		ac.Logger.Debug().Str("action", action).Dur("took", time.Since(start)).Msg("sql executed")
	}
	return &Result{Data: data, Duration: time.Since(start)}, nil
}

func (a *PostgresAdapter) queryRows(ctx context.Context, db *sql.DB, query string, args []any) ([]any, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	out := []any{}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			row[col] = sqlValue(values[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func sqlValue(v any) any {
	switch val := v.(type) {
	case []byte:
		return string(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	}
	return v
}

// Assert understands rowCount, row (column → assertion) and rows (a list of
// column maps, or an assertion on the whole list). Other keys are paths.
func (a *PostgresAdapter) Assert(data any, spec any) error {
	m, ok := spec.(map[string]any)
	if !ok {
		return assertion.CheckPaths(data, spec)
	}
	res, _ := data.(map[string]any)

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expected := m[key]
		var err error
		switch key {
		case "rowCount":
			err = assertion.Run(res["rowCount"], assertion.From(expected), "rowCount")
		case "row":
			err = assertColumns(res["row"], expected, "row")
		case "rows":
			err = assertRows(res["rows"], expected)
		default:
			err = assertion.CheckPaths(data, map[string]any{key: expected})
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func assertColumns(row any, expected any, prefix string) error {
	want, ok := expected.(map[string]any)
	if !ok {
		return fmt.Errorf("%s assertion must be a map of columns, got %T", prefix, expected)
	}
	cols, _ := row.(map[string]any)
	names := make([]string, 0, len(want))
	for k := range want {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, name := range names {
		var value any = assertion.Undefined
		if v, ok := cols[name]; ok {
			value = v
		}
		if err := assertion.Run(value, assertion.From(want[name]), prefix+"."+name); err != nil {
			return err
		}
	}
	return nil
}

func assertRows(rows any, expected any) error {
	list, ok := expected.([]any)
	if !ok {
		return assertion.Run(rows, assertion.From(expected), "rows")
	}
	actual, _ := rows.([]any)
	if len(actual) < len(list) {
		return &assertion.Error{
			Message:  fmt.Sprintf("expected at least %d rows, got %d", len(list), len(actual)),
			Path:     "rows",
			Operator: "length",
			Expected: len(list),
			Actual:   len(actual),
		}
	}
	for i, want := range list {
		if err := assertColumns(actual[i], want, fmt.Sprintf("rows[%d]", i)); err != nil {
			return err
		}
	}
	return nil
}
