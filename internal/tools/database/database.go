// Package database implements the db_query tool: read-only SQL queries
// against the Feedhive database, for agent runs that need to inspect
// collected items or report history.
package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // postgres driver

	"github.com/feedhive/feedhive/internal/permission"
	"github.com/feedhive/feedhive/internal/tools"
)

const (
	maxRows      = 500
	queryTimeout = 15 * time.Second
)

// QueryTool runs read-only SQL. Gated on TOOL_USE (medium risk).
// Only SELECT statements are accepted; everything else is rejected before
// touching the database.
type QueryTool struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewQueryTool creates a db_query tool backed by the given connection pool.
func NewQueryTool(db *sql.DB, logger *slog.Logger) *QueryTool {
	return &QueryTool{db: db, logger: logger}
}

// Open opens a postgres connection pool for the query tool.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func (t *QueryTool) Name() string { return "db_query" }
func (t *QueryTool) Description() string {
	return "Run a read-only SQL query against the Feedhive database"
}
func (t *QueryTool) PermissionKey() permission.Key { return permission.KeyToolUse }
func (t *QueryTool) RiskTier() permission.RiskTier { return permission.TierMedium }
func (t *QueryTool) IsLLM() bool                   { return false }

func (t *QueryTool) Execute(ctx context.Context, params map[string]any) (*tools.Result, error) {
	query, ok := params["query"].(string)
	if !ok || query == "" {
		return nil, fmt.Errorf("parameter %q is required", "query")
	}
	if err := validateReadOnly(query); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, queryTimeout)
	defer cancel()

	rows, err := t.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("executing query: %w", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("reading columns: %w", err)
	}

	var results []map[string]any
	for rows.Next() {
		if len(results) >= maxRows {
			break
		}
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		row := make(map[string]any, len(cols))
		for i, col := range cols {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	out, err := json.Marshal(results)
	if err != nil {
		return nil, fmt.Errorf("encoding results: %w", err)
	}

	t.logger.DebugContext(ctx, "db query executed", slog.Int("rows", len(results)))

	return &tools.Result{
		Output:   tools.TruncateOutput(string(out), tools.MaxOutputBytes),
		Success:  true,
		Metadata: map[string]any{"row_count": len(results)},
	}, nil
}

// validateReadOnly rejects anything other than a single SELECT statement.
func validateReadOnly(query string) error {
	trimmed := strings.TrimSpace(strings.ToLower(query))
	if !strings.HasPrefix(trimmed, "select") && !strings.HasPrefix(trimmed, "with") {
		return fmt.Errorf("only SELECT queries are allowed")
	}
	for _, kw := range []string{"insert ", "update ", "delete ", "drop ", "alter ", "create ", "truncate ", "grant ", "revoke "} {
		if strings.Contains(trimmed, kw) {
			return fmt.Errorf("query contains forbidden keyword %q", strings.TrimSpace(kw))
		}
	}
	if strings.Count(query, ";") > 1 || (strings.Contains(query, ";") && !strings.HasSuffix(strings.TrimSpace(query), ";")) {
		return fmt.Errorf("multiple statements are not allowed")
	}
	return nil
}
