package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
)

// Placeholder selects the bind parameter syntax.
type Placeholder int

const (
	// Dollar emits $1, $2, ... (Postgres).
	Dollar Placeholder = iota
	// Question emits ? (SQLite).
	Question
)

// MaxParams is the bind parameter budget of one statement. It stays under
// SQLite's 32766 default and Postgres' 65535 wire limit.
const MaxParams = 32766

// InsertConfig describes a multi-row insert.
type InsertConfig struct {
	Table        string   // target table, optionally schema-qualified
	Columns      []string // inserted columns, in row order
	ConflictKeys []string // unique key; rows hitting it are skipped
	Placeholder  Placeholder
}

// BuildInsert renders one INSERT ... VALUES (...), (...) statement for n rows.
// With ConflictKeys set, conflicting rows are skipped with DO NOTHING.
func BuildInsert(cfg InsertConfig, n int) (string, error) {
	if len(cfg.Columns) == 0 {
		return "", eris.New("db: insert: no columns specified")
	}
	if n <= 0 {
		return "", eris.New("db: insert: no rows")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", sanitizeTable(cfg.Table), quoteAndJoin(cfg.Columns))

	arg := 1
	for r := 0; r < n; r++ {
		if r > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for c := range cfg.Columns {
			if c > 0 {
				b.WriteString(", ")
			}
			if cfg.Placeholder == Question {
				b.WriteByte('?')
			} else {
				fmt.Fprintf(&b, "$%d", arg)
			}
			arg++
		}
		b.WriteByte(')')
	}

	if len(cfg.ConflictKeys) > 0 {
		fmt.Fprintf(&b, " ON CONFLICT (%s) DO NOTHING", quoteAndJoin(cfg.ConflictKeys))
	}
	return b.String(), nil
}

// Flatten validates row widths and returns the bind arguments in order.
func Flatten(cfg InsertConfig, rows [][]any) ([]any, error) {
	args := make([]any, 0, len(rows)*len(cfg.Columns))
	for i, row := range rows {
		if len(row) != len(cfg.Columns) {
			return nil, eris.Errorf("db: insert into %s: row %d has %d values, want %d", cfg.Table, i, len(row), len(cfg.Columns))
		}
		args = append(args, row...)
	}
	return args, nil
}

// Chunk splits rows so no statement exceeds MaxParams bind parameters.
func Chunk(cfg InsertConfig, rows [][]any) [][][]any {
	per := MaxParams / max(len(cfg.Columns), 1)
	var out [][][]any
	for len(rows) > per {
		out = append(out, rows[:per])
		rows = rows[per:]
	}
	if len(rows) > 0 {
		out = append(out, rows)
	}
	return out
}

// InsertRows runs multi-row inserts, one per chunk, and returns the number
// of rows written. Rows skipped by the conflict clause are not counted.
func InsertRows(ctx context.Context, ex Execer, cfg InsertConfig, rows [][]any) (int64, error) {
	var total int64
	for _, chunk := range Chunk(cfg, rows) {
		sql, err := BuildInsert(cfg, len(chunk))
		if err != nil {
			return total, err
		}
		args, err := Flatten(cfg, chunk)
		if err != nil {
			return total, err
		}
		tag, err := ex.Exec(ctx, sql, args...)
		if err != nil {
			return total, eris.Wrapf(err, "db: insert into %s", cfg.Table)
		}
		total += tag.RowsAffected()
	}
	return total, nil
}

// sanitizeTable handles schema-qualified table names like "public.runs".
func sanitizeTable(table string) string {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}.Sanitize()
	}
	return pgx.Identifier{table}.Sanitize()
}

// quoteAndJoin quotes each column name and joins with commas.
func quoteAndJoin(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}
