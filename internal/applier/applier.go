// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

// Package applier is an example insertion client: it drives the core
// readers and applies the decoded stream to a target Postgres
// database. The core itself never writes anywhere — "what happens to
// a decoded tuple" is explicitly the consumer's responsibility.
package applier

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clusterdb/backupreader/internal/applier/migrations"
	"github.com/clusterdb/backupreader/internal/schema"
)

// Applier applies decoded tuples and log entries to a target database,
// one row at a time, quoting each destination table name under the
// schema it was told to restore into.
type Applier struct {
	pool       *pgxpool.Pool
	destSchema string

	RunID    uuid.UUID
	BackupID uint32

	tuplesApplied     int64
	logEntriesApplied int64
}

// New connects to dsn, runs the applier's own bookkeeping migrations,
// and records a new restore_runs row.
func New(ctx context.Context, dsn, destSchema string, backupID uint32, startGCP, stopGCP uint32) (*Applier, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to target database: %w", err)
	}

	if err := migrations.RunMigrationsUp(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run applier migrations: %w", err)
	}

	runID := uuid.New()
	_, err = pool.Exec(ctx,
		`INSERT INTO restore_runs (run_id, backup_id, start_gcp, stop_gcp) VALUES ($1, $2, $3, $4)`,
		runID, backupID, startGCP, stopGCP)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("record restore run: %w", err)
	}

	return &Applier{pool: pool, destSchema: destSchema, RunID: runID, BackupID: backupID}, nil
}

// Close records the final counters on the run's ledger row and closes
// the pool.
func (a *Applier) Close(ctx context.Context, lastErr error) error {
	var errText *string
	if lastErr != nil {
		s := lastErr.Error()
		errText = &s
	}
	_, err := a.pool.Exec(ctx,
		`UPDATE restore_runs SET finished_at = now(), tuples_applied = $1, log_entries_applied = $2, last_error = $3 WHERE run_id = $4`,
		a.tuplesApplied, a.logEntriesApplied, errText, a.RunID)
	a.pool.Close()
	if err != nil {
		return fmt.Errorf("finalize restore run: %w", err)
	}
	return nil
}

// ApplyTuple upserts one decoded tuple into its table's mirror relation
// in destSchema, keyed by the table's primary-key columns.
func (a *Applier) ApplyTuple(ctx context.Context, tuple *schema.Tuple) error {
	cols, vals, keyCols := columnsAndValues(tuple.Table, tuple)

	sql, args := upsertSQL(a.destSchema, tuple.Table.Name, cols, vals, keyCols)
	if _, err := a.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("apply tuple for table %s: %w", tuple.Table.Name, err)
	}
	a.tuplesApplied++
	return nil
}

// ApplyLogEntry replays one change record against the mirror relation:
// insert/update upsert the given columns, delete removes by primary key.
func (a *Applier) ApplyLogEntry(ctx context.Context, entry *schema.LogEntry) error {
	table := strings.ToLower(entry.Table.Name)

	switch entry.Type {
	case schema.EventDelete:
		keyCols, keyVals := keyColumnsAndValues(entry.Table, entry.Values)
		sql, args := deleteSQL(a.destSchema, table, keyCols, keyVals)
		if _, err := a.pool.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("apply delete for table %s: %w", table, err)
		}
	default:
		cols, vals := columnsAndValuesFromAttrs(entry.Values)
		keyCols, _ := keyColumnsAndValues(entry.Table, entry.Values)
		sql, args := upsertSQL(a.destSchema, table, cols, vals, keyCols)
		if _, err := a.pool.Exec(ctx, sql, args...); err != nil {
			return fmt.Errorf("apply %s for table %s: %w", entry.Type, table, err)
		}
	}
	a.logEntriesApplied++
	return nil
}

func columnsAndValues(t *schema.Table, tuple *schema.Tuple) (cols []string, vals []any, keyCols []string) {
	for _, d := range t.AllAttributesDesc {
		attr := tuple.Attr(d.AttrId)
		cols = append(cols, columnName(d.AttrId))
		if attr.Null {
			vals = append(vals, nil)
		} else {
			vals = append(vals, attr.Value)
		}
		if d.PrimaryKey {
			keyCols = append(keyCols, columnName(d.AttrId))
		}
	}
	return cols, vals, keyCols
}

func columnsAndValuesFromAttrs(attrs []schema.Attribute) (cols []string, vals []any) {
	for _, attr := range attrs {
		cols = append(cols, columnName(attr.Desc.AttrId))
		if attr.Null {
			vals = append(vals, nil)
		} else {
			vals = append(vals, attr.Value)
		}
	}
	return cols, vals
}

func keyColumnsAndValues(t *schema.Table, attrs []schema.Attribute) (keyCols []string, keyVals []any) {
	byID := make(map[int]schema.Attribute, len(attrs))
	for _, a := range attrs {
		byID[a.Desc.AttrId] = a
	}
	for _, d := range t.FixedKeys {
		keyCols = append(keyCols, columnName(d.AttrId))
		if a, ok := byID[d.AttrId]; ok {
			keyVals = append(keyVals, a.Value)
		}
	}
	return keyCols, keyVals
}

func columnName(attrID int) string {
	return fmt.Sprintf("attr_%d", attrID)
}

func qualify(destSchema, table string) string {
	return fmt.Sprintf(`%q.%q`, destSchema, table)
}

func upsertSQL(destSchema, table string, cols []string, vals []any, keyCols []string) (string, []any) {
	placeholders := make([]string, len(cols))
	for i := range cols {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}
	sets := make([]string, 0, len(cols))
	for _, c := range cols {
		isKey := false
		for _, k := range keyCols {
			if k == c {
				isKey = true
				break
			}
		}
		if !isKey {
			sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", c, c))
		}
	}

	sql := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s`,
		qualify(destSchema, table),
		strings.Join(cols, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(keyCols, ", "),
		strings.Join(sets, ", "),
	)
	return sql, vals
}

func deleteSQL(destSchema, table string, keyCols []string, keyVals []any) (string, []any) {
	conds := make([]string, len(keyCols))
	for i, c := range keyCols {
		conds[i] = fmt.Sprintf("%s = $%d", c, i+1)
	}
	sql := fmt.Sprintf(`DELETE FROM %s WHERE %s`, qualify(destSchema, table), strings.Join(conds, " AND "))
	return sql, keyVals
}
