// Package sqlite provides a policy adapter backed by a SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/model"
	"github.com/Sentinel-Gate/Sentinelauthz/internal/domain/persist"
)

// maxValues is the number of value columns (v0..v5) per row.
const maxValues = 6

// queryTimeout bounds every statement issued by the adapter.
const queryTimeout = 10 * time.Second

// ErrRuleTooLong is returned for rules with more values than the table holds.
var ErrRuleTooLong = errors.New("rule has more than 6 values")

const schema = `
CREATE TABLE IF NOT EXISTS authz_rule (
	id    INTEGER PRIMARY KEY AUTOINCREMENT,
	ptype TEXT NOT NULL,
	v0    TEXT NOT NULL DEFAULT '',
	v1    TEXT NOT NULL DEFAULT '',
	v2    TEXT NOT NULL DEFAULT '',
	v3    TEXT NOT NULL DEFAULT '',
	v4    TEXT NOT NULL DEFAULT '',
	v5    TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS authz_rule_ptype ON authz_rule (ptype);`

const (
	selectRules = `SELECT ptype, v0, v1, v2, v3, v4, v5 FROM authz_rule ORDER BY id`
	insertRule  = `INSERT INTO authz_rule (ptype, v0, v1, v2, v3, v4, v5) VALUES (?, ?, ?, ?, ?, ?, ?)`
	existsRule  = `SELECT EXISTS (SELECT 1 FROM authz_rule
		WHERE ptype = ? AND v0 = ? AND v1 = ? AND v2 = ? AND v3 = ? AND v4 = ? AND v5 = ?)`
	deleteRule = `DELETE FROM authz_rule WHERE id = (SELECT id FROM authz_rule
		WHERE ptype = ? AND v0 = ? AND v1 = ? AND v2 = ? AND v3 = ? AND v4 = ? AND v5 = ?
		ORDER BY id LIMIT 1)`
	deleteAll = `DELETE FROM authz_rule`
)

// Adapter implements persist.Adapter over the authz_rule table.
type Adapter struct {
	db     *sql.DB
	mode   persist.Mode
	logger *slog.Logger
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithMode sets how malformed rows are treated on load.
func WithMode(mode persist.Mode) Option {
	return func(a *Adapter) {
		a.mode = mode
	}
}

// WithLogger sets the adapter logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// NewAdapter opens dsn and creates the rule table if needed.
func NewAdapter(ctx context.Context, dsn string, opts ...Option) (*Adapter, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open policy database: %w", err)
	}
	// One connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create policy schema: %w", err)
	}

	a := &Adapter{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Close closes the database.
func (a *Adapter) Close() error {
	return a.db.Close()
}

// Ping checks the database connection.
func (a *Adapter) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// LoadPolicy appends every stored row to m in insertion order.
func (a *Adapter) LoadPolicy(m model.Model) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rows, err := a.db.QueryContext(ctx, selectRules)
	if err != nil {
		return fmt.Errorf("query rules: %w", err)
	}
	defer func() { _ = rows.Close() }()

	handle := persist.LineHandler(a.mode, func(line string, err error) {
		a.logger.Debug("skipping policy row", "row", line, "error", err)
	})
	for rows.Next() {
		var ptype string
		var v [maxValues]string
		if err := rows.Scan(&ptype, &v[0], &v[1], &v[2], &v[3], &v[4], &v[5]); err != nil {
			return fmt.Errorf("scan rule: %w", err)
		}
		fields := append([]string{ptype}, trimTrailingEmpty(v[:])...)
		if err := handle(strings.Join(fields, ", "), persist.LoadPolicyArray(fields, m)); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate rules: %w", err)
	}
	return nil
}

// SavePolicy replaces every stored row with the rows of m in one transaction.
func (a *Adapter) SavePolicy(m model.Model) error {
	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, deleteAll); err != nil {
		return fmt.Errorf("clear rules: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, insertRule)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, row := range persist.PolicyRows(m) {
		args, err := ruleArgs(row[0], row[1:])
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert rule: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rules: %w", err)
	}
	return nil
}

// AddPolicy inserts one row unless an identical row exists.
func (a *Adapter) AddPolicy(_, ptype string, rule []string) error {
	args, err := ruleArgs(ptype, rule)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	var exists bool
	if err := a.db.QueryRowContext(ctx, existsRule, args...).Scan(&exists); err != nil {
		return fmt.Errorf("check rule: %w", err)
	}
	if exists {
		return nil
	}
	if _, err := a.db.ExecContext(ctx, insertRule, args...); err != nil {
		return fmt.Errorf("insert rule: %w", err)
	}
	return nil
}

// RemovePolicy deletes one matching row. Missing rows are ignored.
func (a *Adapter) RemovePolicy(_, ptype string, rule []string) error {
	args, err := ruleArgs(ptype, rule)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	if _, err := a.db.ExecContext(ctx, deleteRule, args...); err != nil {
		return fmt.Errorf("delete rule: %w", err)
	}
	return nil
}

// ruleArgs pads rule to maxValues columns and prepends ptype.
func ruleArgs(ptype string, rule []string) ([]any, error) {
	if len(rule) > maxValues {
		return nil, fmt.Errorf("%s %v: %w", ptype, rule, ErrRuleTooLong)
	}
	args := make([]any, 1+maxValues)
	args[0] = ptype
	for i := range maxValues {
		if i < len(rule) {
			args[i+1] = rule[i]
		} else {
			args[i+1] = ""
		}
	}
	return args, nil
}

func trimTrailingEmpty(values []string) []string {
	n := len(values)
	for n > 0 && values[n-1] == "" {
		n--
	}
	return values[:n]
}

// Compile-time interface verification.
var _ persist.Adapter = (*Adapter)(nil)
