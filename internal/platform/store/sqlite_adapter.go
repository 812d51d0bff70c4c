package store

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"strings"
	"time"

	"stallwatch/internal/platform/store/sqlite"
	"stallwatch/internal/platform/store/sqltrace"
)

// sqliteAdapter wraps sqlite.DB and implements RowQuerier + TxRunner
// statements are written with postgres $N placeholders and rebound to ?N
type sqliteAdapter struct {
	db *sqlite.DB
	q  sqlQuerier
}

// sqlQuerier is the part of *sql.DB and *sql.Tx the adapter needs
type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func newSQLiteAdapter(db *sqlite.DB) *sqliteAdapter {
	return &sqliteAdapter{db: db, q: db.SQL}
}

func (a *sqliteAdapter) Ping(ctx context.Context) error {
	if a == nil || a.db == nil || a.db.SQL == nil {
		return errors.New("sqlite: nil adapter")
	}
	return a.db.SQL.PingContext(ctx)
}

func (a *sqliteAdapter) Close() error { return a.db.Close() }

func (a *sqliteAdapter) Exec(ctx context.Context, query string, args ...any) (CommandTag, error) {
	start := time.Now()
	res, err := a.q.ExecContext(ctx, Rebind(query), args...)
	a.emit(ctx, query, args, start, err)
	if err != nil {
		return resultTag{}, err
	}
	return resultTag{res: res}, nil
}

func (a *sqliteAdapter) Query(ctx context.Context, query string, args ...any) (Rows, error) {
	start := time.Now()
	rs, err := a.q.QueryContext(ctx, Rebind(query), args...)
	a.emit(ctx, query, args, start, err)
	if err != nil {
		return nil, err
	}
	return sqlRows{r: rs}, nil
}

func (a *sqliteAdapter) QueryRow(ctx context.Context, query string, args ...any) Row {
	start := time.Now()
	r := a.q.QueryRowContext(ctx, Rebind(query), args...)
	return sqlRow{r: r, after: func(scanErr error) {
		if errors.Is(scanErr, sql.ErrNoRows) {
			scanErr = nil
		}
		a.emit(ctx, query, args, start, scanErr)
	}}
}

// Tx runs fn in one transaction; a panic in fn rolls back and re-panics
func (a *sqliteAdapter) Tx(ctx context.Context, fn func(q RowQuerier) error) (err error) {
	tx, err := a.db.SQL.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
	}()

	inner := &sqliteAdapter{db: a.db, q: tx}
	if err := fn(inner); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (a *sqliteAdapter) emit(ctx context.Context, query string, args []any, start time.Time, err error) {
	sqltrace.Emit(ctx, a.db.Tracer, "sqlite", a.db.SlowMs, query, args, start, err)
}

// Rebind rewrites $N placeholders to ?N, leaving quoted literals untouched
func Rebind(query string) string {
	if !strings.Contains(query, "$") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query))
	inQuote := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case c == '\'':
			inQuote = !inQuote
			b.WriteByte(c)
		case c == '$' && !inQuote && i+1 < len(query) && isDigit(query[i+1]):
			j := i + 1
			for j < len(query) && isDigit(query[j]) {
				j++
			}
			n, _ := strconv.Atoi(query[i+1 : j])
			b.WriteByte('?')
			b.WriteString(strconv.Itoa(n))
			i = j - 1
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

// database/sql to Row/Rows/CommandTag

type sqlRow struct {
	r     *sql.Row
	after func(error)
}

// Scan maps sql.ErrNoRows to the pgx sentinel so repos check a single error
func (x sqlRow) Scan(dst ...any) error {
	err := x.r.Scan(dst...)
	if x.after != nil {
		x.after(err)
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNoRows
	}
	return err
}

type sqlRows struct{ r *sql.Rows }

func (x sqlRows) Next() bool            { return x.r.Next() }
func (x sqlRows) Scan(dst ...any) error { return x.r.Scan(dst...) }
func (x sqlRows) Err() error            { return x.r.Err() }
func (x sqlRows) Close()                { _ = x.r.Close() }
func (x sqlRows) Columns() []string {
	cols, _ := x.r.Columns()
	return cols
}

type resultTag struct{ res sql.Result }

func (t resultTag) String() string { return "" }
func (t resultTag) RowsAffected() int64 {
	if t.res == nil {
		return 0
	}
	n, err := t.res.RowsAffected()
	if err != nil {
		return 0
	}
	return n
}
