package store

import (
	"context"
	"errors"
	"testing"

	"stallwatch/internal/platform/store/sqltrace"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// pgTx overrides the statement methods of pgx.Tx; anything else panics on the nil embed
type pgTx struct {
	pgx.Tx
	exec  func(sql string, args ...any) (pgconn.CommandTag, error)
	query func(sql string, args ...any) (pgx.Rows, error)
	row   func(sql string, args ...any) pgx.Row
}

func (f pgTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return f.exec(sql, args...)
}
func (f pgTx) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	return f.query(sql, args...)
}
func (f pgTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	return f.row(sql, args...)
}

// lotRows yields (id, name) pairs
type lotRows struct {
	pgx.Rows
	data   [][2]any
	i      int
	closed bool
}

func (r *lotRows) Next() bool { r.i++; return r.i <= len(r.data) }
func (r *lotRows) Err() error { return nil }
func (r *lotRows) Close()     { r.closed = true }
func (r *lotRows) FieldDescriptions() []pgconn.FieldDescription {
	return []pgconn.FieldDescription{{Name: "id"}, {Name: "name"}}
}
func (r *lotRows) Scan(dst ...any) error {
	cur := r.data[r.i-1]
	*dst[0].(*int64) = cur[0].(int64)
	*dst[1].(*string) = cur[1].(string)
	return nil
}

type scanFunc func(dst ...any) error

func (f scanFunc) Scan(dst ...any) error { return f(dst...) }

type events struct{ got []sqltrace.QueryEvent }

func (e *events) OnQuery(_ context.Context, ev sqltrace.QueryEvent) { e.got = append(e.got, ev) }

func TestTxQuerierTracesEachStatement(t *testing.T) {
	ctx := context.Background()
	tr := &events{}
	rs := &lotRows{data: [][2]any{{int64(1), "north"}, {int64(2), "south"}}}
	noLot := errors.New("no rows in result set")
	q := txQuerier{tracer: tr, slowMs: -1, tx: pgTx{
		exec:  func(string, ...any) (pgconn.CommandTag, error) { return pgconn.NewCommandTag("UPDATE 1"), nil },
		query: func(string, ...any) (pgx.Rows, error) { return rs, nil },
		row:   func(string, ...any) pgx.Row { return scanFunc(func(...any) error { return noLot }) },
	}}

	tag, err := q.Exec(ctx, "UPDATE lots SET name = $2 WHERE id = $1", int64(1), "north")
	if err != nil || tag.RowsAffected() != 1 || tag.String() != "UPDATE 1" {
		t.Fatalf("Exec = %v %v", tag, err)
	}

	got, err := q.Query(ctx, "SELECT id, name FROM lots ORDER BY id")
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if cols := got.Columns(); len(cols) != 2 || cols[0] != "id" || cols[1] != "name" {
		t.Fatalf("Columns = %v", cols)
	}
	var names []string
	for got.Next() {
		var id int64
		var name string
		if err := got.Scan(&id, &name); err != nil {
			t.Fatal(err)
		}
		names = append(names, name)
	}
	got.Close()
	if len(names) != 2 || names[1] != "south" || !rs.closed || got.Err() != nil {
		t.Fatalf("rows = %v closed=%v", names, rs.closed)
	}

	// QueryRow traces once the row is scanned, with the scan error
	row := q.QueryRow(ctx, "SELECT name FROM lots WHERE id = $1", int64(9))
	if len(tr.got) != 2 {
		t.Fatalf("QueryRow traced before Scan: %d events", len(tr.got))
	}
	var name string
	if err := row.Scan(&name); !errors.Is(err, noLot) {
		t.Fatalf("Scan = %v", err)
	}

	if len(tr.got) != 3 {
		t.Fatalf("events = %d, want 3", len(tr.got))
	}
	for _, ev := range tr.got {
		if ev.Driver != "pg" || ev.Slow {
			t.Fatalf("event = %+v", ev)
		}
	}
	if args := tr.got[0].Args.([]any); len(args) != 2 || args[1] != "north" {
		t.Fatalf("exec args = %v", tr.got[0].Args)
	}
	if !errors.Is(tr.got[2].Err, noLot) {
		t.Fatalf("row event err = %v", tr.got[2].Err)
	}
}

func TestTxQuerierErrorsAndSlowFlag(t *testing.T) {
	ctx := context.Background()
	tr := &events{}
	locked := errors.New("could not obtain lock on row in relation \"lots\"")
	q := txQuerier{tracer: tr, slowMs: 0, tx: pgTx{
		exec:  func(string, ...any) (pgconn.CommandTag, error) { return pgconn.CommandTag{}, locked },
		query: func(string, ...any) (pgx.Rows, error) { return nil, locked },
	}}

	if _, err := q.Exec(ctx, "DELETE FROM lots WHERE id = $1", int64(3)); !errors.Is(err, locked) {
		t.Fatalf("Exec = %v", err)
	}
	if rs, err := q.Query(ctx, "SELECT id FROM lots FOR UPDATE NOWAIT"); rs != nil || !errors.Is(err, locked) {
		t.Fatalf("Query = %v, %v", rs, err)
	}
	if len(tr.got) != 2 {
		t.Fatalf("events = %d", len(tr.got))
	}
	for _, ev := range tr.got {
		if !ev.Slow || !errors.Is(ev.Err, locked) {
			t.Fatalf("slowMs 0 marks every statement slow and keeps its error: %+v", ev)
		}
	}

	// no tracer, no events
	quiet := txQuerier{tx: q.tx, slowMs: -1}
	_, _ = quiet.Exec(ctx, "DELETE FROM lots")
	if len(tr.got) != 2 {
		t.Fatalf("untraced querier emitted")
	}
}
