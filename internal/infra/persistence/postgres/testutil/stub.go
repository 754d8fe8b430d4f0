// Package testutil provides an in-memory database/sql driver standing in for
// Postgres in snapshot backend tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
)

// StubConn records statements and keeps committed snapshot rows. Inserts made
// inside a transaction become visible only on Commit.
type StubConn struct {
	mu         sync.Mutex
	Execs      []string
	Rows       []map[string]any
	pending    []map[string]any
	inTx       bool
	nextSeq    int64
	FailPing   bool
	FailExec   bool
	FailBegin  bool
	FailCommit bool
	RowsErr    error
}

// NewStubDB registers a sql.DB backed by a fresh stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// Committed returns a copy of the committed rows.
func (c *StubConn) Committed() []map[string]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]map[string]any(nil), c.Rows...)
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	c.mu.Lock()
	c.inTx = true
	c.pending = nil
	c.mu.Unlock()
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, query)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	if !strings.HasPrefix(strings.ToUpper(strings.TrimSpace(query)), "INSERT INTO") {
		return driver.RowsAffected(0), nil
	}
	cols, err := parseInsertColumns(query)
	if err != nil {
		return nil, err
	}
	if len(cols) != len(args) {
		return nil, fmt.Errorf("column/arg mismatch: %d columns, %d args", len(cols), len(args))
	}
	row := make(map[string]any, len(cols)+1)
	for i, col := range cols {
		row[col] = args[i].Value
	}
	if c.inTx {
		c.pending = append(c.pending, row)
	} else {
		c.commitRow(row)
	}
	return driver.RowsAffected(1), nil
}

func (c *StubConn) commitRow(row map[string]any) {
	c.nextSeq++
	row["seq"] = c.nextSeq
	c.Rows = append(c.Rows, row)
}

// QueryContext implements driver.QueryerContext for selects on the snapshots
// table, honouring ORDER BY seq DESC and LIMIT 1.
func (c *StubConn) QueryContext(_ context.Context, query string, _ []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cols, err := parseSelectColumns(query)
	if err != nil {
		return nil, err
	}
	src := append([]map[string]any(nil), c.Rows...)
	upper := strings.ToUpper(query)
	if strings.Contains(upper, " DESC") {
		for i, j := 0, len(src)-1; i < j; i, j = i+1, j-1 {
			src[i], src[j] = src[j], src[i]
		}
	}
	if strings.Contains(upper, "LIMIT 1") && len(src) > 1 {
		src = src[:1]
	}
	values := make([][]driver.Value, 0, len(src))
	for _, row := range src {
		vals := make([]driver.Value, len(cols))
		for i, col := range cols {
			vals[i] = row[col]
		}
		values = append(values, vals)
	}
	return &stubRows{cols: cols, rows: values, err: c.RowsErr}, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.inTx = false
	if t.conn.FailCommit {
		t.conn.pending = nil
		return fmt.Errorf("commit fail")
	}
	for _, row := range t.conn.pending {
		t.conn.commitRow(row)
	}
	t.conn.pending = nil
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.inTx = false
	t.conn.pending = nil
	return nil
}

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
	err  error
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		if r.err != nil {
			return r.err
		}
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}

func parseInsertColumns(query string) ([]string, error) {
	open := strings.Index(query, "(")
	closeIdx := strings.Index(query, ")")
	if open == -1 || closeIdx == -1 || closeIdx <= open {
		return nil, fmt.Errorf("cannot parse insert: %s", query)
	}
	return splitColumns(query[open+1 : closeIdx]), nil
}

func parseSelectColumns(query string) ([]string, error) {
	lower := strings.ToLower(strings.TrimSpace(query))
	if !strings.HasPrefix(lower, "select ") {
		return nil, fmt.Errorf("cannot parse select: %s", query)
	}
	fromIdx := strings.Index(lower, " from ")
	if fromIdx == -1 {
		return nil, fmt.Errorf("cannot parse select: %s", query)
	}
	return splitColumns(strings.TrimSpace(query)[len("select "):fromIdx]), nil
}

func splitColumns(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.ToLower(strings.TrimSpace(part)))
	}
	return out
}
