package driver

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/quarrier-db/quarrier/codec"
	"github.com/quarrier-db/quarrier/pgerr"
	"github.com/quarrier-db/quarrier/pkg/logger"
)

// State is the connection lifecycle state.
type State uint8

const (
	StateIdle State = iota
	StateInTransaction
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInTransaction:
		return "in_transaction"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// Connection owns one backend session. It is single-writer: at most one
// request may be in flight, and a second concurrent caller fails fast with a
// connection-busy error instead of interleaving wire traffic. Once Broken a
// connection is never reused; the pool observes the state at checkin and
// discards it.
type Connection struct {
	sess      Session
	poolLabel string

	mu    sync.Mutex
	state State
	busy  bool

	cursorSeq atomic.Uint64
}

// New wraps a session. poolLabel is a non-owning identifier of the pool the
// connection belongs to, used only for diagnostics.
func New(sess Session, poolLabel string) *Connection {
	return &Connection{sess: sess, poolLabel: poolLabel}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Broken reports whether the connection must not be reused.
func (c *Connection) Broken() bool { return c.State() == StateBroken }

// PoolLabel returns the owning pool's identifier.
func (c *Connection) PoolLabel() string { return c.poolLabel }

// beginOp claims the single in-flight request slot.
func (c *Connection) beginOp() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == StateBroken {
		return pgerr.New(pgerr.KindConnectionClosed, "connection is broken and cannot be reused")
	}
	if c.busy {
		return pgerr.New(pgerr.KindConnectionBusy, "a request is already in flight on this connection")
	}
	c.busy = true
	return nil
}

func (c *Connection) endOp() {
	c.mu.Lock()
	c.busy = false
	c.mu.Unlock()
}

func (c *Connection) markBroken() {
	c.mu.Lock()
	c.state = StateBroken
	c.mu.Unlock()
}

// roundTrip runs one statement over the wire and classifies the failure: a
// clean backend rejection keeps the session usable, anything else breaks the
// connection.
func (c *Connection) roundTrip(ctx context.Context, sql string, params []Param) (*Result, error) {
	res, err := c.sess.Exec(ctx, sql, params)
	if err != nil {
		if isStatementError(err) {
			return nil, pgerr.Wrap(pgerr.KindConnectionExecute, err, "backend rejected statement")
		}
		c.markBroken()
		logger.FromContext(ctx).Warn("connection broken mid-statement",
			"pool", c.poolLabel, "err", err)
		return nil, pgerr.Wrap(pgerr.KindConnectionExecute, err,
			"session failed mid-statement, connection is no longer usable")
	}
	return res, nil
}

// exec claims the request slot, binds parameters, runs the statement, and
// decodes the rows.
func (c *Connection) exec(ctx context.Context, sql string, args []any) (*RowSet, error) {
	if err := c.beginOp(); err != nil {
		return nil, err
	}
	defer c.endOp()
	return c.execLocked(ctx, sql, args)
}

// execLocked is exec without the busy handshake, for callers that already
// hold the request slot across several statements.
func (c *Connection) execLocked(ctx context.Context, sql string, args []any) (*RowSet, error) {
	params, err := encodeParams(args)
	if err != nil {
		return nil, err
	}
	res, err := c.roundTrip(ctx, sql, params)
	if err != nil {
		return nil, err
	}
	return decodeResult(res)
}

// Execute runs one parameterized statement and returns the decoded rows.
// Arguments are bound through the codec layer; pass codec constructors such
// as codec.SmallInt to pin a wire type.
func (c *Connection) Execute(ctx context.Context, sql string, args ...any) (*RowSet, error) {
	return c.exec(ctx, sql, args)
}

// FetchRow runs a query that must return exactly one row.
func (c *Connection) FetchRow(ctx context.Context, sql string, args ...any) (Row, error) {
	rs, err := c.exec(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	return singleRow(rs)
}

// FetchVal runs a query that must return exactly one row and returns its
// first column.
func (c *Connection) FetchVal(ctx context.Context, sql string, args ...any) (codec.Value, error) {
	row, err := c.FetchRow(ctx, sql, args...)
	if err != nil {
		return codec.Value{}, err
	}
	if len(row) == 0 {
		return codec.Value{}, pgerr.New(pgerr.KindConnectionExecute, "query returned a row with no columns")
	}
	return row[0], nil
}

// ExecuteBatch runs semicolon-separated statements over the simple protocol.
// Execution stops at the first failing statement. Intended for schema setup
// and similar multi-statement scripts.
func (c *Connection) ExecuteBatch(ctx context.Context, sql string) error {
	if err := c.beginOp(); err != nil {
		return err
	}
	defer c.endOp()
	if err := c.sess.Batch(ctx, sql); err != nil {
		if isStatementError(err) {
			return pgerr.Wrap(pgerr.KindConnectionExecute, err, "backend rejected batch")
		}
		c.markBroken()
		return pgerr.Wrap(pgerr.KindConnectionExecute, err,
			"session failed mid-batch, connection is no longer usable")
	}
	return nil
}

// ExecuteMany runs the same statement once per parameter set inside an
// implicit transaction. The first failure rolls the whole batch back.
func (c *Connection) ExecuteMany(ctx context.Context, sql string, batches [][]any) error {
	if err := c.beginOp(); err != nil {
		return err
	}
	defer c.endOp()
	if err := c.sess.Batch(ctx, "BEGIN"); err != nil {
		c.markBroken()
		return pgerr.Wrap(pgerr.KindTransactionBegin, err, "cannot start transaction for ExecuteMany")
	}
	for i, args := range batches {
		if _, err := c.execLocked(ctx, sql, args); err != nil {
			if rbErr := c.sess.Batch(ctx, "ROLLBACK"); rbErr != nil {
				c.markBroken()
			}
			return pgerr.Wrap(pgerr.KindTransactionExecute, err,
				"statement failed for parameter set %d, transaction rolled back", i)
		}
	}
	if err := c.sess.Batch(ctx, "COMMIT"); err != nil {
		if !isStatementError(err) {
			c.markBroken()
		}
		return pgerr.Wrap(pgerr.KindTransactionExecute, err, "cannot commit ExecuteMany transaction")
	}
	return nil
}

// Begin opens a transaction. Legal only from Idle; nesting is expressed with
// savepoints on the returned Transaction, never by a second Begin.
func (c *Connection) Begin(ctx context.Context, opts *TxOptions) (*Transaction, error) {
	c.mu.Lock()
	if c.state == StateInTransaction {
		c.mu.Unlock()
		return nil, pgerr.New(pgerr.KindTransactionBegin, "connection is already in a transaction")
	}
	c.mu.Unlock()
	if err := c.beginOp(); err != nil {
		return nil, err
	}
	defer c.endOp()

	if _, err := c.execLocked(ctx, beginStatement(opts), nil); err != nil {
		if pgerr.IsKind(err, pgerr.KindConnectionExecute) {
			return nil, pgerr.Wrap(pgerr.KindTransactionBegin, err, "backend refused BEGIN")
		}
		return nil, err
	}
	if set := synchronousCommitStatement(opts); set != "" {
		if _, err := c.execLocked(ctx, set, nil); err != nil {
			// Leave no half-configured transaction behind.
			if _, rbErr := c.execLocked(ctx, "ROLLBACK", nil); rbErr != nil {
				c.markBroken()
			}
			return nil, pgerr.Wrap(pgerr.KindTransactionBegin, err, "cannot apply synchronous_commit")
		}
	}
	c.mu.Lock()
	c.state = StateInTransaction
	c.mu.Unlock()
	return &Transaction{conn: c, state: TxActive, spSet: make(map[string]struct{})}, nil
}

// endTransaction returns the connection to Idle unless it broke meanwhile.
func (c *Connection) endTransaction() {
	c.mu.Lock()
	if c.state == StateInTransaction {
		c.state = StateIdle
	}
	c.mu.Unlock()
}

// nextPortalName returns a portal name unique within this session.
func (c *Connection) nextPortalName() string {
	return fmt.Sprintf("quarrier_c_%d", c.cursorSeq.Add(1))
}

// CopyToTable streams binary COPY data into a table. columns may be empty to
// copy every column.
func (c *Connection) CopyToTable(ctx context.Context, src io.Reader, schema, table string, columns []string) (int64, error) {
	if err := c.beginOp(); err != nil {
		return 0, err
	}
	defer c.endOp()
	target := quoteIdent(table)
	if schema != "" {
		target = quoteIdent(schema) + "." + target
	}
	cols := ""
	if len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, col := range columns {
			quoted[i] = quoteIdent(col)
		}
		cols = " (" + strings.Join(quoted, ", ") + ")"
	}
	sql := fmt.Sprintf("COPY %s%s FROM STDIN (FORMAT binary)", target, cols)
	n, err := c.sess.CopyIn(ctx, sql, src)
	if err != nil {
		if isStatementError(err) {
			return 0, pgerr.Wrap(pgerr.KindConnectionExecute, err, "backend rejected copy")
		}
		c.markBroken()
		return 0, pgerr.Wrap(pgerr.KindConnectionExecute, err,
			"session failed mid-copy, connection is no longer usable")
	}
	return n, nil
}

// Close shuts the session down. The connection is unusable afterwards.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateBroken
	c.mu.Unlock()
	return c.sess.Close(ctx)
}

// quoteIdent escapes an SQL identifier.
func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
