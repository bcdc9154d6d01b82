package driver

import (
	"context"
	"fmt"
	"sync"

	"github.com/quarrier-db/quarrier/pgerr"
)

// CursorState is the cursor lifecycle state.
type CursorState uint8

const (
	CursorOpen CursorState = iota
	CursorExhausted
	CursorClosed
)

func (s CursorState) String() string {
	switch s {
	case CursorOpen:
		return "open"
	case CursorExhausted:
		return "exhausted"
	case CursorClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// CursorOptions tunes a cursor declaration. The zero value gives a NO SCROLL
// cursor with the default fetch size.
type CursorOptions struct {
	// FetchSize is the row count used when Fetch is called with n <= 0.
	FetchSize int
	// Scroll declares a SCROLL cursor.
	Scroll bool
}

const defaultFetchSize = 10

// Cursor is an incremental result-set fetch bound to a server-side portal.
// Its lifetime is bounded by the owning transaction: when the transaction
// exits, the cursor is force-closed and further operations fail with the
// closed-state error.
type Cursor struct {
	tx        *Transaction
	name      string
	fetchSize int
	// ownsTx marks a cursor opened through Connection.StartCursor, whose
	// implicit transaction is committed when the cursor closes.
	ownsTx bool

	mu    sync.Mutex
	state CursorState
}

// Cursor declares a server-side portal for the query inside the transaction.
// The portal name is generated, unique within the connection's session.
func (t *Transaction) Cursor(ctx context.Context, sql string, opts *CursorOptions, args ...any) (*Cursor, error) {
	t.mu.Lock()
	if t.state != TxActive {
		t.mu.Unlock()
		return nil, pgerr.New(pgerr.KindCursorStart, "transaction is %s, not active", t.state)
	}
	t.mu.Unlock()

	fetchSize := defaultFetchSize
	scroll := ""
	if opts != nil {
		if opts.FetchSize > 0 {
			fetchSize = opts.FetchSize
		}
		if opts.Scroll {
			scroll = "SCROLL "
		}
	}
	name := t.conn.nextPortalName()
	declare := fmt.Sprintf("DECLARE %s %sCURSOR FOR %s", quoteIdent(name), scroll, sql)
	if _, err := t.conn.exec(ctx, declare, args); err != nil {
		return nil, pgerr.Wrap(pgerr.KindCursorStart, err, "cannot declare cursor %q", name)
	}
	cur := &Cursor{tx: t, name: name, fetchSize: fetchSize, state: CursorOpen}
	t.trackCursor(cur)
	return cur, nil
}

// StartCursor declares a cursor without an explicit transaction. Portals only
// live inside a transaction block, so one is begun implicitly and committed
// when the cursor closes; rolling anything back requires an explicit
// transaction instead.
func (c *Connection) StartCursor(ctx context.Context, sql string, opts *CursorOptions, args ...any) (*Cursor, error) {
	tx, err := c.Begin(ctx, nil)
	if err != nil {
		return nil, pgerr.Wrap(pgerr.KindCursorStart, err, "cannot start implicit transaction for cursor")
	}
	cur, err := tx.Cursor(ctx, sql, opts, args...)
	if err != nil {
		if rbErr := tx.Rollback(ctx); rbErr != nil {
			return nil, pgerr.Wrap(pgerr.KindCursorStart, rbErr,
				"cursor declaration failed (%s) and its transaction could not be rolled back", err)
		}
		return nil, err
	}
	cur.ownsTx = true
	return cur, nil
}

// Name returns the portal name.
func (c *Cursor) Name() string { return c.name }

// State returns the cursor state.
func (c *Cursor) State() CursorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Fetch returns up to n rows from the portal; n <= 0 uses the declared fetch
// size. A short read means the portal is drained and the cursor becomes
// Exhausted; fetching an Exhausted cursor returns an empty set without error
// until the cursor is closed.
func (c *Cursor) Fetch(ctx context.Context, n int) (*RowSet, error) {
	c.mu.Lock()
	switch c.state {
	case CursorClosed:
		c.mu.Unlock()
		return nil, pgerr.New(pgerr.KindCursorFetch, "cursor %q is closed", c.name)
	case CursorExhausted:
		c.mu.Unlock()
		return &RowSet{}, nil
	}
	c.mu.Unlock()

	if n <= 0 {
		n = c.fetchSize
	}
	rs, err := c.tx.conn.exec(ctx, fmt.Sprintf("FETCH FORWARD %d FROM %s", n, quoteIdent(c.name)), nil)
	if err != nil {
		return nil, pgerr.Wrap(pgerr.KindCursorFetch, err, "cannot fetch from cursor %q", c.name)
	}
	if rs.Len() < n {
		c.mu.Lock()
		if c.state == CursorOpen {
			c.state = CursorExhausted
		}
		c.mu.Unlock()
	}
	return rs, nil
}

// Close releases the portal. Closing an already-closed cursor is an error: a
// stale handle indicates a caller lifecycle bug, not a benign no-op.
func (c *Cursor) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.state == CursorClosed {
		c.mu.Unlock()
		return pgerr.New(pgerr.KindCursorClose, "cursor %q is already closed", c.name)
	}
	c.state = CursorClosed
	c.mu.Unlock()

	if _, err := c.tx.conn.exec(ctx, "CLOSE "+quoteIdent(c.name), nil); err != nil {
		if c.ownsTx {
			// Best effort; the close error is the one worth reporting.
			_ = c.tx.Rollback(ctx)
		}
		return pgerr.Wrap(pgerr.KindCursorClose, err, "cannot close cursor %q", c.name)
	}
	if c.ownsTx {
		if err := c.tx.Commit(ctx); err != nil {
			return pgerr.Wrap(pgerr.KindCursorClose, err, "cannot commit cursor transaction")
		}
	}
	return nil
}

// forceClose transitions the cursor to Closed without a wire round-trip. The
// portal itself dies with the transaction.
func (c *Cursor) forceClose() {
	c.mu.Lock()
	c.state = CursorClosed
	c.mu.Unlock()
}
