package driver

import (
	"context"
	"strings"
	"sync"

	"github.com/quarrier-db/quarrier/pgerr"
)

// IsolationLevel selects the transaction isolation level for BEGIN.
type IsolationLevel uint8

const (
	IsolationDefault IsolationLevel = iota
	ReadUncommitted
	ReadCommitted
	RepeatableRead
	Serializable
)

func (l IsolationLevel) clause() string {
	switch l {
	case ReadUncommitted:
		return "ISOLATION LEVEL READ UNCOMMITTED"
	case ReadCommitted:
		return "ISOLATION LEVEL READ COMMITTED"
	case RepeatableRead:
		return "ISOLATION LEVEL REPEATABLE READ"
	case Serializable:
		return "ISOLATION LEVEL SERIALIZABLE"
	default:
		return ""
	}
}

// ReadVariant selects read-only or read-write mode.
type ReadVariant uint8

const (
	ReadVariantDefault ReadVariant = iota
	ReadOnly
	ReadWrite
)

func (r ReadVariant) clause() string {
	switch r {
	case ReadOnly:
		return "READ ONLY"
	case ReadWrite:
		return "READ WRITE"
	default:
		return ""
	}
}

// SynchronousCommit sets the synchronous_commit level for the transaction.
type SynchronousCommit uint8

const (
	SyncCommitDefault SynchronousCommit = iota
	SyncCommitOn
	SyncCommitOff
	SyncCommitLocal
	SyncCommitRemoteWrite
	SyncCommitRemoteApply
)

func (s SynchronousCommit) setting() string {
	switch s {
	case SyncCommitOn:
		return "on"
	case SyncCommitOff:
		return "off"
	case SyncCommitLocal:
		return "local"
	case SyncCommitRemoteWrite:
		return "remote_write"
	case SyncCommitRemoteApply:
		return "remote_apply"
	default:
		return ""
	}
}

// TxOptions configures BEGIN. The zero value uses the backend defaults.
type TxOptions struct {
	Isolation         IsolationLevel
	Read              ReadVariant
	Deferrable        bool
	SynchronousCommit SynchronousCommit
}

func beginStatement(opts *TxOptions) string {
	parts := []string{"BEGIN"}
	if opts != nil {
		if c := opts.Isolation.clause(); c != "" {
			parts = append(parts, c)
		}
		if c := opts.Read.clause(); c != "" {
			parts = append(parts, c)
		}
		if opts.Deferrable {
			parts = append(parts, "DEFERRABLE")
		}
	}
	return strings.Join(parts, " ")
}

func synchronousCommitStatement(opts *TxOptions) string {
	if opts == nil {
		return ""
	}
	if s := opts.SynchronousCommit.setting(); s != "" {
		return "SET LOCAL synchronous_commit TO '" + s + "'"
	}
	return ""
}

// TxState is the transaction lifecycle state.
type TxState uint8

const (
	TxActive TxState = iota
	TxCommitted
	TxRolledBack
	TxFailed
)

func (s TxState) String() string {
	switch s {
	case TxActive:
		return "active"
	case TxCommitted:
		return "committed"
	case TxRolledBack:
		return "rolled_back"
	case TxFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Transaction wraps a Connection with BEGIN/COMMIT/ROLLBACK/SAVEPOINT
// sequencing. Nesting happens through the savepoint stack, never through a
// re-entrant Begin. The transaction holds the connection exclusively for its
// lifetime; when it exits — by commit, rollback, or failure — open cursors
// are force-closed and the connection goes back to Idle unless it broke.
type Transaction struct {
	conn *Connection

	mu         sync.Mutex
	state      TxState
	savepoints []string
	spSet      map[string]struct{}
	cursors    []*Cursor
}

// Conn returns the underlying connection.
func (t *Transaction) Conn() *Connection { return t.conn }

// State returns the transaction state.
func (t *Transaction) State() TxState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Execute runs a statement inside the transaction.
func (t *Transaction) Execute(ctx context.Context, sql string, args ...any) (*RowSet, error) {
	t.mu.Lock()
	if t.state != TxActive {
		t.mu.Unlock()
		return nil, pgerr.New(pgerr.KindTransactionExecute, "transaction is %s, not active", t.state)
	}
	t.mu.Unlock()
	return t.conn.exec(ctx, sql, args)
}

// Savepoint creates a named savepoint. A name already on the stack is
// rejected locally, before any wire round-trip.
func (t *Transaction) Savepoint(ctx context.Context, name string) error {
	t.mu.Lock()
	if t.state != TxActive {
		t.mu.Unlock()
		return pgerr.New(pgerr.KindTransactionSavepoint, "transaction is %s, not active", t.state)
	}
	if _, dup := t.spSet[name]; dup {
		t.mu.Unlock()
		return pgerr.New(pgerr.KindTransactionSavepoint, "savepoint %q is already active", name)
	}
	t.mu.Unlock()

	if _, err := t.conn.exec(ctx, "SAVEPOINT "+quoteIdent(name), nil); err != nil {
		return pgerr.Wrap(pgerr.KindTransactionSavepoint, err, "cannot create savepoint %q", name)
	}
	t.mu.Lock()
	t.savepoints = append(t.savepoints, name)
	t.spSet[name] = struct{}{}
	t.mu.Unlock()
	return nil
}

// ReleaseSavepoint releases the named savepoint, popping it and every scope
// nested inside it.
func (t *Transaction) ReleaseSavepoint(ctx context.Context, name string) error {
	return t.popSavepoint(ctx, name, "RELEASE SAVEPOINT ")
}

// RollbackTo rolls back to the named savepoint, popping it and every scope
// nested inside it.
func (t *Transaction) RollbackTo(ctx context.Context, name string) error {
	return t.popSavepoint(ctx, name, "ROLLBACK TO SAVEPOINT ")
}

func (t *Transaction) popSavepoint(ctx context.Context, name, verb string) error {
	t.mu.Lock()
	if t.state != TxActive {
		t.mu.Unlock()
		return pgerr.New(pgerr.KindTransactionSavepoint, "transaction is %s, not active", t.state)
	}
	idx := -1
	for i := len(t.savepoints) - 1; i >= 0; i-- {
		if t.savepoints[i] == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return pgerr.New(pgerr.KindTransactionSavepoint, "savepoint %q is not on the stack", name)
	}
	t.mu.Unlock()

	if _, err := t.conn.exec(ctx, verb+quoteIdent(name), nil); err != nil {
		return pgerr.Wrap(pgerr.KindTransactionSavepoint, err, "cannot pop savepoint %q", name)
	}
	t.mu.Lock()
	for _, popped := range t.savepoints[idx:] {
		delete(t.spSet, popped)
	}
	t.savepoints = t.savepoints[:idx]
	t.mu.Unlock()
	return nil
}

// SavepointDepth returns the number of active savepoint scopes.
func (t *Transaction) SavepointDepth() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.savepoints)
}

// Commit commits the transaction. Pending savepoint scopes are released
// first, innermost-first; if any release fails the whole transaction
// transitions to Failed and the error names the failing scope, leaving the
// caller to roll back.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	if t.state != TxActive {
		t.mu.Unlock()
		return pgerr.New(pgerr.KindTransactionCommit, "transaction is %s, not active", t.state)
	}
	pending := make([]string, len(t.savepoints))
	copy(pending, t.savepoints)
	t.mu.Unlock()

	for i := len(pending) - 1; i >= 0; i-- {
		name := pending[i]
		if _, err := t.conn.exec(ctx, "RELEASE SAVEPOINT "+quoteIdent(name), nil); err != nil {
			t.finish(TxFailed)
			return pgerr.Wrap(pgerr.KindTransactionCommit, err,
				"cannot release savepoint %q before commit", name)
		}
	}
	if _, err := t.conn.exec(ctx, "COMMIT", nil); err != nil {
		t.finish(TxFailed)
		return pgerr.Wrap(pgerr.KindTransactionCommit, err, "backend refused COMMIT")
	}
	t.finish(TxCommitted)
	return nil
}

// Rollback aborts the transaction. It is legal from any non-terminal state
// and the local state always becomes RolledBack; if the backend rollback
// itself fails the connection's transactional state is unknown, so it is
// marked Broken and must not be reused.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	if t.state != TxActive && t.state != TxFailed {
		t.mu.Unlock()
		return pgerr.New(pgerr.KindTransactionRollback, "transaction is already %s", t.state)
	}
	t.mu.Unlock()

	_, err := t.conn.exec(ctx, "ROLLBACK", nil)
	t.finish(TxRolledBack)
	if err != nil {
		t.conn.markBroken()
		return pgerr.Wrap(pgerr.KindTransactionRollback, err, "backend rollback failed")
	}
	return nil
}

// finish moves the transaction to a terminal state, force-closes any open
// cursors, and returns the connection toward the pool's checkin path.
func (t *Transaction) finish(final TxState) {
	t.mu.Lock()
	t.state = final
	cursors := t.cursors
	t.cursors = nil
	t.savepoints = nil
	t.spSet = make(map[string]struct{})
	t.mu.Unlock()
	for _, cur := range cursors {
		cur.forceClose()
	}
	// A Failed transaction leaves the backend inside an aborted transaction
	// block, so the connection stays InTransaction until the caller rolls
	// back; a checkin in that state is discarded by the pool.
	if final != TxFailed {
		t.conn.endTransaction()
	}
}

func (t *Transaction) trackCursor(cur *Cursor) {
	t.mu.Lock()
	t.cursors = append(t.cursors, cur)
	t.mu.Unlock()
}
