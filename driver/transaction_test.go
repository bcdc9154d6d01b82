package driver_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrier-db/quarrier/driver"
	"github.com/quarrier-db/quarrier/pgerr"
)

func TestBegin(t *testing.T) {
	t.Run("Should move the connection into the transaction state", func(t *testing.T) {
		sess := &fakeSession{}
		conn := driver.New(sess, "test")

		tx, err := conn.Begin(t.Context(), nil)
		require.NoError(t, err)
		assert.Equal(t, driver.StateInTransaction, conn.State())
		assert.Equal(t, driver.TxActive, tx.State())
		assert.Equal(t, []string{"BEGIN"}, sess.calls())
	})

	t.Run("Should render the transaction options", func(t *testing.T) {
		sess := &fakeSession{}
		conn := driver.New(sess, "test")

		_, err := conn.Begin(t.Context(), &driver.TxOptions{
			Isolation:         driver.Serializable,
			Read:              driver.ReadOnly,
			Deferrable:        true,
			SynchronousCommit: driver.SyncCommitOff,
		})
		require.NoError(t, err)
		calls := sess.calls()
		require.Len(t, calls, 2)
		assert.Equal(t, "BEGIN ISOLATION LEVEL SERIALIZABLE READ ONLY DEFERRABLE", calls[0])
		assert.Equal(t, "SET LOCAL synchronous_commit TO 'off'", calls[1])
	})

	t.Run("Should refuse to nest", func(t *testing.T) {
		sess := &fakeSession{}
		conn := driver.New(sess, "test")

		_, err := conn.Begin(t.Context(), nil)
		require.NoError(t, err)

		_, err = conn.Begin(t.Context(), nil)
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindTransactionBegin))
		assert.Equal(t, driver.StateInTransaction, conn.State())
	})

	t.Run("Should leave the connection state unchanged when the backend refuses", func(t *testing.T) {
		sess := &fakeSession{}
		sess.handler = func(sql string, _ []driver.Param) (*driver.Result, error) {
			return nil, pgError("55000", "cannot begin here")
		}
		conn := driver.New(sess, "test")

		_, err := conn.Begin(t.Context(), nil)
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindTransactionBegin))
		assert.Equal(t, driver.StateIdle, conn.State())
	})
}

func TestSavepoints(t *testing.T) {
	begin := func(t *testing.T) (*fakeSession, *driver.Transaction) {
		t.Helper()
		sess := &fakeSession{}
		conn := driver.New(sess, "test")
		tx, err := conn.Begin(t.Context(), nil)
		require.NoError(t, err)
		return sess, tx
	}

	t.Run("Should reject a duplicate name before any round-trip", func(t *testing.T) {
		sess, tx := begin(t)
		require.NoError(t, tx.Savepoint(t.Context(), "sp"))

		err := tx.Savepoint(t.Context(), "sp")
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindTransactionSavepoint))

		count := 0
		for _, call := range sess.calls() {
			if strings.HasPrefix(call, "SAVEPOINT") {
				count++
			}
		}
		assert.Equal(t, 1, count)
	})

	t.Run("Should pop nested scopes through the released name", func(t *testing.T) {
		_, tx := begin(t)
		require.NoError(t, tx.Savepoint(t.Context(), "outer"))
		require.NoError(t, tx.Savepoint(t.Context(), "inner"))
		require.Equal(t, 2, tx.SavepointDepth())

		require.NoError(t, tx.ReleaseSavepoint(t.Context(), "outer"))
		assert.Equal(t, 0, tx.SavepointDepth())
	})

	t.Run("Should fail on an unknown name", func(t *testing.T) {
		_, tx := begin(t)
		err := tx.RollbackTo(t.Context(), "ghost")
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindTransactionSavepoint))
	})

	t.Run("Should allow reusing a released name", func(t *testing.T) {
		_, tx := begin(t)
		require.NoError(t, tx.Savepoint(t.Context(), "sp"))
		require.NoError(t, tx.ReleaseSavepoint(t.Context(), "sp"))
		assert.NoError(t, tx.Savepoint(t.Context(), "sp"))
	})
}

func TestCommit(t *testing.T) {
	t.Run("Should release pending savepoints innermost-first before COMMIT", func(t *testing.T) {
		sess := &fakeSession{}
		conn := driver.New(sess, "test")
		tx, err := conn.Begin(t.Context(), nil)
		require.NoError(t, err)
		require.NoError(t, tx.Savepoint(t.Context(), "a"))
		require.NoError(t, tx.Savepoint(t.Context(), "b"))
		require.NoError(t, tx.Savepoint(t.Context(), "c"))

		require.NoError(t, tx.Commit(t.Context()))
		assert.Equal(t, driver.TxCommitted, tx.State())
		assert.Equal(t, driver.StateIdle, conn.State())

		calls := sess.calls()
		tail := calls[len(calls)-4:]
		assert.Equal(t, []string{
			`RELEASE SAVEPOINT "c"`,
			`RELEASE SAVEPOINT "b"`,
			`RELEASE SAVEPOINT "a"`,
			"COMMIT",
		}, tail)
	})

	t.Run("Should fail the whole transaction when a release fails", func(t *testing.T) {
		sess := &fakeSession{}
		sess.handler = func(sql string, _ []driver.Param) (*driver.Result, error) {
			if strings.HasPrefix(sql, `RELEASE SAVEPOINT "b"`) {
				return nil, pgError("3B001", "no such savepoint")
			}
			return &driver.Result{}, nil
		}
		conn := driver.New(sess, "test")
		tx, err := conn.Begin(t.Context(), nil)
		require.NoError(t, err)
		require.NoError(t, tx.Savepoint(t.Context(), "a"))
		require.NoError(t, tx.Savepoint(t.Context(), "b"))

		err = tx.Commit(t.Context())
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindTransactionCommit))
		assert.Contains(t, err.Error(), `"b"`)
		assert.Equal(t, driver.TxFailed, tx.State())
		// The backend is still inside an aborted block; the pool must see
		// that at checkin.
		assert.Equal(t, driver.StateInTransaction, conn.State())

		require.NoError(t, tx.Rollback(t.Context()))
		assert.Equal(t, driver.TxRolledBack, tx.State())
		assert.Equal(t, driver.StateIdle, conn.State())
	})

	t.Run("Should reject commit from a terminal state", func(t *testing.T) {
		sess := &fakeSession{}
		conn := driver.New(sess, "test")
		tx, err := conn.Begin(t.Context(), nil)
		require.NoError(t, err)
		require.NoError(t, tx.Commit(t.Context()))

		err = tx.Commit(t.Context())
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindTransactionCommit))
	})
}

func TestRollback(t *testing.T) {
	t.Run("Should return the connection to idle", func(t *testing.T) {
		sess := &fakeSession{}
		conn := driver.New(sess, "test")
		tx, err := conn.Begin(t.Context(), nil)
		require.NoError(t, err)

		require.NoError(t, tx.Rollback(t.Context()))
		assert.Equal(t, driver.TxRolledBack, tx.State())
		assert.Equal(t, driver.StateIdle, conn.State())
	})

	t.Run("Should break the connection when the backend rollback fails", func(t *testing.T) {
		sess := &fakeSession{}
		sess.handler = func(sql string, _ []driver.Param) (*driver.Result, error) {
			if sql == "ROLLBACK" {
				return nil, errReset
			}
			return &driver.Result{}, nil
		}
		conn := driver.New(sess, "test")
		tx, err := conn.Begin(t.Context(), nil)
		require.NoError(t, err)

		err = tx.Rollback(t.Context())
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindTransactionRollback))
		// Local state is rolled back regardless, but the connection must
		// never be reused.
		assert.Equal(t, driver.TxRolledBack, tx.State())
		assert.True(t, conn.Broken())
	})

	t.Run("Should reject a second rollback", func(t *testing.T) {
		sess := &fakeSession{}
		conn := driver.New(sess, "test")
		tx, err := conn.Begin(t.Context(), nil)
		require.NoError(t, err)
		require.NoError(t, tx.Rollback(t.Context()))

		err = tx.Rollback(t.Context())
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindTransactionRollback))
	})
}

func TestTransactionExecute(t *testing.T) {
	t.Run("Should refuse statements outside the active state", func(t *testing.T) {
		sess := &fakeSession{}
		conn := driver.New(sess, "test")
		tx, err := conn.Begin(t.Context(), nil)
		require.NoError(t, err)
		require.NoError(t, tx.Commit(t.Context()))

		_, err = tx.Execute(t.Context(), "SELECT 1")
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindTransactionExecute))
	})
}
