package driver_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/quarrier-db/quarrier/driver"
	"github.com/quarrier-db/quarrier/pgerr"
)

var errReset = errors.New("read tcp 127.0.0.1:5432: connection reset by peer")

func TestConnectionExecute(t *testing.T) {
	t.Run("Should decode the returned row stream", func(t *testing.T) {
		sess := &fakeSession{}
		sess.handler = func(string, []driver.Param) (*driver.Result, error) {
			return intResult(t, 1, 2, 3), nil
		}
		conn := driver.New(sess, "test")

		rs, err := conn.Execute(t.Context(), "SELECT n FROM things")
		require.NoError(t, err)
		assert.Equal(t, 3, rs.Len())
		assert.Equal(t, int64(2), rs.Rows()[1][0].Int())
		assert.Equal(t, "SELECT", rs.CommandTag())
	})

	t.Run("Should bind parameters through the codec", func(t *testing.T) {
		sess := &fakeSession{}
		var captured []driver.Param
		sess.handler = func(_ string, params []driver.Param) (*driver.Result, error) {
			captured = params
			return &driver.Result{Tag: "INSERT 0 1"}, nil
		}
		conn := driver.New(sess, "test")

		_, err := conn.Execute(t.Context(), "INSERT INTO t VALUES ($1, $2)", int64(7), "name")
		require.NoError(t, err)
		require.Len(t, captured, 2)
		assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0, 7}, captured[0].Data)
		assert.Equal(t, []byte("name"), captured[1].Data)
	})

	t.Run("Should keep the connection usable after a clean backend rejection", func(t *testing.T) {
		sess := &fakeSession{}
		sess.handler = func(string, []driver.Param) (*driver.Result, error) {
			return nil, pgError("42P01", `relation "missing" does not exist`)
		}
		conn := driver.New(sess, "test")

		_, err := conn.Execute(t.Context(), "SELECT * FROM missing")
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindConnectionExecute))
		assert.Contains(t, err.Error(), "missing")
		assert.Equal(t, driver.StateIdle, conn.State())
	})

	t.Run("Should break the connection on a mid-stream reset", func(t *testing.T) {
		sess := &fakeSession{}
		sess.handler = func(string, []driver.Param) (*driver.Result, error) {
			return nil, errReset
		}
		conn := driver.New(sess, "test")

		_, err := conn.Execute(t.Context(), "SELECT 1")
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindConnectionExecute))
		assert.True(t, conn.Broken())

		_, err = conn.Execute(t.Context(), "SELECT 1")
		assert.True(t, pgerr.IsKind(err, pgerr.KindConnectionClosed))
	})

	t.Run("Should fail fast when a request is already in flight", func(t *testing.T) {
		sess := &fakeSession{}
		release := make(chan struct{})
		entered := make(chan struct{})
		sess.handler = func(string, []driver.Param) (*driver.Result, error) {
			close(entered)
			<-release
			return &driver.Result{}, nil
		}
		conn := driver.New(sess, "test")

		done := make(chan error, 1)
		go func() {
			_, err := conn.Execute(t.Context(), "SELECT pg_sleep(10)")
			done <- err
		}()
		<-entered

		_, err := conn.Execute(t.Context(), "SELECT 1")
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindConnectionBusy))

		close(release)
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("first request never finished")
		}
	})
}

func TestConnectionFetchHelpers(t *testing.T) {
	t.Run("Should return the single row", func(t *testing.T) {
		sess := &fakeSession{}
		sess.handler = func(string, []driver.Param) (*driver.Result, error) {
			return intResult(t, 42), nil
		}
		conn := driver.New(sess, "test")

		row, err := conn.FetchRow(t.Context(), "SELECT n FROM singleton")
		require.NoError(t, err)
		assert.Equal(t, int64(42), row[0].Int())

		val, err := conn.FetchVal(t.Context(), "SELECT n FROM singleton")
		require.NoError(t, err)
		assert.Equal(t, int64(42), val.Int())
	})

	t.Run("Should reject multi-row results", func(t *testing.T) {
		sess := &fakeSession{}
		sess.handler = func(string, []driver.Param) (*driver.Result, error) {
			return intResult(t, 1, 2), nil
		}
		conn := driver.New(sess, "test")

		_, err := conn.FetchRow(t.Context(), "SELECT n FROM things")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "2 rows")
	})
}

func TestConnectionExecuteBatch(t *testing.T) {
	t.Run("Should run the script over the simple protocol", func(t *testing.T) {
		sess := &fakeSession{}
		conn := driver.New(sess, "test")

		err := conn.ExecuteBatch(t.Context(), "CREATE TABLE a (id int); CREATE TABLE b (id int)")
		require.NoError(t, err)
		assert.Equal(t, []string{"batch:CREATE TABLE a (id int); CREATE TABLE b (id int)"}, sess.calls())
	})

	t.Run("Should keep the connection idle on a clean rejection", func(t *testing.T) {
		sess := &fakeSession{}
		sess.onBatch = func(string) error {
			return pgError("42P07", "relation already exists")
		}
		conn := driver.New(sess, "test")

		err := conn.ExecuteBatch(t.Context(), "CREATE TABLE a (id int)")
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindConnectionExecute))
		assert.Equal(t, driver.StateIdle, conn.State())
	})

	t.Run("Should break the connection on a mid-batch reset", func(t *testing.T) {
		sess := &fakeSession{}
		sess.onBatch = func(string) error { return errReset }
		conn := driver.New(sess, "test")

		err := conn.ExecuteBatch(t.Context(), "CREATE TABLE a (id int)")
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindConnectionExecute))
		assert.True(t, conn.Broken())

		err = conn.ExecuteBatch(t.Context(), "SELECT 1")
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindConnectionClosed))
	})
}

func TestConnectionExecuteMany(t *testing.T) {
	t.Run("Should wrap the batch in one transaction", func(t *testing.T) {
		sess := &fakeSession{}
		conn := driver.New(sess, "test")

		err := conn.ExecuteMany(t.Context(), "INSERT INTO t VALUES ($1)",
			[][]any{{int64(1)}, {int64(2)}})
		require.NoError(t, err)

		calls := sess.calls()
		assert.Equal(t, "batch:BEGIN", calls[0])
		assert.Equal(t, "batch:COMMIT", calls[len(calls)-1])
	})

	t.Run("Should roll back on the first failing parameter set", func(t *testing.T) {
		sess := &fakeSession{}
		n := 0
		sess.handler = func(string, []driver.Param) (*driver.Result, error) {
			n++
			if n == 2 {
				return nil, pgError("23505", "duplicate key")
			}
			return &driver.Result{}, nil
		}
		conn := driver.New(sess, "test")

		err := conn.ExecuteMany(t.Context(), "INSERT INTO t VALUES ($1)",
			[][]any{{int64(1)}, {int64(1)}, {int64(3)}})
		require.Error(t, err)
		assert.True(t, pgerr.IsKind(err, pgerr.KindTransactionExecute))
		assert.Contains(t, err.Error(), "parameter set 1")

		calls := sess.calls()
		assert.Equal(t, "batch:ROLLBACK", calls[len(calls)-1])
		assert.Equal(t, driver.StateIdle, conn.State())
	})
}

func TestConnectionCopyToTable(t *testing.T) {
	t.Run("Should quote the copy target", func(t *testing.T) {
		sess := &fakeSession{}
		conn := driver.New(sess, "test")

		n, err := conn.CopyToTable(t.Context(), strings.NewReader("payload"),
			"public", "events", []string{"id", "body"})
		require.NoError(t, err)
		assert.Equal(t, int64(len("payload")), n)

		calls := sess.calls()
		require.Len(t, calls, 1)
		assert.Equal(t, `COPY "public"."events" ("id", "body") FROM STDIN (FORMAT binary)`, calls[0])
	})
}

func TestConnectionClose(t *testing.T) {
	t.Run("Should make the connection unusable", func(t *testing.T) {
		sess := &fakeSession{}
		conn := driver.New(sess, "test")

		require.NoError(t, conn.Close(t.Context()))
		assert.True(t, sess.Closed())

		_, err := conn.Execute(t.Context(), "SELECT 1")
		assert.True(t, pgerr.IsKind(err, pgerr.KindConnectionClosed))
	})
}
