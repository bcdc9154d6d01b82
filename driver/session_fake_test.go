package driver_test

import (
	"context"
	"io"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/stretchr/testify/require"

	"github.com/quarrier-db/quarrier/codec"
	"github.com/quarrier-db/quarrier/driver"
)

// fakeSession scripts backend behaviour for protocol-layer tests. The
// default response to any statement is an empty OK result.
type fakeSession struct {
	mu      sync.Mutex
	log     []string
	handler func(sql string, params []driver.Param) (*driver.Result, error)
	onBatch func(sql string) error
	closed  bool
}

func (s *fakeSession) Exec(_ context.Context, sql string, params []driver.Param) (*driver.Result, error) {
	s.mu.Lock()
	s.log = append(s.log, sql)
	h := s.handler
	s.mu.Unlock()
	if h != nil {
		return h(sql, params)
	}
	return &driver.Result{Tag: "OK"}, nil
}

func (s *fakeSession) Batch(_ context.Context, sql string) error {
	s.mu.Lock()
	s.log = append(s.log, "batch:"+sql)
	h := s.onBatch
	s.mu.Unlock()
	if h != nil {
		return h(sql)
	}
	return nil
}

func (s *fakeSession) CopyIn(_ context.Context, sql string, src io.Reader) (int64, error) {
	s.mu.Lock()
	s.log = append(s.log, sql)
	s.mu.Unlock()
	n, err := io.Copy(io.Discard, src)
	return n, err
}

func (s *fakeSession) Close(context.Context) error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *fakeSession) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *fakeSession) calls() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.log))
	copy(out, s.log)
	return out
}

// intResult builds a one-column int8 result.
func intResult(t *testing.T, vals ...int64) *driver.Result {
	t.Helper()
	res := &driver.Result{
		Fields: []driver.Field{{Name: "n", OID: pgtype.Int8OID}},
		Tag:    "SELECT",
	}
	for _, v := range vals {
		data, err := codec.Encode(codec.BigInt(v))
		require.NoError(t, err)
		res.Rows = append(res.Rows, [][]byte{data})
	}
	return res
}

// pgError fabricates a clean backend rejection.
func pgError(code, msg string) *pgconn.PgError {
	return &pgconn.PgError{Severity: "ERROR", Code: code, Message: msg}
}
