// Package driver implements the protocol layer of the engine: connections,
// transactions with savepoint scopes, and server-side cursors. The network
// transport and authentication handshake are delegated to pgconn; everything
// above the raw exchange (state machines, parameter binding, row decoding)
// lives here.
package driver

import (
	"context"
	"errors"
	"io"

	"github.com/jackc/pgx/v5/pgconn"
)

// Field describes one column of a result: its name and the backend type OID
// used to select the decoding routine.
type Field struct {
	Name string
	OID  uint32
}

// Param is one bound parameter, already encoded into the binary wire format.
// A nil Data is sent as SQL NULL.
type Param struct {
	OID  uint32
	Data []byte
}

// Result is the raw outcome of one statement: binary row payloads plus the
// field descriptions needed to decode them.
type Result struct {
	Fields []Field
	Rows   [][][]byte
	Tag    string
}

// Session is the opaque handle for one backend session. Implementations are
// not safe for concurrent use; the owning Connection serializes access.
type Session interface {
	// Exec runs one parameterized statement over the extended protocol with
	// binary parameter and result formats.
	Exec(ctx context.Context, sql string, params []Param) (*Result, error)
	// Batch runs semicolon-separated statements over the simple protocol.
	Batch(ctx context.Context, sql string) error
	// CopyIn streams src into a COPY ... FROM STDIN statement and returns the
	// number of rows written.
	CopyIn(ctx context.Context, sql string, src io.Reader) (int64, error)
	Close(ctx context.Context) error
	Closed() bool
}

// Connect dials a backend and returns the pgconn-backed session.
func Connect(ctx context.Context, connString string) (Session, error) {
	conn, err := pgconn.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}
	return &pgSession{conn: conn}, nil
}

type pgSession struct {
	conn *pgconn.PgConn
}

const binaryFormat = 1

func (s *pgSession) Exec(ctx context.Context, sql string, params []Param) (*Result, error) {
	values := make([][]byte, len(params))
	oids := make([]uint32, len(params))
	formats := make([]int16, len(params))
	for i, p := range params {
		values[i] = p.Data
		oids[i] = p.OID
		formats[i] = binaryFormat
	}
	rr := s.conn.ExecParams(ctx, sql, values, oids, formats, []int16{binaryFormat})
	res := rr.Read()
	if res.Err != nil {
		return nil, res.Err
	}
	out := &Result{Tag: res.CommandTag.String()}
	out.Fields = make([]Field, len(res.FieldDescriptions))
	for i, fd := range res.FieldDescriptions {
		out.Fields[i] = Field{Name: string(fd.Name), OID: fd.DataTypeOID}
	}
	out.Rows = res.Rows
	return out, nil
}

func (s *pgSession) Batch(ctx context.Context, sql string) error {
	mrr := s.conn.Exec(ctx, sql)
	_, err := mrr.ReadAll()
	return err
}

func (s *pgSession) CopyIn(ctx context.Context, sql string, src io.Reader) (int64, error) {
	tag, err := s.conn.CopyFrom(ctx, src, sql)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *pgSession) Close(ctx context.Context) error {
	return s.conn.Close(ctx)
}

func (s *pgSession) Closed() bool {
	return s.conn.IsClosed()
}

// isStatementError reports whether err is a clean backend rejection that
// leaves the session in a known state. Anything else (I/O failure, timeout,
// cancellation mid-exchange) means the backend's position in the protocol is
// unknown and the connection must not be reused.
func isStatementError(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Severity != "FATAL" && pgErr.Severity != "PANIC"
	}
	return false
}
