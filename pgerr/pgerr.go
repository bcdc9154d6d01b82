// Package pgerr defines the closed error taxonomy shared by the pool,
// connection, transaction, cursor, and codec subsystems. Every failure the
// engine reports is a *Error carrying a Kind; callers match either the whole
// subsystem (IsSubsystem) or the specific kind (errors.As + Kind).
package pgerr

import (
	"errors"
	"fmt"
)

// Subsystem is the coarse discriminant over error kinds.
type Subsystem uint8

const (
	SubsystemPool Subsystem = iota + 1
	SubsystemConnection
	SubsystemTransaction
	SubsystemCursor
	SubsystemConversion
)

func (s Subsystem) String() string {
	switch s {
	case SubsystemPool:
		return "pool"
	case SubsystemConnection:
		return "connection"
	case SubsystemTransaction:
		return "transaction"
	case SubsystemCursor:
		return "cursor"
	case SubsystemConversion:
		return "conversion"
	default:
		return "unknown"
	}
}

// Kind identifies the specific failure variant.
type Kind uint8

const (
	// Pool subsystem.
	KindPoolConfiguration Kind = iota + 1
	KindPoolBuild
	KindPoolExecute
	KindPoolClosed

	// Connection subsystem.
	KindConnectionExecute
	KindConnectionClosed
	KindConnectionBusy

	// Transaction subsystem.
	KindTransactionBegin
	KindTransactionCommit
	KindTransactionRollback
	KindTransactionSavepoint
	KindTransactionExecute

	// Cursor subsystem.
	KindCursorStart
	KindCursorFetch
	KindCursorClose

	// Conversion subsystem.
	KindEncodeValue
	KindDecodeValue
	KindUUIDConvert
	KindMacAddrConvert
)

var kindNames = map[Kind]string{
	KindPoolConfiguration:    "pool configuration",
	KindPoolBuild:            "pool build",
	KindPoolExecute:          "pool execute",
	KindPoolClosed:           "pool closed",
	KindConnectionExecute:    "connection execute",
	KindConnectionClosed:     "connection closed",
	KindConnectionBusy:       "connection busy",
	KindTransactionBegin:     "transaction begin",
	KindTransactionCommit:    "transaction commit",
	KindTransactionRollback:  "transaction rollback",
	KindTransactionSavepoint: "transaction savepoint",
	KindTransactionExecute:   "transaction execute",
	KindCursorStart:          "cursor start",
	KindCursorFetch:          "cursor fetch",
	KindCursorClose:          "cursor close",
	KindEncodeValue:          "encode value",
	KindDecodeValue:          "decode value",
	KindUUIDConvert:          "uuid convert",
	KindMacAddrConvert:       "macaddr convert",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unknown"
}

// Subsystem returns the subsystem a kind belongs to.
func (k Kind) Subsystem() Subsystem {
	switch k {
	case KindPoolConfiguration, KindPoolBuild, KindPoolExecute, KindPoolClosed:
		return SubsystemPool
	case KindConnectionExecute, KindConnectionClosed, KindConnectionBusy:
		return SubsystemConnection
	case KindTransactionBegin, KindTransactionCommit, KindTransactionRollback,
		KindTransactionSavepoint, KindTransactionExecute:
		return SubsystemTransaction
	case KindCursorStart, KindCursorFetch, KindCursorClose:
		return SubsystemCursor
	case KindEncodeValue, KindDecodeValue, KindUUIDConvert, KindMacAddrConvert:
		return SubsystemConversion
	default:
		return 0
	}
}

// ConversionDetail carries the precise context of a codec failure. Expected is
// zero when the target type has no fixed width; Raw is set only for
// text-format parses.
type ConversionDetail struct {
	OID      uint32
	Length   int
	Expected int
	Raw      string
}

// Error is the single concrete error type of the engine.
type Error struct {
	kind   Kind
	msg    string
	cause  error
	detail *ConversionDetail
}

// New builds an Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around a root cause. The cause stays
// reachable through errors.Unwrap so backend messages are never flattened.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause}
}

// NewConversion builds a conversion error with its detail payload attached.
func NewConversion(kind Kind, detail ConversionDetail, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), detail: &detail}
}

// WrapConversion is NewConversion with a root cause, used when an underlying
// parser reported a structured error worth preserving.
func WrapConversion(kind Kind, cause error, detail ConversionDetail, format string, args ...any) *Error {
	return &Error{kind: kind, msg: fmt.Sprintf(format, args...), cause: cause, detail: &detail}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.kind, e.msg, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.kind, e.msg)
}

func (e *Error) Unwrap() error { return e.cause }

// Kind returns the specific failure variant.
func (e *Error) Kind() Kind { return e.kind }

// Subsystem returns the subsystem discriminant.
func (e *Error) Subsystem() Subsystem { return e.kind.Subsystem() }

// Detail returns the conversion payload, or nil for non-codec errors.
func (e *Error) Detail() *ConversionDetail { return e.detail }

// KindOf extracts the Kind from err, or zero if err is not an engine error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return 0
}

// IsKind reports whether err is an engine error of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsSubsystem reports whether err belongs to the given subsystem. This is the
// base-class granularity match.
func IsSubsystem(err error, sub Subsystem) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.kind.Subsystem() == sub
	}
	return false
}
