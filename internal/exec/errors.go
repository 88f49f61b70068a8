// Package exec implements the volcano-style physical executor: DDL/DML
// command dispatch, the write path (WAL append, table mutation, index
// synchronization with scoped rollback), and the scan/filter/join/
// aggregate/sort/limit/project operator pipeline that answers SELECT.
package exec

import (
	"errors"
	"fmt"

	walerrors "github.com/reldb/reldb/internal/errors"
	"github.com/reldb/reldb/internal/index"
	"github.com/reldb/reldb/internal/sql"
	"github.com/reldb/reldb/internal/storage"
	"github.com/reldb/reldb/internal/txn"
)

// ErrorKind enumerates every category of error this engine reports,
// covering both executor-level failures and the lower-level I/O errors
// surfaced unchanged through the executor.
type ErrorKind int

const (
	ErrParse ErrorKind = iota
	ErrValidation
	ErrDimensionMismatch
	ErrNoActiveTransaction
	ErrTransactionAlreadyActive
	ErrWriteConflict
	ErrSubqueryMultipleRows
	ErrTableNotFound
	ErrTableExists
	ErrIndexNotFound
	ErrIndexExists
	ErrInvalidFileFormat
	ErrUnsupportedVersion
	ErrUnexpectedEOF
	ErrCRCMismatch
	ErrRotationFailed
	ErrIO
)

func (k ErrorKind) String() string {
	switch k {
	case ErrParse:
		return "parse-error"
	case ErrValidation:
		return "validation-error"
	case ErrDimensionMismatch:
		return "dimension-mismatch"
	case ErrNoActiveTransaction:
		return "no-active-transaction"
	case ErrTransactionAlreadyActive:
		return "transaction-already-active"
	case ErrWriteConflict:
		return "write-conflict"
	case ErrSubqueryMultipleRows:
		return "subquery-multiple-rows"
	case ErrTableNotFound:
		return "table-not-found"
	case ErrTableExists:
		return "table-exists"
	case ErrIndexNotFound:
		return "index-not-found"
	case ErrIndexExists:
		return "index-exists"
	case ErrInvalidFileFormat:
		return "invalid-file-format"
	case ErrUnsupportedVersion:
		return "unsupported-version"
	case ErrUnexpectedEOF:
		return "unexpected-eof"
	case ErrCRCMismatch:
		return "crc-mismatch"
	case ErrRotationFailed:
		return "rotation-failed"
	case ErrIO:
		return "io-error"
	default:
		return "unknown"
	}
}

// Error is the single error type every public Executor method returns,
// carrying a validator hint through to callers that want to print it.
type Error struct {
	Kind    ErrorKind
	Message string
	Hint    string
}

func (e *Error) Error() string {
	if e.Hint != "" {
		return e.Message + " (did you mean \"" + e.Hint + "\"?)"
	}
	return e.Message
}

func newError(kind ErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// wrap translates a lower-layer sentinel or typed error into an *Error,
// or returns nil unchanged if err is nil.
func wrap(err error) error {
	if err == nil {
		return nil
	}
	var eerr *Error
	if errors.As(err, &eerr) {
		return eerr
	}
	var verr *sql.ValidationError
	if errors.As(err, &verr) {
		return &Error{Kind: ErrValidation, Message: verr.Message, Hint: verr.Hint}
	}

	switch {
	case errors.Is(err, storage.ErrWriteConflict):
		return newError(ErrWriteConflict, "write conflict: row was modified by a concurrent committed transaction")
	case errors.Is(err, storage.ErrRowNotFound):
		return newError(ErrIO, "row not found")
	case errors.Is(err, txn.ErrNoActiveTransaction):
		return newError(ErrNoActiveTransaction, "no active transaction")
	case errors.Is(err, txn.ErrTransactionAlreadyActive):
		return newError(ErrTransactionAlreadyActive, "a transaction is already active")
	case errors.Is(err, index.ErrDimensionMismatch):
		return newError(ErrDimensionMismatch, "embedding length does not match the column's declared dimension")
	case errors.Is(err, index.ErrIndexNotFound):
		return newError(ErrIndexNotFound, "index not found")
	case errors.Is(err, index.ErrIndexExists):
		return newError(ErrIndexExists, "index already exists")
	case errors.Is(err, walerrors.ErrCorruptRecord):
		return newError(ErrInvalidFileFormat, "corrupt record")
	case errors.Is(err, walerrors.ErrCRCMismatch):
		return newError(ErrCRCMismatch, "checksum mismatch")
	case errors.Is(err, walerrors.ErrUnsupportedVersion):
		return newError(ErrUnsupportedVersion, "unsupported format version")
	case errors.Is(err, walerrors.ErrRotationFailed):
		return newError(ErrRotationFailed, "segment rotation failed")
	case errors.Is(err, walerrors.ErrFileOpen), errors.Is(err, walerrors.ErrFileWrite),
		errors.Is(err, walerrors.ErrFileSync), errors.Is(err, walerrors.ErrFileRead):
		return newError(ErrIO, "%v", err)
	default:
		return newError(ErrIO, "%v", err)
	}
}
