package errors

import "errors"

// Code identifies one failure mode of the export/restore subsystem. The set
// is closed: callers switch on codes, never on error types or messages.
type Code string

const (
	CodeRestoreInvalidArchive   Code = "RESTORE_INVALID_ARCHIVE"
	CodeRestoreInvalidSignature Code = "RESTORE_INVALID_SIGNATURE"
	CodeRestoreRunExists        Code = "RESTORE_RUN_EXISTS"
	CodeRestoreFSError          Code = "RESTORE_FS_ERROR"
	CodeRestoreDBError          Code = "RESTORE_DB_ERROR"

	CodeExportNotFound      Code = "EXPORT_NOT_FOUND"
	CodeExportNotADirectory Code = "EXPORT_NOT_A_DIRECTORY"
	CodeExportEmptyTree     Code = "EXPORT_EMPTY_TREE"
	CodeExportUnsafePath    Code = "EXPORT_UNSAFE_PATH"
)

type codedError struct {
	code  Code
	hint  string
	cause error
}

func (e *codedError) Error() string {
	if e.cause == nil {
		return string(e.code)
	}
	return e.cause.Error()
}

func (e *codedError) Unwrap() error {
	return e.cause
}

func (e *codedError) Code() Code {
	return e.code
}

func (e *codedError) Hint() string {
	return e.hint
}

// Wrap attaches a code (and optional operator hint) to a cause. A nil cause
// returns nil so call sites can wrap unconditionally.
func Wrap(cause error, code Code, hint string) error {
	if cause == nil {
		return nil
	}
	return &codedError{code: code, hint: hint, cause: cause}
}

// New builds a coded error from a plain message.
func New(code Code, message string) error {
	return &codedError{code: code, cause: errors.New(message)}
}

// CodeOf extracts the code from anywhere in the chain; empty when the error
// was never classified.
func CodeOf(err error) Code {
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.code
	}
	return ""
}

func HintOf(err error) string {
	var coded *codedError
	if errors.As(err, &coded) {
		return coded.hint
	}
	return ""
}
