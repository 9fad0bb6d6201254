package core

import (
	"errors"
	"fmt"
)

// Kind classifies why a pipeline run failed.
type Kind string

const (
	KindNone               Kind = ""
	KindDecode             Kind = "decode_error"
	KindCorruptArchive     Kind = "corrupt_archive"
	KindIO                 Kind = "io_failure"
	KindNoTables           Kind = "no_tables_found"
	KindMalformedTable     Kind = "malformed_table"
	KindWrite              Kind = "write_failure"
	KindAuth               Kind = "auth_failure"
	KindConnection         Kind = "connection_failure"
	KindLocalFileMissing   Kind = "local_file_missing"
	KindRemotePath         Kind = "remote_path_failure"
	KindUnexpected         Kind = "unexpected_failure"
	KindInvalidDestination Kind = "invalid_destination"
)

// ClientError reports whether the failure was caused by the caller's input
// rather than by conversion or delivery infrastructure.
func (k Kind) ClientError() bool {
	switch k {
	case KindDecode, KindInvalidDestination:
		return true
	default:
		return false
	}
}

// Stage identifies the pipeline step that produced a failure.
type Stage string

const (
	StageNone        Stage = ""
	StageValidate    Stage = "validate"
	StageExtract     Stage = "extract"
	StageLocate      Stage = "locate"
	StageCompose     Stage = "compose"
	StageCredentials Stage = "credentials"
	StageTransfer    Stage = "transfer"
)

// Error is the classified failure returned by every pipeline stage.
type Error struct {
	Stage Stage
	Kind  Kind
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(stage Stage, kind Kind, err error) *Error {
	return &Error{Stage: stage, Kind: kind, Err: err}
}

// KindOf returns the Kind carried by err, or KindUnexpected when err is not
// a classified pipeline error. A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnexpected
}

// Sentinel errors wrapped by the stages. They keep the technical message
// stable for logs and tests.
var (
	ErrNoTablesFound   = errors.New("no csv files found in archive root or its first subdirectory")
	ErrPathTraversal   = errors.New("archive entry escapes work area")
	ErrArchiveTooLarge = errors.New("archive expands beyond the configured limit")
	ErrUnusableKey     = errors.New("private key could not be used and strict key policy is enabled")
)
