// Package core provides the archive-to-spreadsheet pipeline.
//
// # Error Codes Reference
//
// This file defines user-friendly error messages with codes for support reference.
// Operators can tell input errors from infrastructure errors by the prefix
// without reading logs.
//
// # Input Errors (IN001-IN099)
//
//	IN001 - Attachment could not be decoded
//	        Action: Resend the schedule; the attachment must be base64 encoded
//	IN002 - Destination is invalid
//	        Action: Check host, username, filename and port (1-65535)
//
// # Archive Errors (ARC001-ARC099)
//
//	ARC001 - Attachment is not a valid zip archive
//	ARC002 - Archive could not be written or expanded on the server
//	ARC003 - Archive contains no CSV files
//
// # Spreadsheet Errors (XLS001-XLS099)
//
//	XLS001 - A CSV file could not be parsed
//	XLS002 - The workbook could not be saved
//
// # Transfer Errors (SFTP001-SFTP099)
//
//	SFTP001 - Authentication rejected
//	SFTP002 - Connection or protocol failure
//	SFTP003 - Workbook missing at upload time
//	SFTP004 - Remote path rejected
//
// # Default Error (ERR000)
//
// Fallback when the error carries no known kind.
package core

import (
	"fmt"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
}

// kindMessages maps every failure kind to its user message.
var kindMessages = map[Kind]UserMessage{
	KindDecode: {
		Message: "Attachment could not be decoded",
		Action:  "Resend the schedule; the attachment must be base64 encoded",
		Code:    "IN001",
	},
	KindInvalidDestination: {
		Message: "Destination is invalid",
		Action:  "Check host, username, filename and port (1-65535)",
		Code:    "IN002",
	},
	KindCorruptArchive: {
		Message: "Attachment is not a valid zip archive",
		Action:  "Deliver the dashboard as zipped CSV files",
		Code:    "ARC001",
	},
	KindIO: {
		Message: "Archive could not be stored or expanded",
		Action:  "Check free disk space on the server and try again",
		Code:    "ARC002",
	},
	KindNoTables: {
		Message: "Archive contains no CSV files",
		Action:  "Make sure the dashboard tiles export as CSV",
		Code:    "ARC003",
	},
	KindMalformedTable: {
		Message: "A CSV file could not be parsed",
		Action:  "Check the exported data for inconsistent columns or quoting",
		Code:    "XLS001",
	},
	KindWrite: {
		Message: "The workbook could not be saved",
		Action:  "Check free disk space on the server and try again",
		Code:    "XLS002",
	},
	KindAuth: {
		Message: "SFTP server rejected the credentials",
		Action:  "Verify the username and the configured key or password",
		Code:    "SFTP001",
	},
	KindConnection: {
		Message: "Could not connect to the SFTP server",
		Action:  "Verify host and port and that the server is reachable",
		Code:    "SFTP002",
	},
	KindLocalFileMissing: {
		Message: "The workbook was missing at upload time",
		Action:  "Please try again",
		Code:    "SFTP003",
	},
	KindRemotePath: {
		Message: "The SFTP server rejected the remote file path",
		Action:  "Make sure the remote directory exists and is writable",
		Code:    "SFTP004",
	},
}

// defaultMessage is returned when the error carries no known kind (ERR000).
var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
}

// MapError converts an error to a user-friendly message using its Kind.
// Unclassified errors map to ERR000.
func MapError(err error) UserMessage {
	if err == nil {
		return UserMessage{}
	}
	if msg, ok := kindMessages[KindOf(err)]; ok {
		return msg
	}
	return defaultMessage
}

// IsUserFacing reports whether err maps to a specific message rather than
// the ERR000 fallback.
func IsUserFacing(err error) bool {
	if err == nil {
		return false
	}
	_, ok := kindMessages[KindOf(err)]
	return ok
}

// FormatUserError creates a formatted error string for display.
// The format is: "Message (Code: XXX). Action"
func FormatUserError(err error) string {
	msg := MapError(err)
	if msg.Message == "" {
		return ""
	}
	return fmt.Sprintf("%s (Code: %s). %s", msg.Message, msg.Code, msg.Action)
}

// UserError pairs a technical error with the message shown to callers.
type UserError struct {
	Technical error       // Original technical error for logging
	User      UserMessage // User-friendly message for display
}

func (e *UserError) Error() string {
	return e.User.Message
}

func (e *UserError) Unwrap() error {
	return e.Technical
}

// NewUserError maps err to a UserError. Returns nil if err is nil.
func NewUserError(err error) *UserError {
	if err == nil {
		return nil
	}
	return &UserError{
		Technical: err,
		User:      MapError(err),
	}
}
