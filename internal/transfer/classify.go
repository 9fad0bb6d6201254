package transfer

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"net"
	"strings"

	"github.com/pkg/sftp"
)

// Cause classifies why a transfer failed.
type Cause string

const (
	CauseNone             Cause = ""
	CauseAuth             Cause = "auth"
	CauseConnection       Cause = "connection"
	CauseLocalFileMissing Cause = "local_file_missing"
	CauseRemotePath       Cause = "remote_path"
	CauseUnexpected       Cause = "unexpected"
)

// ErrAuthRejected marks a handshake that failed during authentication.
var ErrAuthRejected = errors.New("authentication rejected")

// classifyHandshake separates authentication rejection from the transport
// failing underneath it. authStarted is true once the host key was accepted.
func classifyHandshake(err error, authStarted bool) Cause {
	if errors.Is(err, ErrNoPrompt) {
		return CauseAuth
	}
	if authStarted && strings.Contains(err.Error(), "unable to authenticate") {
		return CauseAuth
	}
	return CauseConnection
}

// classifyRemote maps an error from a remote file operation. Status replies
// from the server (no such directory, permission denied, failure) are path
// problems; a dead transport is a connection problem.
func classifyRemote(err error) Cause {
	if isTransportError(err) {
		return CauseConnection
	}
	return CauseRemotePath
}

// classifyLocal maps an error opening the local artifact.
func classifyLocal(err error) Cause {
	if errors.Is(err, fs.ErrNotExist) {
		return CauseLocalFileMissing
	}
	return CauseUnexpected
}

func isTransportError(err error) bool {
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, sftp.ErrSSHFxConnectionLost) ||
		errors.Is(err, sftp.ErrSSHFxNoConnection) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
