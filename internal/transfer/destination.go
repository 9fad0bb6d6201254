// Package transfer delivers a local file to a remote host over SFTP.
//
// It resolves which credential mechanism to use (Resolve), then runs exactly
// one connect/authenticate/upload attempt (Client.Transfer) and reports a
// classified Result. No retries happen here.
package transfer

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Port validation errors. Each is distinct so callers can report exactly
// what was wrong with the value they received.
var (
	ErrPortMissing    = errors.New("port is missing")
	ErrPortNotInteger = errors.New("port is not a valid integer")
	ErrPortOutOfRange = errors.New("port is out of valid range (1-65535)")
)

// Destination validation errors.
var (
	ErrHostMissing       = errors.New("host is missing")
	ErrUsernameMissing   = errors.New("username is missing")
	ErrRemotePathMissing = errors.New("remote filename is missing")
)

// Destination describes where an artifact is delivered.
type Destination struct {
	Host       string `json:"host"`
	Port       int    `json:"port"`
	Username   string `json:"username"`
	RemotePath string `json:"filename"`
}

// Addr returns host:port suitable for dialing.
func (d Destination) Addr() string {
	return net.JoinHostPort(d.Host, strconv.Itoa(d.Port))
}

// String renders user@host:port:path for logs.
func (d Destination) String() string {
	return fmt.Sprintf("%s@%s:%s", d.Username, d.Addr(), d.RemotePath)
}

// Validate checks every field. The port must already be in range; no
// default is ever substituted.
func (d Destination) Validate() error {
	var errs []error
	if strings.TrimSpace(d.Host) == "" {
		errs = append(errs, ErrHostMissing)
	}
	if strings.TrimSpace(d.Username) == "" {
		errs = append(errs, ErrUsernameMissing)
	}
	if strings.TrimSpace(d.RemotePath) == "" {
		errs = append(errs, ErrRemotePathMissing)
	}
	if err := checkPortRange(d.Port); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// ParsePort converts a form value to a port number in [1, 65535].
func ParsePort(s string) (int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrPortMissing
	}

	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrPortNotInteger, s)
	}
	if err := checkPortRange(n); err != nil {
		return 0, err
	}
	return n, nil
}

func checkPortRange(n int) error {
	if n <= 0 || n > 65535 {
		return fmt.Errorf("%w: %d", ErrPortOutOfRange, n)
	}
	return nil
}
