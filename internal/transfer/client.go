package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"time"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
)

// DefaultConnectTimeout bounds dialing plus the SSH handshake.
const DefaultConnectTimeout = 30 * time.Second

// State is a step of one transfer attempt.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateAuthenticating
	StateSessionOpen
	StateUploading
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateSessionOpen:
		return "session_open"
	case StateUploading:
		return "uploading"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Result is the outcome of one transfer attempt.
type Result struct {
	Cause  Cause
	Err    error
	State  State // Final state: StateClosed on success, StateFailed otherwise
	Closed bool  // Session and connection were both closed
	Bytes  int64 // Bytes written to the remote file
}

// OK reports whether the artifact was delivered.
func (r Result) OK() bool {
	return r.Cause == CauseNone && r.Err == nil
}

// Config controls a Client.
type Config struct {
	ConnectTimeout time.Duration

	// HostKeyCallback verifies the server. Nil trusts any host key and logs
	// its fingerprint.
	HostKeyCallback ssh.HostKeyCallback

	// Prompter answers interactive plans. Nil behaves like NoPrompter.
	Prompter Prompter

	// OnState, if set, observes every state transition.
	OnState func(State)

	Logger *slog.Logger
}

// Client performs SFTP uploads. It holds no connection between calls and is
// safe for concurrent use.
type Client struct {
	cfg Config
}

// NewClient returns a Client with defaults applied.
func NewClient(cfg Config) *Client {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Prompter == nil {
		cfg.Prompter = NoPrompter{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Client{cfg: cfg}
}

// attempt carries the per-call state of Transfer.
type attempt struct {
	cfg    Config
	logger *slog.Logger
	res    Result

	conn    net.Conn
	ssh     *ssh.Client
	session *sftp.Client
	stop    func() bool // Detaches the context watcher
}

func (a *attempt) enter(s State) {
	a.res.State = s
	a.logger.Debug("transfer state", "state", s.String())
	if a.cfg.OnState != nil {
		a.cfg.OnState(s)
	}
}

func (a *attempt) fail(cause Cause, err error) {
	a.res.Cause = cause
	a.res.Err = err
	a.enter(StateFailed)
}

// Transfer uploads localPath to dest.RemotePath using plan. Exactly one
// connection, authentication and upload is attempted. An existing remote
// file is always overwritten.
//
// The SFTP session and the SSH connection are closed on every path, session
// first. Close errors are logged and never change the outcome.
func (c *Client) Transfer(ctx context.Context, dest Destination, localPath string, plan AuthPlan) (res Result) {
	a := &attempt{
		cfg:    c.cfg,
		logger: c.cfg.Logger.With("destination", dest.String(), "auth", plan.Method.String()),
	}
	a.enter(StateDisconnected)

	defer func() {
		a.close()
		if a.res.OK() {
			a.enter(StateClosed)
		}
		res = a.res
	}()

	if err := dest.Validate(); err != nil {
		a.fail(CauseUnexpected, fmt.Errorf("invalid destination: %w", err))
		return a.res
	}

	if err := a.connect(ctx, dest, plan); err != nil {
		return a.res
	}

	session, err := sftp.NewClient(a.ssh)
	if err != nil {
		a.fail(CauseConnection, fmt.Errorf("open sftp session: %w", err))
		return a.res
	}
	a.session = session
	a.enter(StateSessionOpen)

	a.upload(localPath, dest.RemotePath)
	return a.res
}

// connect dials and runs the SSH handshake. The host key is checked before
// authentication starts, so StateAuthenticating is entered from inside the
// host key callback.
func (a *attempt) connect(ctx context.Context, dest Destination, plan AuthPlan) error {
	a.enter(StateConnecting)

	dialer := net.Dialer{Timeout: a.cfg.ConnectTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", dest.Addr())
	if err != nil {
		a.fail(CauseConnection, fmt.Errorf("dial %s: %w", dest.Addr(), err))
		return err
	}
	a.conn = conn

	// Tear the socket down if the caller gives up mid-transfer.
	a.stop = context.AfterFunc(ctx, func() { conn.Close() })

	if err := conn.SetDeadline(time.Now().Add(a.cfg.ConnectTimeout)); err != nil {
		a.fail(CauseConnection, fmt.Errorf("set handshake deadline: %w", err))
		return err
	}

	auth, err := a.authMethods(plan, dest)
	if err != nil {
		a.fail(CauseAuth, err)
		return err
	}

	hostKey := a.cfg.HostKeyCallback
	if hostKey == nil {
		hostKey = trustAnyHostKey(a.logger)
	}

	cfg := &ssh.ClientConfig{
		User: dest.Username,
		Auth: auth,
		HostKeyCallback: func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			if err := hostKey(hostname, remote, key); err != nil {
				return err
			}
			a.enter(StateAuthenticating)
			return nil
		},
		Timeout: a.cfg.ConnectTimeout,
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, dest.Addr(), cfg)
	if err != nil {
		cause := classifyHandshake(err, a.res.State == StateAuthenticating)
		if cause == CauseAuth {
			err = fmt.Errorf("%w: %w", ErrAuthRejected, err)
		}
		a.fail(cause, fmt.Errorf("ssh handshake with %s: %w", dest.Addr(), err))
		return err
	}
	a.ssh = ssh.NewClient(sshConn, chans, reqs)

	if err := conn.SetDeadline(time.Time{}); err != nil {
		a.fail(CauseConnection, fmt.Errorf("clear handshake deadline: %w", err))
		return err
	}
	return nil
}

// authMethods builds exactly the mechanism the plan names.
func (a *attempt) authMethods(plan AuthPlan, dest Destination) ([]ssh.AuthMethod, error) {
	switch plan.Method {
	case AuthKey:
		if plan.Signer == nil {
			return nil, errors.New("key plan without a signer")
		}
		return []ssh.AuthMethod{ssh.PublicKeys(plan.Signer)}, nil
	case AuthPassword:
		return []ssh.AuthMethod{ssh.Password(plan.Password)}, nil
	case AuthInteractive:
		prompter := a.cfg.Prompter
		return []ssh.AuthMethod{ssh.PasswordCallback(func() (string, error) {
			return prompter.Password(dest.Username, dest.Host)
		})}, nil
	default:
		return nil, fmt.Errorf("unknown auth method %s", plan.Method)
	}
}

func (a *attempt) upload(localPath, remotePath string) {
	// The local artifact is opened only once the session is up so a file
	// removed in between is reported as missing rather than as a remote error.
	local, err := os.Open(localPath)
	if err != nil {
		a.fail(classifyLocal(err), fmt.Errorf("open local artifact: %w", err))
		return
	}
	defer local.Close()

	a.enter(StateUploading)

	remote, err := a.session.OpenFile(remotePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC)
	if err != nil {
		a.fail(classifyRemote(err), fmt.Errorf("open remote file %s: %w", remotePath, err))
		return
	}

	n, err := remote.ReadFrom(local)
	a.res.Bytes = n
	if err != nil {
		remote.Close()
		a.fail(classifyRemote(err), fmt.Errorf("write remote file %s: %w", remotePath, err))
		return
	}
	if err := remote.Close(); err != nil {
		a.fail(classifyRemote(err), fmt.Errorf("close remote file %s: %w", remotePath, err))
		return
	}

	a.logger.Info("artifact uploaded", "remote_path", remotePath, "bytes", n)
}

// close releases the session then the connection. Errors are logged only.
func (a *attempt) close() {
	if a.session != nil {
		if err := a.session.Close(); err != nil && !isTransportError(err) {
			a.logger.Warn("failed to close sftp session", "error", err)
		}
	}
	switch {
	case a.ssh != nil:
		if err := a.ssh.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			a.logger.Warn("failed to close ssh connection", "error", err)
		}
	case a.conn != nil:
		// Handshake never completed; only the raw socket exists.
		if err := a.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			a.logger.Warn("failed to close connection", "error", err)
		}
	}
	if a.stop != nil {
		a.stop()
	}
	a.res.Closed = true
}

// trustAnyHostKey accepts every host key and logs what was presented.
func trustAnyHostKey(logger *slog.Logger) ssh.HostKeyCallback {
	return func(hostname string, remote net.Addr, key ssh.PublicKey) error {
		logger.Info("accepting unverified host key",
			"host", hostname,
			"key_type", key.Type(),
			"fingerprint", ssh.FingerprintSHA256(key),
		)
		return nil
	}
}
