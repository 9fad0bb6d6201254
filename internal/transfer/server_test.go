package transfer

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"net"
	"testing"

	"github.com/charmbracelet/ssh"
	"github.com/charmbracelet/wish"
	"github.com/pkg/sftp"
	"github.com/stretchr/testify/require"
	gossh "golang.org/x/crypto/ssh"
)

// testServer is an in-process SSH server exposing only the sftp subsystem.
type testServer struct {
	host    string
	port    int
	hostKey gossh.PublicKey
}

type serverAuth struct {
	password   string
	authorized gossh.PublicKey
}

func startSFTPServer(t *testing.T, auth serverAuth) *testServer {
	t.Helper()

	hostPub, hostPriv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	hostKey, err := gossh.NewPublicKey(hostPub)
	require.NoError(t, err)
	hostBlock, err := gossh.MarshalPrivateKey(hostPriv, "")
	require.NoError(t, err)

	opts := []ssh.Option{wish.WithHostKeyPEM(pem.EncodeToMemory(hostBlock))}
	if auth.password != "" {
		opts = append(opts, wish.WithPasswordAuth(func(_ ssh.Context, password string) bool {
			return password == auth.password
		}))
	}
	if auth.authorized != nil {
		opts = append(opts, wish.WithPublicKeyAuth(func(_ ssh.Context, key ssh.PublicKey) bool {
			return ssh.KeysEqual(key, auth.authorized)
		}))
	}

	srv, err := wish.NewServer(opts...)
	require.NoError(t, err)
	srv.SubsystemHandlers = map[string]ssh.SubsystemHandler{
		"sftp": func(s ssh.Session) {
			server, err := sftp.NewServer(s)
			if err != nil {
				return
			}
			defer server.Close()
			// io.EOF is the client closing the session.
			_ = server.Serve()
		},
	}

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, ssh.ErrServerClosed) && !errors.Is(err, net.ErrClosed) {
			t.Logf("ssh server: %v", err)
		}
	}()
	t.Cleanup(func() {
		srv.Close()
		<-done
	})

	addr := ln.Addr().(*net.TCPAddr)
	return &testServer{host: addr.IP.String(), port: addr.Port, hostKey: hostKey}
}

func (s *testServer) destination(remotePath string) Destination {
	return Destination{Host: s.host, Port: s.port, Username: "looker", RemotePath: remotePath}
}
