package transfer

import (
	"fmt"
	"log/slog"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// HostKeyCallback returns the verifier for a Config. An empty path trusts
// any host key and logs its fingerprint; otherwise the OpenSSH known_hosts
// files at paths are authoritative and unknown or changed keys are refused.
func HostKeyCallback(logger *slog.Logger, paths ...string) (ssh.HostKeyCallback, error) {
	var files []string
	for _, p := range paths {
		if p != "" {
			files = append(files, p)
		}
	}
	if len(files) == 0 {
		if logger == nil {
			logger = slog.Default()
		}
		return trustAnyHostKey(logger), nil
	}

	cb, err := knownhosts.New(files...)
	if err != nil {
		return nil, fmt.Errorf("load known hosts: %w", err)
	}
	return cb, nil
}

// KnownHostsLine renders a known_hosts entry for addr, in host:port form.
func KnownHostsLine(addr string, key ssh.PublicKey) string {
	return knownhosts.Line([]string{knownhosts.Normalize(addr)}, key)
}
