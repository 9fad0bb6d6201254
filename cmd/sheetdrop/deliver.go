package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/JonMunkholm/sheetdrop/internal/core"
	"github.com/JonMunkholm/sheetdrop/internal/transfer"
)

type deliverOptions struct {
	workOptions

	host        string
	port        string
	user        string
	remote      string
	keyFile     string
	passwordEnv string
	knownHosts  string
	strictKeys  bool
	timeout     time.Duration
}

func newDeliverCmd() *cobra.Command {
	opts := &deliverOptions{}

	cmd := &cobra.Command{
		Use:   "deliver <archive.zip|->",
		Short: "Build the workbook and upload it over SFTP",
		Long: `Run the whole pipeline: extract, build tabbed.xlsx, pick credentials and
upload to --remote on the destination, replacing any existing file.

Credentials are tried in this order: --key-file, the password in the
environment variable named by --password-env, then a terminal prompt.
An unusable key falls back to the next option unless --strict-keys is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDeliver(cmd, args[0], opts)
		},
	}

	opts.workOptions.register(cmd)
	f := cmd.Flags()
	f.StringVar(&opts.host, "host", "", "SFTP host")
	f.StringVar(&opts.port, "port", "", "SFTP port (1-65535)")
	f.StringVar(&opts.user, "user", "", "SFTP username")
	f.StringVar(&opts.remote, "remote", "", "remote file path")
	f.StringVar(&opts.keyFile, "key-file", "", "unencrypted private key (ed25519, ecdsa or rsa)")
	f.StringVar(&opts.passwordEnv, "password-env", "SFTP_PASSWORD", "environment variable holding the password")
	f.StringVar(&opts.knownHosts, "known-hosts", "", "known_hosts file; empty accepts any host key")
	f.BoolVar(&opts.strictKeys, "strict-keys", false, "fail instead of falling back when the key is unusable")
	f.DurationVar(&opts.timeout, "timeout", transfer.DefaultConnectTimeout, "connect and handshake timeout")
	for _, name := range []string{"host", "port", "user", "remote"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func runDeliver(cmd *cobra.Command, archive string, opts *deliverOptions) error {
	payload, err := readPayload(cmd.InOrStdin(), archive, opts.base64)
	if err != nil {
		return &ExitError{Code: exitInput, Err: err}
	}

	cred := transfer.Credential{}
	if opts.keyFile != "" {
		key, err := os.ReadFile(opts.keyFile)
		if err != nil {
			return &ExitError{Code: exitInput, Err: fmt.Errorf("read key file: %w", err)}
		}
		cred.PrivateKey = string(key)
	}
	if opts.passwordEnv != "" {
		cred.Password = os.Getenv(opts.passwordEnv)
	}

	hostKeys, err := transfer.HostKeyCallback(slog.Default(), opts.knownHosts)
	if err != nil {
		return &ExitError{Code: exitInput, Err: err}
	}

	client := transfer.NewClient(transfer.Config{
		ConnectTimeout:  opts.timeout,
		HostKeyCallback: hostKeys,
		Prompter:        prompter(archive),
	})

	policy := core.KeyPolicyFallback
	if opts.strictKeys {
		policy = core.KeyPolicyStrict
	}

	res := core.NewPipeline(opts.extractor(), client, policy).Run(cmd.Context(), core.Request{
		Payload: payload,
		Destination: core.DestinationInput{
			Host:     opts.host,
			Username: opts.user,
			Filename: opts.remote,
			Port:     opts.port,
		},
		Credential: cred,
	})

	if err := printResult(cmd.OutOrStdout(), res, opts.json); err != nil {
		return err
	}
	if !res.OK {
		return resultError(res)
	}
	return nil
}

// prompter asks on the terminal unless stdin is busy carrying the archive
// or is not a terminal at all.
func prompter(archive string) transfer.Prompter {
	if archive == "-" || !term.IsTerminal(int(os.Stdin.Fd())) {
		return transfer.NoPrompter{}
	}
	return transfer.NewTerminalPrompter()
}
