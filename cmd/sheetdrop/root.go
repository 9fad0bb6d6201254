package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetdrop/internal/core"
	"github.com/JonMunkholm/sheetdrop/internal/logging"
)

// Exit codes.
const (
	exitFailure = 1 // Conversion or delivery failed
	exitInput   = 2 // The archive or destination given was unusable
)

// ExitError carries a process exit code out of a RunE handler.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// resultError converts a failed run into an ExitError whose message is the
// user-facing one; the technical error stays in the logs.
func resultError(res core.Result) error {
	code := exitFailure
	if res.Kind.ClientError() {
		code = exitInput
	}
	return &ExitError{Code: code, Err: errors.New(res.Message)}
}

type rootOptions struct {
	logLevel  string
	logFormat string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "sheetdrop",
		Short: "Turn zipped CSV exports into a workbook and deliver it over SFTP",
		Long: TitleStyle.Render("sheetdrop") + SubtitleStyle.Render(" - zipped CSV to xlsx to SFTP") + `

sheetdrop takes a zip of CSV files (the kind a dashboard schedule exports),
writes one worksheet per CSV into a single workbook and uploads it.

` + SubtitleStyle.Render("Examples:") + `
  sheetdrop convert export.zip
  sheetdrop deliver export.zip --host sftp.example.com --port 22 \
      --user looker --remote /upload/report.xlsx --key-file ~/.ssh/id_ed25519`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			slog.SetDefault(logging.New(cmd.ErrOrStderr(), opts.logLevel, opts.logFormat))
		},
	}

	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "console", "log format: console, text, json")

	root.AddCommand(newConvertCmd())
	root.AddCommand(newDeliverCmd())
	return root
}
