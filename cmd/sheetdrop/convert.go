package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sheetdrop/internal/core"
)

// workOptions are shared by every command that runs the pipeline.
type workOptions struct {
	base64      bool
	workDir     string
	maxExpanded int64
	json        bool
}

func (o *workOptions) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&o.base64, "base64", false, "input is already base64 encoded")
	cmd.Flags().StringVar(&o.workDir, "work-dir", "", "directory for work areas (default: system temp dir)")
	cmd.Flags().Int64Var(&o.maxExpanded, "max-expanded-bytes", core.DefaultMaxExpandedBytes, "uncompressed size limit, -1 disables")
	cmd.Flags().BoolVar(&o.json, "json", false, "print the result as JSON")
}

func (o *workOptions) extractor() core.Extractor {
	return core.Extractor{Base: o.workDir, MaxExpandedBytes: o.maxExpanded}
}

func newConvertCmd() *cobra.Command {
	opts := &workOptions{}

	cmd := &cobra.Command{
		Use:   "convert <archive.zip|->",
		Short: "Build the workbook without uploading it",
		Long: `Extract the archive into a fresh work area, collect its CSV files and
write them as sheets of tabbed.xlsx. The work area is left in place and its
path is printed. Use - to read the archive from stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			payload, err := readPayload(cmd.InOrStdin(), args[0], opts.base64)
			if err != nil {
				return &ExitError{Code: exitInput, Err: err}
			}

			pipeline := core.NewPipeline(opts.extractor(), nil, core.KeyPolicyFallback)
			res := pipeline.Convert(cmd.Context(), payload)
			if err := printResult(cmd.OutOrStdout(), res, opts.json); err != nil {
				return err
			}
			if !res.OK {
				return resultError(res)
			}
			return nil
		},
	}
	opts.register(cmd)
	return cmd
}

// readPayload loads the archive at path, or stdin for "-", as the base64
// text the pipeline expects.
func readPayload(stdin io.Reader, path string, isBase64 bool) (string, error) {
	var (
		raw []byte
		err error
	)
	if path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path)
	}
	if err != nil {
		return "", fmt.Errorf("read archive: %w", err)
	}
	if len(raw) == 0 {
		return "", fmt.Errorf("archive %s is empty", path)
	}

	if isBase64 {
		return strings.TrimSpace(string(raw)), nil
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// printResult writes res as JSON or as a short human summary.
func printResult(w io.Writer, res core.Result, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}

	if !res.OK {
		msg := core.MapError(res.Err)
		fmt.Fprintln(w, ErrorStyle.Render("✗ "+res.Message))
		fmt.Fprintf(w, "  stage: %s  kind: %s\n", res.Stage, res.Kind)
		if msg.Action != "" {
			fmt.Fprintln(w, SubtitleStyle.Render("  "+msg.Action))
		}
		if res.WorkArea != "" {
			fmt.Fprintf(w, "  work area: %s\n", res.WorkArea)
		}
		return nil
	}

	fmt.Fprintln(w, SuccessStyle.Render("✓ "+res.Message))
	if res.Artifact != nil {
		fmt.Fprintf(w, "  workbook: %s\n", res.Artifact.Path)
		for _, s := range res.Artifact.Sheets {
			fmt.Fprintf(w, "  %-31s %6d rows %3d cols  %s\n", s.Name, s.Rows, s.Columns, SubtitleStyle.Render(s.Source))
		}
	}
	return nil
}
