package main

import (
	"archive/zip"
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/JonMunkholm/sheetdrop/internal/core"
)

func writeZip(t *testing.T, files map[string]string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, body := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write([]byte(body)); err != nil {
			t.Fatal(err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "export.zip")
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestConvert_JSON(t *testing.T) {
	archive := writeZip(t, map[string]string{
		"sales.csv": "region,amount\nnorth,1\nsouth,2\n",
		"leads.csv": "name\n",
	})

	out, err := execute(t, "", "convert", archive, "--json", "--work-dir", t.TempDir())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}

	var res core.Result
	if err := json.Unmarshal([]byte(out), &res); err != nil {
		t.Fatalf("decode output %q: %v", out, err)
	}
	if !res.OK {
		t.Fatalf("result not ok: %+v", res)
	}
	if res.Artifact == nil || len(res.Artifact.Sheets) != 2 {
		t.Fatalf("artifact = %+v, want 2 sheets", res.Artifact)
	}
	if _, err := os.Stat(res.Artifact.Path); err != nil {
		t.Errorf("workbook missing: %v", err)
	}
}

func TestConvert_Stdin(t *testing.T) {
	archive := writeZip(t, map[string]string{"a.csv": "x\n1\n"})
	raw, err := os.ReadFile(archive)
	if err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, base64.StdEncoding.EncodeToString(raw)+"\n",
		"convert", "-", "--base64", "--work-dir", t.TempDir())
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if !strings.Contains(out, "workbook:") {
		t.Errorf("output %q does not name the workbook", out)
	}
}

func TestConvert_NoTables(t *testing.T) {
	archive := writeZip(t, map[string]string{"readme.txt": "hello"})

	_, err := execute(t, "", "convert", archive, "--work-dir", t.TempDir())

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if exitErr.Code != exitFailure {
		t.Errorf("code = %d, want %d", exitErr.Code, exitFailure)
	}
}

func TestDeliver_InvalidPort(t *testing.T) {
	archive := writeZip(t, map[string]string{"a.csv": "x\n1\n"})
	work := t.TempDir()

	_, err := execute(t, "", "deliver", archive,
		"--host", "sftp.example.com", "--port", "70000",
		"--user", "looker", "--remote", "/in/report.xlsx",
		"--work-dir", work, "--password-env", "")

	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("err = %v, want *ExitError", err)
	}
	if exitErr.Code != exitInput {
		t.Errorf("code = %d, want %d", exitErr.Code, exitInput)
	}

	entries, err := os.ReadDir(work)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("work dir has %d entries, want none before validation passes", len(entries))
	}
}

func TestDeliver_RequiresDestinationFlags(t *testing.T) {
	archive := writeZip(t, map[string]string{"a.csv": "x\n1\n"})

	_, err := execute(t, "", "deliver", archive, "--host", "sftp.example.com")
	if err == nil {
		t.Fatal("expected error for missing required flags")
	}
}

func TestReadPayload(t *testing.T) {
	archive := writeZip(t, map[string]string{"a.csv": "x\n"})
	raw, err := os.ReadFile(archive)
	if err != nil {
		t.Fatal(err)
	}
	encoded := base64.StdEncoding.EncodeToString(raw)

	tests := []struct {
		name     string
		stdin    string
		path     string
		isBase64 bool
		want     string
		wantErr  bool
	}{
		{name: "file is encoded", path: archive, want: encoded},
		{name: "stdin raw", stdin: string(raw), path: "-", want: encoded},
		{name: "stdin base64 trimmed", stdin: "  " + encoded + "\n", path: "-", isBase64: true, want: encoded},
		{name: "empty stdin", path: "-", wantErr: true},
		{name: "missing file", path: filepath.Join(t.TempDir(), "nope.zip"), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := readPayload(strings.NewReader(tt.stdin), tt.path, tt.isBase64)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("payload mismatch: got %d chars, want %d", len(got), len(tt.want))
			}
		})
	}
}

func TestResultError(t *testing.T) {
	tests := []struct {
		kind core.Kind
		want int
	}{
		{core.KindDecode, exitInput},
		{core.KindInvalidDestination, exitInput},
		{core.KindAuth, exitFailure},
		{core.KindNoTables, exitFailure},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			err := resultError(core.Result{Kind: tt.kind, Message: "boom"})
			var exitErr *ExitError
			if !errors.As(err, &exitErr) {
				t.Fatalf("err = %T", err)
			}
			if exitErr.Code != tt.want {
				t.Errorf("code = %d, want %d", exitErr.Code, tt.want)
			}
			if exitErr.Error() != "boom" {
				t.Errorf("message = %q", exitErr.Error())
			}
		})
	}
}
