package core

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/JonMunkholm/sheetdrop/internal/logging"
	"github.com/JonMunkholm/sheetdrop/internal/transfer"
)

// SuccessMessage is reported for a delivered artifact.
const SuccessMessage = "File processed and uploaded successfully."

// Transferrer delivers a local file. *transfer.Client implements it.
type Transferrer interface {
	Transfer(ctx context.Context, dest transfer.Destination, localPath string, plan transfer.AuthPlan) transfer.Result
}

// KeyPolicy decides what a supplied but unusable private key means.
type KeyPolicy int

const (
	// KeyPolicyFallback logs the problem and continues with the next
	// mechanism (password, then prompt).
	KeyPolicyFallback KeyPolicy = iota

	// KeyPolicyStrict fails the run at StageCredentials with KindAuth.
	KeyPolicyStrict
)

// DestinationInput holds the raw destination form values.
type DestinationInput struct {
	Host     string `json:"host"`
	Username string `json:"username"`
	Filename string `json:"filename"`
	Port     string `json:"port"`
}

// Parse validates the form values. No default port is ever substituted.
func (in DestinationInput) Parse() (transfer.Destination, error) {
	dest := transfer.Destination{
		Host:       strings.TrimSpace(in.Host),
		Username:   strings.TrimSpace(in.Username),
		RemotePath: strings.TrimSpace(in.Filename),
	}

	port, err := transfer.ParsePort(in.Port)
	if err != nil {
		return dest, newError(StageValidate, KindInvalidDestination, fmt.Errorf("invalid port: %w", err))
	}
	dest.Port = port

	if err := dest.Validate(); err != nil {
		return dest, newError(StageValidate, KindInvalidDestination, err)
	}
	return dest, nil
}

// Request is one delivery: what to convert, where to send it and with what.
type Request struct {
	Payload     string
	Destination DestinationInput
	Credential  transfer.Credential
}

// Result is the structured outcome of a run. On failure Stage and Kind name
// the first stage that failed; nothing after it ran.
type Result struct {
	OK       bool            `json:"ok"`
	RunID    string          `json:"run_id,omitempty"`
	Stage    Stage           `json:"stage,omitempty"`
	Kind     Kind            `json:"kind,omitempty"`
	Message  string          `json:"message"`
	Err      error           `json:"-"`
	WorkArea string          `json:"work_area,omitempty"` // Left on disk for the caller
	Artifact *Artifact       `json:"artifact,omitempty"`
	Transfer transfer.Result `json:"-"`
}

func (r *Result) fail(err error) {
	var e *Error
	if !errors.As(err, &e) {
		e = newError(StageNone, KindUnexpected, err)
		err = e
	}
	r.OK = false
	r.Stage = e.Stage
	r.Kind = e.Kind
	r.Err = err
	r.Message = FormatUserError(err)
}

// Pipeline sequences extract, locate, compose, credential resolution and
// transfer. It keeps no state between runs and is safe for concurrent use;
// every run gets its own WorkArea.
type Pipeline struct {
	extractor Extractor
	transfer  Transferrer
	keyPolicy KeyPolicy
}

// NewPipeline wires the stages. A nil Transferrer uses a transfer.Client
// with default settings.
func NewPipeline(x Extractor, t Transferrer, policy KeyPolicy) *Pipeline {
	if t == nil {
		t = transfer.NewClient(transfer.Config{})
	}
	return &Pipeline{extractor: x, transfer: t, keyPolicy: policy}
}

// Run executes the whole sequence once. The destination is validated before
// anything is written to disk. No compensating action is taken on failure:
// the WorkArea and any partial files stay behind.
func (p *Pipeline) Run(ctx context.Context, req Request) (res Result) {
	logger := logging.FromContext(ctx)
	defer func() { finish(ctx, &res) }()

	start := time.Now()
	dest, err := req.Destination.Parse()
	observeStage(StageValidate, start)
	if err != nil {
		res.fail(err)
		return res
	}

	if err := p.convert(ctx, req.Payload, &res); err != nil {
		res.fail(err)
		return res
	}
	logger = logger.With("run_id", res.RunID)

	start = time.Now()
	plan, key := transfer.Resolve(req.Credential)
	observeStage(StageCredentials, start)
	if err := p.checkKey(key); err != nil {
		res.fail(err)
		return res
	}
	if key.Outcome == transfer.KeyUnsupported || key.Outcome == transfer.KeyMalformed {
		logger.Warn("private key unusable, falling back",
			"key_outcome", key.Outcome.String(),
			"error", key.Err,
			"auth", plan.Method.String(),
		)
	}

	start = time.Now()
	tr := p.transfer.Transfer(ctx, dest, res.Artifact.Path, plan)
	observeStage(StageTransfer, start)
	res.Transfer = tr
	BytesUploadedTotal.Add(float64(tr.Bytes))

	if !tr.OK() {
		err := tr.Err
		if err == nil {
			err = fmt.Errorf("transfer failed: %s", tr.Cause)
		}
		res.fail(newError(StageTransfer, causeKind(tr.Cause), err))
		return res
	}

	res.OK = true
	res.Message = SuccessMessage
	return res
}

// Convert runs extract, locate and compose only.
func (p *Pipeline) Convert(ctx context.Context, payload string) (res Result) {
	defer func() { finish(ctx, &res) }()

	if err := p.convert(ctx, payload, &res); err != nil {
		res.fail(err)
		return res
	}
	res.OK = true
	res.Message = fmt.Sprintf("Workbook created with %d sheets.", len(res.Artifact.Sheets))
	return res
}

func (p *Pipeline) convert(ctx context.Context, payload string, res *Result) error {
	start := time.Now()
	area, err := p.extractor.Extract(ctx, payload)
	observeStage(StageExtract, start)
	if area != nil {
		res.RunID = area.ID
		res.WorkArea = area.Root
	}
	if err != nil {
		return err
	}

	start = time.Now()
	tables, err := Locate(ctx, area)
	observeStage(StageLocate, start)
	if err != nil {
		return err
	}

	start = time.Now()
	artifact, err := Compose(ctx, area, tables)
	observeStage(StageCompose, start)
	if err != nil {
		return err
	}
	SheetsComposedTotal.Add(float64(len(artifact.Sheets)))
	res.Artifact = artifact
	return nil
}

// checkKey applies the key policy to a key that was supplied but not loaded.
func (p *Pipeline) checkKey(key transfer.KeyLoad) error {
	if p.keyPolicy != KeyPolicyStrict {
		return nil
	}
	switch key.Outcome {
	case transfer.KeyUnsupported, transfer.KeyMalformed:
		return newError(StageCredentials, KindAuth, fmt.Errorf("%w: %w", ErrUnusableKey, key.Err))
	default:
		return nil
	}
}

// causeKind maps a transfer failure cause onto the pipeline taxonomy.
func causeKind(c transfer.Cause) Kind {
	switch c {
	case transfer.CauseAuth:
		return KindAuth
	case transfer.CauseConnection:
		return KindConnection
	case transfer.CauseLocalFileMissing:
		return KindLocalFileMissing
	case transfer.CauseRemotePath:
		return KindRemotePath
	default:
		return KindUnexpected
	}
}

func finish(ctx context.Context, res *Result) {
	recordRun(res)

	logger := logging.FromContext(ctx)
	if res.RunID != "" {
		logger = logger.With("run_id", res.RunID)
	}
	if res.OK {
		logger.Info("pipeline run succeeded", "work_area", res.WorkArea)
		return
	}
	logger.Error("pipeline run failed",
		"stage", res.Stage,
		"kind", res.Kind,
		"error", res.Err,
		"work_area", res.WorkArea,
	)
}
