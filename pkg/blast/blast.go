package blast

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yumyai/gcap/internal/util"
	"github.com/yumyai/gcap/pkg/model"
)

// OutFmt is the tabular layout requested from blastp. model.ParseRawHits
// depends on it.
const OutFmt = "6 qseqid sseqid pident length mismatch gapopen qstart qend sstart send evalue bitscore"

// ExternalToolFailureError is returned when blastp or makeblastdb could not
// be started or exited non-zero.
type ExternalToolFailureError struct {
	Tool     string
	Args     []string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ExternalToolFailureError) Error() string {
	msg := fmt.Sprintf("%s failed (exit %d)", e.Tool, e.ExitCode)
	if s := strings.TrimSpace(e.Stderr); s != "" {
		msg += ": " + s
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *ExternalToolFailureError) Unwrap() error {
	return e.Err
}

// Runner invokes the BLAST+ executables.
type Runner struct {
	Blastp      string
	MakeBlastDB string
	Log         *zap.Logger
}

// NewRunner fills in default executable names.
func NewRunner(blastp, makeblastdb string, log *zap.Logger) *Runner {
	if blastp == "" {
		blastp = "blastp"
	}
	if makeblastdb == "" {
		makeblastdb = "makeblastdb"
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Runner{Blastp: blastp, MakeBlastDB: makeblastdb, Log: log}
}

// MakeDB indexes a protein FASTA into a BLAST database at dbPrefix.
func (r *Runner) MakeDB(ctx context.Context, fasta, dbPrefix, title string) error {
	args := []string{
		"-in", fasta,
		"-dbtype", "prot",
		"-hash_index",
		"-out", dbPrefix,
		"-title", fmt.Sprintf("%s DB", title),
	}
	return r.run(ctx, r.MakeBlastDB, args)
}

// SearchOptions configure one blastp search.
type SearchOptions struct {
	Query         string
	DB            string
	Out           string
	Threads       int
	MaxTargetSeqs int
	EValue        string
}

// Search runs blastp writing raw tabular output to opt.Out.
func (r *Runner) Search(ctx context.Context, opt SearchOptions) error {
	if opt.EValue == "" {
		opt.EValue = "0.001"
	}
	if opt.Threads < 1 {
		opt.Threads = 1
	}
	if opt.MaxTargetSeqs < 1 {
		opt.MaxTargetSeqs = 500
	}
	if !util.FileExists(opt.Query) {
		return &model.MissingFileError{Path: opt.Query}
	}

	args := []string{
		"-query", opt.Query,
		"-db", opt.DB,
		"-evalue", opt.EValue,
		"-outfmt", OutFmt,
		"-out", opt.Out,
		"-num_threads", strconv.Itoa(opt.Threads),
		"-max_target_seqs", strconv.Itoa(opt.MaxTargetSeqs),
	}
	return r.run(ctx, r.Blastp, args)
}

func (r *Runner) run(ctx context.Context, tool string, args []string) error {
	cmd := exec.CommandContext(ctx, tool, args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	r.Log.Debug("Running external tool", zap.String("tool", tool), zap.Strings("args", args))

	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &ExternalToolFailureError{
			Tool:     tool,
			Args:     args,
			ExitCode: code,
			Stderr:   stderr.String(),
			Err:      err,
		}
	}

	r.Log.Debug("External tool finished",
		zap.String("tool", tool),
		zap.Duration("elapsed", time.Since(start)),
	)
	return nil
}
