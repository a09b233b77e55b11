package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yumyai/gcap/internal/config"
	"github.com/yumyai/gcap/pkg/blast"
	"github.com/yumyai/gcap/pkg/db"
	"github.com/yumyai/gcap/pkg/model"
)

// Stage names, as recorded in the ledger.
const (
	StageCorpus = "corpus"
	StageSplit  = "split"
	StageRun    = "run"
)

// ErrEmptyCorpus is returned when no genome contributed a protein to the
// corpus, so there is nothing to index.
var ErrEmptyCorpus = errors.New("corpus has no protein records")

// Tools is the external BLAST+ surface used by the pipeline.
type Tools interface {
	MakeDB(ctx context.Context, fasta, dbPrefix, title string) error
	Search(ctx context.Context, opt blast.SearchOptions) error
}

// Pipeline runs the corpus, database, search and split stages over the
// genomes returned by Locator. Stages run one after another; a failing
// genome is recorded and skipped.
type Pipeline struct {
	Config  config.Config
	Locator model.Locator
	Tools   Tools
	Ledger  *db.Ledger // optional
	Log     *zap.Logger
}

// New builds a pipeline locating genomes under cfg.Input.
func New(cfg config.Config, tools Tools, ledger *db.Ledger, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		Config:  cfg,
		Locator: model.DirLocator{Root: cfg.Input},
		Tools:   tools,
		Ledger:  ledger,
		Log:     log,
	}
}

// BuildCorpus writes every genome's FASTA and the shared corpus file. The
// error combines genome failures unless the stage itself failed.
func (p *Pipeline) BuildCorpus(ctx context.Context) (*Summary, error) {
	return withGenomeErrs(p.buildCorpus(ctx))
}

func (p *Pipeline) buildCorpus(ctx context.Context) (*Summary, error) {
	p.Log.Info("<< creating input FASTA...")

	if err := os.MkdirAll(p.Config.SeqLib, 0o755); err != nil {
		return nil, fmt.Errorf("create seqlib: %w", err)
	}

	genomes, err := p.Locator.Genomes()
	if err != nil {
		return nil, err
	}

	corpus, err := model.NewCorpusBuilder(p.Config.CorpusFasta(), p.Log)
	if err != nil {
		return nil, err
	}
	defer corpus.Close()

	r := p.begin(ctx, StageCorpus, len(genomes))
	for _, g := range genomes {
		if err := ctx.Err(); err != nil {
			return p.abort(ctx, r, err)
		}

		n, err := corpus.Add(g)
		res := db.GenomeResult{Accession: g.Accession, Genus: g.Genus, Hits: n}
		if err != nil {
			p.Log.Error("Genome FASTA failed", zap.String("accession", g.Accession), zap.Error(err))
			r.summary.fail(g, err)
			res.Status, res.Message = db.StatusFailed, err.Error()
		} else {
			r.summary.Succeeded++
			res.Status = db.StatusOK
		}
		p.record(ctx, r, res)
	}

	if err := corpus.Close(); err != nil {
		return p.abort(ctx, r, err)
	}

	p.Log.Info("Corpus written",
		zap.String("path", corpus.Path()),
		zap.Int("records", corpus.Records()),
		zap.Int("genomes", r.summary.Succeeded),
	)
	if corpus.Records() == 0 {
		return p.abort(ctx, r, ErrEmptyCorpus)
	}
	return p.finish(ctx, r)
}

// MakeDB builds the corpus and indexes it with makeblastdb. Per-genome
// corpus failures do not stop the database build; they are returned in the
// summary.
func (p *Pipeline) MakeDB(ctx context.Context) (*Summary, error) {
	p.Log.Info("<< making blastdb...")

	summary, err := p.makeDB(ctx)
	if err != nil {
		return summary, err
	}
	return summary, summary.Err()
}

func (p *Pipeline) makeDB(ctx context.Context) (*Summary, error) {
	summary, err := p.buildCorpus(ctx)
	if err != nil {
		return summary, err
	}
	if err := p.Tools.MakeDB(ctx, p.Config.CorpusFasta(), p.Config.DBPrefix(), p.Config.ProjectName); err != nil {
		return summary, err
	}
	return summary, nil
}

// Search runs blastp for the project probes and writes the processed hit
// table and prediction map. A failed blastp aborts before any output is
// read.
func (p *Pipeline) Search(ctx context.Context) (int, error) {
	p.Log.Info("<< running blastp...")

	cfg := p.Config
	err := p.Tools.Search(ctx, blast.SearchOptions{
		Query:         cfg.ProbeFasta(),
		DB:            cfg.DBPrefix(),
		Out:           cfg.RawHits(),
		Threads:       cfg.Threads,
		MaxTargetSeqs: cfg.MaxTargetSeqs,
		EValue:        cfg.EValue,
	})
	if err != nil {
		return 0, err
	}

	hits, err := blast.ProcessRawOutput(cfg.RawHits(), cfg.HitTable(), cfg.PredictionMap())
	if err != nil {
		return 0, err
	}

	p.Log.Info("Hit table written", zap.String("path", cfg.HitTable()), zap.Int("hits", len(hits)))
	return len(hits), nil
}

// Split partitions the processed hit table into probe_blast.tsv and
// probe_blast2.tsv in every genome directory.
func (p *Pipeline) Split(ctx context.Context) (*Summary, error) {
	return withGenomeErrs(p.split(ctx))
}

func (p *Pipeline) split(ctx context.Context) (*Summary, error) {
	store, err := model.LoadHitStore(p.Config.HitTable())
	if err != nil {
		return nil, err
	}

	genomes, err := p.Locator.Genomes()
	if err != nil {
		return nil, err
	}

	p.warnOrphanOrgIDs(store, genomes)

	part := &model.Partitioner{Store: store, Log: p.Log}
	r := p.begin(ctx, StageSplit, len(genomes))
	for _, g := range genomes {
		if err := ctx.Err(); err != nil {
			return p.abort(ctx, r, err)
		}

		stats, err := part.PartitionGenome(g)
		res := db.GenomeResult{
			Accession: g.Accession,
			Genus:     g.Genus,
			Species:   stats.Species,
			Hits:      stats.Hits,
			Joined:    stats.Joined,
			Dedup:     stats.Dedup,
			Dropped:   stats.Dropped,
			Status:    db.StatusOK,
		}

		var empty *model.JoinProducedEmptyResultError
		switch {
		case errors.As(err, &empty):
			p.Log.Warn("No hit joined an annotated protein",
				zap.String("accession", g.Accession),
				zap.Int("hits", stats.Hits),
			)
			r.summary.warn(g, err)
			r.summary.Succeeded++
			res.Status, res.Message = db.StatusWarning, err.Error()
		case err != nil:
			p.Log.Error("Split failed", zap.String("accession", g.Accession), zap.Error(err))
			r.summary.fail(g, err)
			res.Status, res.Message = db.StatusFailed, err.Error()
		default:
			r.summary.Succeeded++
			if stats.Dropped > 0 {
				p.Log.Warn("Hits dropped by join",
					zap.String("accession", g.Accession),
					zap.Int("dropped", stats.Dropped),
					zap.Int("joined", stats.Joined),
				)
			}
		}
		p.record(ctx, r, res)
	}

	return p.finish(ctx, r)
}

// Blast runs Search then Split and logs the elapsed time.
func (p *Pipeline) Blast(ctx context.Context) (*Summary, error) {
	return withGenomeErrs(p.blast(ctx))
}

func (p *Pipeline) blast(ctx context.Context) (*Summary, error) {
	start := time.Now()

	if _, err := p.Search(ctx); err != nil {
		return nil, err
	}
	summary, err := p.split(ctx)

	p.Log.Info("   └── blastp complete",
		zap.Float64("elapsed_min", roundMinutes(time.Since(start))),
	)
	return summary, err
}

// Run executes every stage. The returned summary covers the whole run: a
// genome counts as succeeded only if neither the corpus nor the split
// stage failed it.
func (p *Pipeline) Run(ctx context.Context) (*Summary, error) {
	corpus, err := p.makeDB(ctx)
	if err != nil {
		return corpus, err
	}

	split, err := p.blast(ctx)
	if split == nil {
		return corpus, err
	}

	return withGenomeErrs(mergeSummaries(StageRun, corpus, split), err)
}

// warnOrphanOrgIDs reports organism ids in the hit table with no genome
// directory; their hits can never be partitioned.
func (p *Pipeline) warnOrphanOrgIDs(store *model.HitStore, genomes []model.Genome) {
	known := make(map[string]bool, len(genomes))
	for _, g := range genomes {
		known[g.Accession] = true
	}
	for _, id := range store.OrgIDs() {
		if !known[id] {
			p.Log.Warn("Hits for organism without genome directory",
				zap.String("orgid", id),
				zap.Int("hits", len(store.HitsFor(id))),
			)
		}
	}
}

// run tracks one ledger entry.
type run struct {
	summary *Summary
	ledger  bool
}

func (p *Pipeline) begin(ctx context.Context, stage string, genomes int) *run {
	r := &run{summary: &Summary{RunID: uuid.NewString(), Stage: stage, Genomes: genomes}}
	if p.Ledger != nil {
		if err := p.Ledger.StartRun(ctx, r.summary.RunID, p.Config.ProjectName, stage); err != nil {
			p.Log.Warn("Ledger unavailable, continuing without it", zap.Error(err))
		} else {
			r.ledger = true
		}
	}
	p.Log.Info("Stage started",
		zap.String("stage", stage),
		zap.String("run_id", r.summary.RunID),
		zap.Int("genomes", genomes),
	)
	return r
}

func (p *Pipeline) record(ctx context.Context, r *run, res db.GenomeResult) {
	if !r.ledger {
		return
	}
	res.RunID = r.summary.RunID
	if err := p.Ledger.RecordGenome(ctx, res); err != nil {
		p.Log.Warn("Ledger write failed", zap.String("accession", res.Accession), zap.Error(err))
	}
}

func (p *Pipeline) finish(ctx context.Context, r *run) (*Summary, error) {
	s := r.summary
	status := db.StatusOK
	switch {
	case len(s.Failed) > 0:
		status = db.StatusFailed
	case len(s.Warnings) > 0:
		status = db.StatusWarning
	}
	p.closeRun(ctx, r, status)

	if len(s.Failed) > 0 {
		p.Log.Warn("Stage finished with failures", zap.String("summary", s.String()))
	} else {
		p.Log.Info("Stage finished", zap.String("summary", s.String()))
	}
	return s, nil
}

func (p *Pipeline) abort(ctx context.Context, r *run, err error) (*Summary, error) {
	p.closeRun(context.WithoutCancel(ctx), r, db.StatusFailed)
	return r.summary, err
}

func (p *Pipeline) closeRun(ctx context.Context, r *run, status string) {
	if !r.ledger {
		return
	}
	if err := p.Ledger.FinishRun(ctx, r.summary.RunID, status); err != nil {
		p.Log.Warn("Ledger write failed", zap.String("run_id", r.summary.RunID), zap.Error(err))
	}
}

// withGenomeErrs passes a stage error through, or else surfaces the
// summary's genome failures as the error.
func withGenomeErrs(s *Summary, err error) (*Summary, error) {
	if err != nil || s == nil {
		return s, err
	}
	return s, s.Err()
}

func roundMinutes(d time.Duration) float64 {
	return float64(int64(d.Minutes()*1000+0.5)) / 1000
}
