package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yumyai/gcap/internal/config"
	"github.com/yumyai/gcap/pkg/blast"
	"github.com/yumyai/gcap/pkg/db"
	"github.com/yumyai/gcap/pkg/model"
)

// fakeTools stands in for BLAST+; Search writes raw to the requested output.
type fakeTools struct {
	raw       string
	makeDBErr error
	searchErr error
	dbCalls   []string
	searches  []blast.SearchOptions
}

func (f *fakeTools) MakeDB(_ context.Context, fasta, dbPrefix, title string) error {
	f.dbCalls = append(f.dbCalls, fasta+" "+dbPrefix+" "+title)
	return f.makeDBErr
}

func (f *fakeTools) Search(_ context.Context, opt blast.SearchOptions) error {
	f.searches = append(f.searches, opt)
	if f.searchErr != nil {
		return f.searchErr
	}
	return os.WriteFile(opt.Out, []byte(f.raw), 0o644)
}

type project struct {
	cfg   config.Config
	tools *fakeTools
}

func newProject(t *testing.T) *project {
	t.Helper()
	root := t.TempDir()

	cfg := config.Default()
	cfg.ProjectName = "test"
	cfg.Input = filepath.Join(root, "input")
	cfg.Data = filepath.Join(root, "data")
	cfg.SeqLib = filepath.Join(root, "seqlib")

	require.NoError(t, os.MkdirAll(cfg.Data, 0o755))
	require.NoError(t, os.WriteFile(cfg.ProbeFasta(), []byte(">probe1.v1\nMKTAYIAK\n"), 0o644))

	return &project{cfg: cfg, tools: &fakeTools{}}
}

func (p *project) genome(t *testing.T, genus, accession, species string, rows ...string) string {
	t.Helper()
	dir := filepath.Join(p.cfg.Input, genus, accession)
	require.NoError(t, os.MkdirAll(dir, 0o755))

	content := "# " + accession + "\n# " + species + "\n" +
		"protein_id\tgene\tproduct\ttranslation\tcontig\tstrand\tstart\tend\n" +
		strings.Join(rows, "\n") + "\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, model.GenomeSummaryFile), []byte(content), 0o644))
	return dir
}

func (p *project) pipeline(t *testing.T, ledger *db.Ledger) *Pipeline {
	return New(p.cfg, p.tools, ledger, nil)
}

func hitLine(qseqid, protein, accession string) string {
	return qseqid + "\t" + protein + "|" + accession + "|Lactobacillus_acidophilus\t98.5\t100\t1\t0\t10\t109\t5\t104\t1e-50\t200\n"
}

func TestRun_EndToEnd(t *testing.T) {
	p := newProject(t)
	dir := p.genome(t, "Lacto", "GCF_000001", "Lactobacillus acidophilus ATCC 4356",
		"P1\tabc\tkinase\tMKTAYIAK\tNC_1\t+\t100\t400",
	)
	p.tools.raw = hitLine("probe1.v1", "P1", "GCF_000001")

	ledger, err := db.Open(filepath.Join(t.TempDir(), "gcap.db"))
	require.NoError(t, err)
	defer ledger.Close()

	summary, err := p.pipeline(t, ledger).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Empty(t, summary.Failed)

	// Corpus and database
	corpus, err := os.ReadFile(p.cfg.CorpusFasta())
	require.NoError(t, err)
	assert.Equal(t, ">P1|GCF_000001|Lactobacillus_acidophilus abc kinase [Lactobacillus acidophilus ATCC 4356]\nMKTAYIAK\n", string(corpus))
	assert.FileExists(t, filepath.Join(dir, "GCF_000001.fasta"))
	require.Len(t, p.tools.dbCalls, 1)
	assert.Equal(t, p.cfg.CorpusFasta()+" "+p.cfg.DBPrefix()+" test", p.tools.dbCalls[0])

	// Search used the project settings
	require.Len(t, p.tools.searches, 1)
	assert.Equal(t, p.cfg.ProbeFasta(), p.tools.searches[0].Query)
	assert.Equal(t, 500, p.tools.searches[0].MaxTargetSeqs)
	assert.FileExists(t, p.cfg.HitTable())
	assert.FileExists(t, p.cfg.PredictionMap())

	got, err := os.ReadFile(filepath.Join(dir, model.ProbeBlastFile))
	require.NoError(t, err)
	assert.Equal(t, "# GCF_000001\n# Lactobacillus acidophilus ATCC 4356\n"+
		"TarName\tPrediction\tcontig\tprotein_id\tstrand\tstart\tend\n"+
		"probe1.v1\tprobe1\tNC_1\tP1\t+\t100\t400\n", string(got))
	assert.FileExists(t, filepath.Join(dir, model.ProbeBlastDedupFile))

	results, err := ledger.GenomeResults(context.Background(), summary.RunID)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, db.StatusOK, results[0].Status)
	assert.Equal(t, 1, results[0].Joined)

	status, err := ledger.RunStatus(context.Background(), summary.RunID)
	require.NoError(t, err)
	assert.Equal(t, db.StatusOK, status)
}

func TestSplit_IsolatesGenomeFailures(t *testing.T) {
	p := newProject(t)
	p.genome(t, "Lacto", "GCF_000001", "Lactobacillus acidophilus",
		"P1\tabc\tkinase\tMK\tNC_1\t+\t100\t400",
	)
	p.genome(t, "Lacto", "GCF_000002", "Lactobacillus casei",
		"Q1\tabc\tkinase\tMK\tNC_2\t-\t1\t90",
	)
	// A genome directory without an annotation table
	broken := filepath.Join(p.cfg.Input, "Lacto", "GCF_000000")
	require.NoError(t, os.MkdirAll(broken, 0o755))

	require.NoError(t, os.MkdirAll(p.cfg.SeqLib, 0o755))
	hits := []model.Hit{
		{QSeqID: "probe1", SSeqID: "P1", OrgID: "GCF_000001", Length: 100, QStart: 1, QEnd: 100},
		{QSeqID: "probe2", SSeqID: "NOT_ANNOTATED", OrgID: "GCF_000002", Length: 100, QStart: 1, QEnd: 100},
		{QSeqID: "probe3", SSeqID: "X", OrgID: "GCF_ORPHAN", Length: 100, QStart: 1, QEnd: 100},
	}
	f, err := os.Create(p.cfg.HitTable())
	require.NoError(t, err)
	require.NoError(t, model.WriteProcessedHits(f, hits))
	require.NoError(t, f.Close())

	summary, err := p.pipeline(t, nil).Split(context.Background())
	require.Error(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, 3, summary.Genomes)
	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, []string{"GCF_000000"}, summary.FailedAccessions())

	var missing *model.MissingFileError
	assert.True(t, errors.As(err, &missing), "combined error should expose the genome failure: %v", err)

	require.Len(t, summary.Warnings, 1)
	var empty *model.JoinProducedEmptyResultError
	assert.True(t, errors.As(summary.Warnings[0].Err, &empty))
	assert.Equal(t, "GCF_000002", summary.Warnings[0].Genome.Accession)

	// The healthy genome was still written
	assert.FileExists(t, filepath.Join(p.cfg.Input, "Lacto", "GCF_000001", model.ProbeBlastFile))
	assert.Contains(t, summary.String(), "1 failed (GCF_000000)")
}

func TestBlast_ToolFailureAborts(t *testing.T) {
	p := newProject(t)
	p.genome(t, "Lacto", "GCF_000001", "Lactobacillus acidophilus",
		"P1\tabc\tkinase\tMK\tNC_1\t+\t100\t400",
	)
	require.NoError(t, os.MkdirAll(p.cfg.SeqLib, 0o755))

	// Stale output from an earlier run must not be picked up
	require.NoError(t, os.WriteFile(p.cfg.RawHits(), []byte(hitLine("old", "P1", "GCF_000001")), 0o644))
	p.tools.searchErr = &blast.ExternalToolFailureError{Tool: "blastp", ExitCode: 2}

	summary, err := p.pipeline(t, nil).Blast(context.Background())

	var toolErr *blast.ExternalToolFailureError
	require.True(t, errors.As(err, &toolErr), "got %v", err)
	assert.Nil(t, summary)
	assert.NoFileExists(t, p.cfg.HitTable())
	assert.NoFileExists(t, filepath.Join(p.cfg.Input, "Lacto", "GCF_000001", model.ProbeBlastFile))
}

func TestMakeDB_Failures(t *testing.T) {
	t.Run("ToolFails", func(t *testing.T) {
		p := newProject(t)
		p.genome(t, "Lacto", "GCF_000001", "Lactobacillus acidophilus",
			"P1\tabc\tkinase\tMK\tNC_1\t+\t100\t400",
		)
		p.tools.makeDBErr = &blast.ExternalToolFailureError{Tool: "makeblastdb", ExitCode: 1}

		_, err := p.pipeline(t, nil).Run(context.Background())
		var toolErr *blast.ExternalToolFailureError
		require.True(t, errors.As(err, &toolErr))
		assert.Empty(t, p.tools.searches, "search must not run after a failed database build")
	})

	t.Run("EmptyCorpus", func(t *testing.T) {
		p := newProject(t)
		p.genome(t, "Lacto", "GCF_000001", "Lactobacillus acidophilus",
			"P1\tabc\tkinase\t\tNC_1\t+\t100\t400",
		)

		_, err := p.pipeline(t, nil).MakeDB(context.Background())
		require.ErrorIs(t, err, ErrEmptyCorpus)
		assert.Empty(t, p.tools.dbCalls)
	})

	t.Run("NoGenomes", func(t *testing.T) {
		p := newProject(t)
		require.NoError(t, os.MkdirAll(p.cfg.Input, 0o755))

		_, err := p.pipeline(t, nil).MakeDB(context.Background())
		require.ErrorIs(t, err, model.ErrNoGenomes)
	})
}

func TestBuildCorpus_SkipsBrokenGenome(t *testing.T) {
	p := newProject(t)
	p.genome(t, "Lacto", "GCF_000002", "Lactobacillus casei",
		"Q1\tg\tp\tMQQ\tNC_2\t-\t1\t9",
	)
	p.genome(t, "Bifido", "GCA_000001", "Bifidobacterium",
		"B1\tg\tp\tMAA\tNC_3\t+\t1\t9",
	)

	summary, err := p.pipeline(t, nil).BuildCorpus(context.Background())
	require.Error(t, err)
	assert.Equal(t, []string{"GCA_000001"}, summary.FailedAccessions())

	corpus, err := os.ReadFile(p.cfg.CorpusFasta())
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(corpus), ">"))
	assert.Contains(t, string(corpus), "Q1|GCF_000002|Lactobacillus_casei")
}

func TestRun_CountsCorpusFailures(t *testing.T) {
	p := newProject(t)
	p.genome(t, "Lacto", "GCF_000002", "Lactobacillus casei",
		"Q1\tg\tp\tMQQ\tNC_2\t-\t1\t9",
	)
	// Single-token species: no FASTA header can be built, but the table splits
	p.genome(t, "Bifido", "GCA_000001", "Bifidobacterium",
		"B1\tg\tp\tMAA\tNC_3\t+\t1\t9",
	)
	p.tools.raw = hitLine("probe1.v1", "Q1", "GCF_000002")

	summary, err := p.pipeline(t, nil).Run(context.Background())
	require.Error(t, err)
	require.NotNil(t, summary)

	assert.Equal(t, StageRun, summary.Stage)
	assert.Equal(t, 2, summary.Genomes)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, []string{"GCA_000001"}, summary.FailedAccessions())
	assert.Equal(t, "run: 1/2 genomes ok, 1 failed (GCA_000001)", summary.String())
}

func TestMergeSummaries_CountsGenomeOnce(t *testing.T) {
	g := model.Genome{Genus: "Lacto", Accession: "GCF_1"}
	corpus := &Summary{RunID: "a", Stage: StageCorpus, Genomes: 3, Succeeded: 2}
	corpus.fail(g, errors.New("corpus"))
	split := &Summary{RunID: "b", Stage: StageSplit, Genomes: 3, Succeeded: 2}
	split.fail(g, errors.New("split"))

	merged := mergeSummaries(StageRun, corpus, split)
	assert.Equal(t, "b", merged.RunID)
	assert.Equal(t, 2, merged.Succeeded)
	assert.Len(t, merged.Failed, 2)
	assert.Equal(t, "run: 2/3 genomes ok, 1 failed (GCF_1)", merged.String())
}

func TestSplit_Cancelled(t *testing.T) {
	p := newProject(t)
	p.genome(t, "Lacto", "GCF_000001", "Lactobacillus acidophilus",
		"P1\tabc\tkinase\tMK\tNC_1\t+\t100\t400",
	)
	require.NoError(t, os.MkdirAll(p.cfg.SeqLib, 0o755))
	require.NoError(t, os.WriteFile(p.cfg.HitTable(), []byte(strings.Join(model.ProcessedHitColumns, "\t")+"\n"), 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.pipeline(t, nil).Split(ctx)
	require.ErrorIs(t, err, context.Canceled)
}
