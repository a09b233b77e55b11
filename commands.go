package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yumyai/gcap/internal/config"
	"github.com/yumyai/gcap/internal/util"
	"github.com/yumyai/gcap/logger"
	"github.com/yumyai/gcap/pkg/blast"
	"github.com/yumyai/gcap/pkg/db"
	"github.com/yumyai/gcap/pkg/pipeline"
)

type rootOptions struct {
	configFile string
	envFile    string
	input      string
	data       string
	seqlib     string
	threads    int
	maxTargets int
	logLevel   string
	noLedger   bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "gcap",
		Short:         "Build a protein corpus, BLAST probes against it and split hits per genome",
		Version:       VERSION,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configFile, "config", "c", "", "project YAML file")
	flags.StringVar(&opts.envFile, "env", ".env", "dotenv file to load")
	flags.StringVarP(&opts.input, "input", "i", "", "input directory (<genus>/<accession>/genome_summary.tsv)")
	flags.StringVarP(&opts.data, "data", "d", "", "data directory holding probe.fasta")
	flags.StringVarP(&opts.seqlib, "seqlib", "s", "", "directory for corpus, database and hit tables")
	flags.IntVarP(&opts.threads, "threads", "t", 0, "blastp -num_threads")
	flags.IntVar(&opts.maxTargets, "max-target-seqs", 0, "blastp -max_target_seqs")
	flags.StringVar(&opts.logLevel, "log-level", "", "debug, info, warn or error")
	flags.BoolVar(&opts.noLedger, "no-ledger", false, "do not record the run in the SQLite ledger")

	root.AddCommand(
		stageCmd(opts, "corpus", "Write per-genome FASTA files and all.fasta",
			func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Summary, error) { return p.BuildCorpus(ctx) }),
		stageCmd(opts, "makedb", "Build the corpus and index it with makeblastdb",
			func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Summary, error) { return p.MakeDB(ctx) }),
		stageCmd(opts, "blast", "Run blastp for the probes and split hits per genome",
			func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Summary, error) { return p.Blast(ctx) }),
		stageCmd(opts, "split", "Split an existing hit table per genome",
			func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Summary, error) { return p.Split(ctx) }),
		stageCmd(opts, "run", "Run every stage",
			func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Summary, error) { return p.Run(ctx) }),
	)
	return root
}

type stageFunc func(ctx context.Context, p *pipeline.Pipeline) (*pipeline.Summary, error)

func stageCmd(opts *rootOptions, name, short string, fn stageFunc) *cobra.Command {
	return &cobra.Command{
		Use:   name,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}

			if err := logger.InitLogger(logger.ParseLevel(cfg.LogLevel)); err != nil {
				return err
			}
			logger.Info("Start:", zap.String("Version", VERSION), zap.String("stage", name))

			if !util.DirExists(cfg.SeqLib) {
				if err := os.MkdirAll(cfg.SeqLib, 0o755); err != nil {
					return fmt.Errorf("create seqlib: %w", err)
				}
			}

			var ledger *db.Ledger
			if !opts.noLedger {
				ledger, err = db.Open(cfg.LedgerPath())
				if err != nil {
					logger.Warn("Ledger disabled", zap.Error(err))
					ledger = nil
				} else {
					defer ledger.Close()
				}
			}

			runner := blast.NewRunner(cfg.Blastp, cfg.MakeBlastDB, logger.L())
			p := pipeline.New(cfg, runner, ledger, logger.L())

			summary, err := fn(cmd.Context(), p)
			if summary != nil {
				fmt.Fprintln(cmd.OutOrStdout(), summary.String())
				for _, f := range summary.Failed {
					fmt.Fprintf(cmd.ErrOrStderr(), "  failed  %s\n", f.Error())
				}
				for _, w := range summary.Warnings {
					fmt.Fprintf(cmd.ErrOrStderr(), "  warning %s\n", w.Error())
				}
			}
			return err
		},
	}
}

// load resolves settings: defaults < YAML < environment (.env included) < flags.
func (o *rootOptions) load() (config.Config, error) {

	// Try load env
	if err := config.LoadDotEnv(o.envFile); err != nil {
		logger.Warn("No .env found, using local environment", zap.String("file", o.envFile))
	}

	cfg, err := config.Load(o.configFile)
	if err != nil {
		return cfg, err
	}

	if o.input != "" {
		cfg.Input = o.input
	}
	if o.data != "" {
		cfg.Data = o.data
	}
	if o.seqlib != "" {
		cfg.SeqLib = o.seqlib
	}
	if o.threads > 0 {
		cfg.Threads = o.threads
	}
	if o.maxTargets > 0 {
		cfg.MaxTargetSeqs = o.maxTargets
	}
	if o.logLevel != "" {
		cfg.LogLevel = o.logLevel
	}

	if cfg.Data == "" {
		logger.Warn("No data directory given, using the input directory")
		cfg.Data = cfg.Input
	}

	return cfg, cfg.Validate()
}
