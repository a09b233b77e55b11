package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config describes one project run.
type Config struct {
	ProjectName   string `yaml:"project_name"`
	Input         string `yaml:"input"`
	Data          string `yaml:"data"`
	SeqLib        string `yaml:"seqlib"`
	Threads       int    `yaml:"threads"`
	MaxTargetSeqs int    `yaml:"max_target_seqs"`
	EValue        string `yaml:"evalue"`
	Blastp        string `yaml:"blastp"`
	MakeBlastDB   string `yaml:"makeblastdb"`
	DBName        string `yaml:"db_name"`
	Ledger        string `yaml:"ledger"`
	LogLevel      string `yaml:"log_level"`
}

// Default returns the settings used when nothing else is given.
func Default() Config {
	return Config{
		ProjectName:   "gcap",
		Threads:       1,
		MaxTargetSeqs: 500,
		EValue:        "0.001",
		Blastp:        "blastp",
		MakeBlastDB:   "makeblastdb",
		DBName:        "lacto.aa",
		LogLevel:      "info",
	}
}

// LoadDotEnv loads .env into the process environment. A missing file is
// reported but not fatal.
func LoadDotEnv(files ...string) error {
	return godotenv.Load(files...)
}

// Load builds a Config from defaults, then the YAML file at path (if path
// is non-empty), then GCAP_* environment variables.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	strs := map[string]*string{
		"GCAP_PROJECT":     &c.ProjectName,
		"GCAP_INPUT":       &c.Input,
		"GCAP_DATA":        &c.Data,
		"GCAP_SEQLIB":      &c.SeqLib,
		"GCAP_EVALUE":      &c.EValue,
		"GCAP_BLASTP":      &c.Blastp,
		"GCAP_MAKEBLASTDB": &c.MakeBlastDB,
		"GCAP_DB_NAME":     &c.DBName,
		"GCAP_LEDGER":      &c.Ledger,
		"GCAP_LOG_LEVEL":   &c.LogLevel,
	}
	for key, dst := range strs {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"GCAP_THREADS":         &c.Threads,
		"GCAP_MAX_TARGET_SEQS": &c.MaxTargetSeqs,
	}
	for key, dst := range ints {
		v := os.Getenv(key)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

// Validate checks the settings needed by every stage.
func (c Config) Validate() error {
	var errs []error
	if c.Input == "" {
		errs = append(errs, errors.New("input directory is not set"))
	}
	if c.SeqLib == "" {
		errs = append(errs, errors.New("seqlib directory is not set"))
	}
	if c.Threads < 1 {
		errs = append(errs, fmt.Errorf("threads must be >= 1, got %d", c.Threads))
	}
	if c.MaxTargetSeqs < 1 {
		errs = append(errs, fmt.Errorf("max_target_seqs must be >= 1, got %d", c.MaxTargetSeqs))
	}
	return errors.Join(errs...)
}

// Derived paths inside the project.

func (c Config) ProbeFasta() string { return filepath.Join(c.Data, "probe.fasta") }
func (c Config) DBPrefix() string { return filepath.Join(c.SeqLib, c.DBName) }
func (c Config) CorpusFasta() string { return filepath.Join(c.SeqLib, "all.fasta") }
func (c Config) RawHits() string { return filepath.Join(c.SeqLib, "blast_raw.tsv") }
func (c Config) HitTable() string { return filepath.Join(c.SeqLib, "blast_output1.tsv") }
func (c Config) PredictionMap() string { return filepath.Join(c.SeqLib, "blast_output2.tsv") }

// LedgerPath defaults to <seqlib>/gcap.db.
func (c Config) LedgerPath() string {
	if c.Ledger != "" {
		return c.Ledger
	}
	return filepath.Join(c.SeqLib, "gcap.db")
}
