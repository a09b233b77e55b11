package model

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
)

// CorpusFile is the shared FASTA holding every genome's proteins.
const CorpusFile = "all.fasta"

// CorpusBuilder writes per-genome FASTA files and accumulates the same
// records into one corpus file. The corpus is truncated on open, so a
// rebuild never appends to a previous run. Close must always be called.
type CorpusBuilder struct {
	path    string
	f       *os.File
	w       *bufio.Writer
	records int
	log     *zap.Logger
}

// NewCorpusBuilder creates (or truncates) the corpus file at path.
func NewCorpusBuilder(path string, log *zap.Logger) (*CorpusBuilder, error) {
	if log == nil {
		log = zap.NewNop()
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create corpus %s: %w", path, err)
	}
	return &CorpusBuilder{path: path, f: f, w: bufio.NewWriter(f), log: log}, nil
}

// GenomeFastaPath is <dir>/<accession>.fasta.
func GenomeFastaPath(g Genome) string {
	return filepath.Join(g.Dir, g.Accession+".fasta")
}

// Add writes g's proteins to its own FASTA file and to the corpus. It
// returns the number of records written.
func (c *CorpusBuilder) Add(g Genome) (int, error) {
	table, err := ReadAccessionTable(g.Dir)
	if err != nil {
		return 0, err
	}

	var buf bytes.Buffer
	n, err := WriteGenomeFasta(&buf, table, g.Accession)
	if err != nil {
		return 0, err
	}

	out := GenomeFastaPath(g)
	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return 0, fmt.Errorf("write %s: %w", out, err)
	}

	// Only a genome that fully succeeded reaches the corpus
	if _, err := c.w.Write(buf.Bytes()); err != nil {
		return 0, fmt.Errorf("append to corpus %s: %w", c.path, err)
	}
	c.records += n

	c.log.Debug("Genome FASTA written",
		zap.String("accession", g.Accession),
		zap.String("species", table.Species),
		zap.Int("records", n),
	)
	return n, nil
}

// Records is the number of records appended so far.
func (c *CorpusBuilder) Records() int {
	return c.records
}

func (c *CorpusBuilder) Path() string {
	return c.path
}

// Close flushes and closes the corpus file. Calling it twice is safe.
func (c *CorpusBuilder) Close() error {
	if c.f == nil {
		return nil
	}
	flushErr := c.w.Flush()
	closeErr := c.f.Close()
	c.f = nil
	if flushErr != nil {
		return fmt.Errorf("flush corpus %s: %w", c.path, flushErr)
	}
	return closeErr
}
