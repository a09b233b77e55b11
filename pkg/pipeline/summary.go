package pipeline

import (
	"fmt"
	"strings"

	"go.uber.org/multierr"

	"github.com/yumyai/gcap/pkg/model"
)

// GenomeFailure is a genome that could not be processed, or one that was
// processed with a warning.
type GenomeFailure struct {
	Genome model.Genome
	Err    error
}

func (f GenomeFailure) Error() string {
	return fmt.Sprintf("%s/%s: %v", f.Genome.Genus, f.Genome.Accession, f.Err)
}

func (f GenomeFailure) Unwrap() error {
	return f.Err
}

// Summary reports the outcome of one stage over all genomes.
type Summary struct {
	RunID     string
	Stage     string
	Genomes   int
	Succeeded int
	Failed    []GenomeFailure
	Warnings  []GenomeFailure
}

func (s *Summary) fail(g model.Genome, err error) {
	s.Failed = append(s.Failed, GenomeFailure{Genome: g, Err: err})
}

func (s *Summary) warn(g model.Genome, err error) {
	s.Warnings = append(s.Warnings, GenomeFailure{Genome: g, Err: err})
}

// Err combines every genome failure, or returns nil when all succeeded.
// Warnings are not included.
func (s *Summary) Err() error {
	var err error
	for _, f := range s.Failed {
		err = multierr.Append(err, f)
	}
	return err
}

// FailedAccessions lists the accessions that failed, in processing order,
// each once.
func (s *Summary) FailedAccessions() []string {
	seen := make(map[string]bool, len(s.Failed))
	out := make([]string, 0, len(s.Failed))
	for _, f := range s.Failed {
		if seen[f.Genome.Accession] {
			continue
		}
		seen[f.Genome.Accession] = true
		out = append(out, f.Genome.Accession)
	}
	return out
}

// mergeSummaries folds stage summaries into one. The last summary's run id
// is kept; Genomes is the largest genome count seen and Succeeded excludes
// every genome failed by any stage.
func mergeSummaries(stage string, parts ...*Summary) *Summary {
	merged := &Summary{Stage: stage}
	for _, s := range parts {
		merged.RunID = s.RunID
		if s.Genomes > merged.Genomes {
			merged.Genomes = s.Genomes
		}
		merged.Failed = append(merged.Failed, s.Failed...)
		merged.Warnings = append(merged.Warnings, s.Warnings...)
	}
	merged.Succeeded = merged.Genomes - len(merged.FailedAccessions())
	return merged
}

func (s *Summary) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d/%d genomes ok", s.Stage, s.Succeeded, s.Genomes)
	if len(s.Warnings) > 0 {
		fmt.Fprintf(&b, ", %d with warnings", len(s.Warnings))
	}
	if len(s.Failed) > 0 {
		failed := s.FailedAccessions()
		fmt.Fprintf(&b, ", %d failed (%s)", len(failed), strings.Join(failed, ", "))
	}
	return b.String()
}
