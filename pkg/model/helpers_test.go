package model

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const summaryHeader = "protein_id\tgene\tproduct\ttranslation\tcontig\tstrand\tstart\tend"

// writeGenome creates <root>/<genus>/<accession>/genome_summary.tsv with the
// conventional two comment lines followed by rows.
func writeGenome(t *testing.T, root, genus, accession, species string, rows ...string) Genome {
	t.Helper()

	dir := filepath.Join(root, genus, accession)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir %s: %v", dir, err)
	}

	content := "# " + accession + "\n# " + species + "\n" + summaryHeader + "\n" + strings.Join(rows, "\n") + "\n"
	if err := os.WriteFile(filepath.Join(dir, GenomeSummaryFile), []byte(content), 0o644); err != nil {
		t.Fatalf("write summary: %v", err)
	}
	return Genome{Genus: genus, Accession: accession, Dir: dir}
}

func row(fields ...string) string {
	return strings.Join(fields, "\t")
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(b)
}
