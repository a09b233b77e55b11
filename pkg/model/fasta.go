package model

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// FastaLineWidth is the number of residues per sequence line.
const FastaLineWidth = 50

// WrapSequence cuts seq into lines of width characters. The last line may be
// shorter. An empty sequence yields no lines.
func WrapSequence(seq string, width int) []string {
	if width <= 0 {
		width = FastaLineWidth
	}
	lines := make([]string, 0, len(seq)/width+1)
	for i := 0; i < len(seq); i += width {
		end := i + width
		if end > len(seq) {
			end = len(seq)
		}
		lines = append(lines, seq[i:end])
	}
	return lines
}

// Binomial returns the first two whitespace separated tokens of a species
// display name.
func Binomial(species string) (genus, epithet string, err error) {
	tokens := strings.Fields(species)
	if len(tokens) < 2 {
		return "", "", fmt.Errorf("species %q has no genus and species tokens", species)
	}
	return tokens[0], tokens[1], nil
}

// FastaHeader builds the corpus header line (without '>'):
//
//	{protein_id}|{accession}|{genus}_{species} {gene} {product} [{full species}]
//
// blastp reports the part before the first space as the subject id, which
// is how hits get tagged with their genome.
func FastaHeader(rec AccessionRecord, accession, species string) (string, error) {
	genus, epithet, err := Binomial(species)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s|%s|%s_%s %s %s [%s]",
		rec.ProteinID, accession, genus, epithet, rec.Gene, rec.Product, species), nil
}

// WriteGenomeFasta writes one record per protein with a translation and
// returns how many were written.
func WriteGenomeFasta(w io.Writer, table *AccessionTable, accession string) (int, error) {
	bw := bufio.NewWriter(w)
	n := 0
	for _, rec := range table.Records {
		if rec.Translation == "" {
			continue
		}

		header, err := FastaHeader(rec, accession, table.Species)
		if err != nil {
			return n, &MalformedHeaderError{Path: accession, Msg: err.Error()}
		}

		bw.WriteString(">")
		bw.WriteString(header)
		bw.WriteString("\n")
		for _, line := range WrapSequence(rec.Translation, FastaLineWidth) {
			bw.WriteString(line)
			bw.WriteString("\n")
		}
		n++
	}
	return n, bw.Flush()
}
