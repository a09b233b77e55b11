package model

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Columns of the processed hit table, in file order.
var ProcessedHitColumns = []string{
	"qseqid", "sseqid", "orgid", "orgname",
	"pident", "length", "mismatch", "gapopen",
	"qstart", "qend", "sstart", "send",
	"evalue", "bitscore", "coverage",
}

// Number of columns emitted by blastp with the outfmt used by the pipeline.
const rawHitColumns = 12

// Hit is one alignment of a probe against a corpus protein. The corpus
// FASTA headers carry "protein|accession|organism", so blastp reports
// qseqid|sseqid|orgid|orgname across its first two columns.
type Hit struct {
	QSeqID   string
	SSeqID   string
	OrgID    string
	OrgName  string
	PIdent   float64
	Length   int
	Mismatch int
	GapOpen  int
	QStart   int
	QEnd     int
	SStart   int
	SEnd     int
	EValue   float64
	BitScore float64
	Coverage float64
}

// Coverage is the percentage of the alignment length spanned on the query,
// rounded to 3 decimals. Exact ties round to even.
func Coverage(qstart, qend, length int) float64 {
	if length == 0 {
		return 0
	}
	v := float64(qend-qstart+1) / float64(length) * 100
	f, _ := strconv.ParseFloat(strconv.FormatFloat(v, 'f', 3, 64), 64)
	return f
}

// ParseRawHits reads blastp tabular output (12 columns, no header). The
// subject id is itself "sseqid|orgid|orgname", so qseqid and sseqid together
// form the pipe-joined composite qseqid|sseqid|orgid|orgname.
func ParseRawHits(r io.Reader) ([]Hit, error) {
	var hits []Hit
	err := eachLine(r, func(n int, line string) error {
		fields := strings.Split(line, "\t")
		if len(fields) != rawHitColumns {
			return &MalformedRowError{Line: n, Msg: fmt.Sprintf("expected %d fields, got %d", rawHitColumns, len(fields))}
		}

		ids, err := splitComposite(fields[0] + "|" + fields[1])
		if err != nil {
			return &MalformedRowError{Line: n, Msg: err.Error()}
		}

		h, err := parseStats(ids, fields[2:])
		if err != nil {
			return &MalformedRowError{Line: n, Msg: err.Error()}
		}
		hits = append(hits, h)
		return nil
	})
	return hits, err
}

// splitComposite splits "qseqid|sseqid|orgid|orgname" into its four parts.
func splitComposite(s string) ([]string, error) {
	parts := strings.Split(s, "|")
	if len(parts) != 4 {
		return nil, fmt.Errorf("composite id %q has %d parts, want 4", s, len(parts))
	}
	return parts, nil
}

// ReadProcessedHits reads a table written by WriteProcessedHits. A table
// without the coverage column is accepted and coverage is derived.
func ReadProcessedHits(r io.Reader) ([]Hit, error) {
	var hits []Hit
	header := true
	err := eachLine(r, func(n int, line string) error {
		fields := strings.Split(line, "\t")
		if header {
			header = false
			if fields[0] != "qseqid" {
				return &MalformedHeaderError{Msg: fmt.Sprintf("unexpected first column %q", fields[0])}
			}
			return nil
		}

		if len(fields) != len(ProcessedHitColumns) && len(fields) != len(ProcessedHitColumns)-1 {
			return &MalformedRowError{Line: n, Msg: fmt.Sprintf("expected %d fields, got %d", len(ProcessedHitColumns), len(fields))}
		}

		h, err := parseStats(fields[:4], fields[4:14])
		if err != nil {
			return &MalformedRowError{Line: n, Msg: err.Error()}
		}
		if len(fields) == len(ProcessedHitColumns) {
			if h.Coverage, err = strconv.ParseFloat(fields[14], 64); err != nil {
				return &MalformedRowError{Line: n, Msg: fmt.Sprintf("coverage: %v", err)}
			}
		}
		hits = append(hits, h)
		return nil
	})
	return hits, err
}

// parseStats builds a Hit from the four ids and the ten numeric columns
// pident..bitscore.
func parseStats(ids []string, stats []string) (Hit, error) {
	h := Hit{
		QSeqID:  ids[0],
		SSeqID:  ids[1],
		OrgID:   ids[2],
		OrgName: ids[3],
	}

	var err error
	floats := []struct {
		dst  *float64
		name string
		src  string
	}{
		{&h.PIdent, "pident", stats[0]},
		{&h.EValue, "evalue", stats[8]},
		{&h.BitScore, "bitscore", stats[9]},
	}
	for _, f := range floats {
		if *f.dst, err = strconv.ParseFloat(strings.TrimSpace(f.src), 64); err != nil {
			return h, fmt.Errorf("%s: %w", f.name, err)
		}
	}

	ints := []struct {
		dst  *int
		name string
		src  string
	}{
		{&h.Length, "length", stats[1]},
		{&h.Mismatch, "mismatch", stats[2]},
		{&h.GapOpen, "gapopen", stats[3]},
		{&h.QStart, "qstart", stats[4]},
		{&h.QEnd, "qend", stats[5]},
		{&h.SStart, "sstart", stats[6]},
		{&h.SEnd, "send", stats[7]},
	}
	for _, i := range ints {
		if *i.dst, err = strconv.Atoi(strings.TrimSpace(i.src)); err != nil {
			return h, fmt.Errorf("%s: %w", i.name, err)
		}
	}

	h.Coverage = Coverage(h.QStart, h.QEnd, h.Length)
	return h, nil
}

// WriteProcessedHits writes hits with the fixed 15-column header.
func WriteProcessedHits(w io.Writer, hits []Hit) error {
	bw := bufio.NewWriter(w)
	bw.WriteString(strings.Join(ProcessedHitColumns, "\t"))
	bw.WriteString("\n")
	for _, h := range hits {
		fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%s\t%s\t%s\n",
			h.QSeqID, h.SSeqID, h.OrgID, h.OrgName,
			formatFloat(h.PIdent), h.Length, h.Mismatch, h.GapOpen,
			h.QStart, h.QEnd, h.SStart, h.SEnd,
			formatFloat(h.EValue), formatFloat(h.BitScore), formatFloat(h.Coverage),
		)
	}
	return bw.Flush()
}

// WritePredictionMap writes the probe to protein table (Prediction,
// Accession, Query) used to look up which protein each probe landed on.
func WritePredictionMap(w io.Writer, hits []Hit) error {
	bw := bufio.NewWriter(w)
	bw.WriteString("Prediction\tAccession\tQuery\n")
	for _, h := range hits {
		fmt.Fprintf(bw, "%s\t%s\t%s\n", Prediction(h.QSeqID), h.SSeqID, h.QSeqID)
	}
	return bw.Flush()
}

// formatFloat writes the shortest form of f, keeping ".0" on whole numbers
// and switching to exponent form below 1e-4 or from 1e16.
func formatFloat(f float64) string {
	if abs := math.Abs(f); abs != 0 && (abs < 1e-4 || abs >= 1e16) {
		return strconv.FormatFloat(f, 'e', -1, 64)
	}
	s := strconv.FormatFloat(f, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

// HitStore holds the global hit table grouped by organism id.
type HitStore struct {
	byOrg map[string][]Hit
	total int
}

// NewHitStore groups hits by OrgID, keeping file order within each group.
func NewHitStore(hits []Hit) *HitStore {
	s := &HitStore{byOrg: make(map[string][]Hit), total: len(hits)}
	for _, h := range hits {
		s.byOrg[h.OrgID] = append(s.byOrg[h.OrgID], h)
	}
	return s
}

// LoadHitStore reads a processed hit table from disk.
func LoadHitStore(path string) (*HitStore, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, missingOr(path, err)
	}
	defer f.Close()

	hits, err := ReadProcessedHits(f)
	if err != nil {
		return nil, withPath(path, err)
	}
	return NewHitStore(hits), nil
}

// HitsFor returns the hits of one organism in table order. The returned
// slice is a copy.
func (s *HitStore) HitsFor(orgID string) []Hit {
	return append([]Hit(nil), s.byOrg[orgID]...)
}

// OrgIDs lists every organism id present, sorted.
func (s *HitStore) OrgIDs() []string {
	ids := make([]string, 0, len(s.byOrg))
	for id := range s.byOrg {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (s *HitStore) Len() int {
	return s.total
}

// eachLine calls fn for every non-empty line, numbered from 1.
func eachLine(r io.Reader, fn func(n int, line string) error) error {
	lines, err := readLines(r)
	if err != nil {
		return err
	}
	for i, line := range lines {
		if strings.TrimSpace(line) == "" {
			continue
		}
		if err := fn(i+1, line); err != nil {
			return err
		}
	}
	return nil
}

// withPath fills in the file name on parse errors raised from a reader.
func withPath(path string, err error) error {
	switch e := err.(type) {
	case *MalformedRowError:
		e.Path = path
	case *MalformedHeaderError:
		e.Path = path
	}
	return err
}
