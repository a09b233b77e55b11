package model

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Annotation table found in every genome directory.
const GenomeSummaryFile = "genome_summary.tsv"

// Columns an annotation table must carry. Others are ignored.
var accessionColumns = []string{
	"protein_id", "gene", "product", "translation", "contig", "strand", "start", "end",
}

// AccessionRecord is one annotated protein of a genome.
type AccessionRecord struct {
	ProteinID   string
	Gene        string
	Product     string
	Translation string
	Contig      string
	Strand      string
	Start       int
	End         int
}

// AccessionTable is the parsed genome_summary.tsv of one genome.
type AccessionTable struct {
	Species string
	Records []AccessionRecord
}

// Index maps protein_id to the position of its first record.
func (t *AccessionTable) Index() map[string]int {
	idx := make(map[string]int, len(t.Records))
	for i, rec := range t.Records {
		if _, ok := idx[rec.ProteinID]; !ok {
			idx[rec.ProteinID] = i
		}
	}
	return idx
}

// ReadAccessionTable loads <dir>/genome_summary.tsv.
func ReadAccessionTable(dir string) (*AccessionTable, error) {
	path := filepath.Join(dir, GenomeSummaryFile)

	f, err := os.Open(path)
	if err != nil {
		return nil, missingOr(path, err)
	}
	defer f.Close()

	return ParseAccessionTable(f, path)
}

// ParseAccessionTable reads an annotation table. name is only used in errors.
func ParseAccessionTable(r io.Reader, name string) (*AccessionTable, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}

	species, err := parseSpecies(lines, name)
	if err != nil {
		return nil, err
	}

	table := &AccessionTable{Species: species}

	var (
		cols  map[string]int
		width int
	)
	for i, line := range lines {
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}

		fields := strings.Split(line, "\t")

		// First non-comment line is the column header
		if cols == nil {
			cols, err = columnIndex(fields, name)
			if err != nil {
				return nil, err
			}
			width = len(fields)
			continue
		}

		rec, err := parseAccessionRow(fields, cols, width)
		if err != nil {
			return nil, &MalformedRowError{Path: name, Line: i + 1, Msg: err.Error()}
		}
		table.Records = append(table.Records, rec)
	}

	if cols == nil {
		return nil, &MalformedHeaderError{Path: name, Msg: "no column header row"}
	}

	return table, nil
}

// parseSpecies prefers a "# species: X" tag in the comment preamble and
// otherwise takes the second line of the file, which by convention is
// "# <species name>".
func parseSpecies(lines []string, name string) (string, error) {
	for _, line := range lines {
		if !strings.HasPrefix(line, "#") {
			break
		}
		body := strings.TrimSpace(strings.TrimPrefix(line, "#"))
		for _, tag := range []string{"species:", "species="} {
			if len(body) > len(tag) && strings.EqualFold(body[:len(tag)], tag) {
				if v := strings.TrimSpace(body[len(tag):]); v != "" {
					return v, nil
				}
			}
		}
	}

	if len(lines) < 2 {
		return "", &MalformedHeaderError{Path: name, Msg: fmt.Sprintf("expected at least 2 lines, got %d", len(lines))}
	}

	second := lines[1]
	if !strings.HasPrefix(second, "#") {
		return "", &MalformedHeaderError{Path: name, Msg: "line 2 is not a species comment"}
	}

	species := strings.TrimSpace(second[1:])
	if species == "" {
		return "", &MalformedHeaderError{Path: name, Msg: "empty species name on line 2"}
	}
	return species, nil
}

func columnIndex(header []string, name string) (map[string]int, error) {
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(h)] = i
	}

	for _, want := range accessionColumns {
		if _, ok := cols[want]; !ok {
			return nil, &MalformedHeaderError{Path: name, Msg: fmt.Sprintf("missing column %q", want)}
		}
	}
	return cols, nil
}

func parseAccessionRow(fields []string, cols map[string]int, width int) (AccessionRecord, error) {
	if len(fields) > width {
		return AccessionRecord{}, fmt.Errorf("expected %d fields, got %d", width, len(fields))
	}
	// Missing trailing cells are empty
	for len(fields) < width {
		fields = append(fields, "")
	}

	get := func(col string) string {
		return strings.TrimSpace(fields[cols[col]])
	}

	start, err := atoiOrZero(get("start"))
	if err != nil {
		return AccessionRecord{}, fmt.Errorf("start: %w", err)
	}
	end, err := atoiOrZero(get("end"))
	if err != nil {
		return AccessionRecord{}, fmt.Errorf("end: %w", err)
	}

	return AccessionRecord{
		ProteinID:   get("protein_id"),
		Gene:        get("gene"),
		Product:     get("product"),
		Translation: get("translation"),
		Contig:      get("contig"),
		Strand:      get("strand"),
		Start:       start,
		End:         end,
	}, nil
}

func atoiOrZero(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

// readLines splits r into lines without the trailing newline. Translations
// can be far longer than bufio.Scanner's default token size.
func readLines(r io.Reader) ([]string, error) {
	br := bufio.NewReader(r)
	var lines []string
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			lines = append(lines, strings.TrimRight(line, "\r\n"))
		}
		if err == io.EOF {
			return lines, nil
		}
		if err != nil {
			return nil, err
		}
	}
}
