package model

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"go.uber.org/zap"
)

// Output tables written into every genome directory.
const (
	ProbeBlastFile      = "probe_blast.tsv"
	ProbeBlastDedupFile = "probe_blast2.tsv"
)

// PartitionColumns is the header of probe_blast.tsv and probe_blast2.tsv.
var PartitionColumns = []string{"TarName", "Prediction", "contig", "protein_id", "strand", "start", "end"}

// PartitionRow is a hit joined with the protein it landed on.
type PartitionRow struct {
	TarName    string
	Prediction string
	Contig     string
	ProteinID  string
	Strand     string
	Start      int
	End        int
}

// PartitionResult holds both views of one genome's joined hits.
type PartitionResult struct {
	Full    []PartitionRow
	Dedup   []PartitionRow
	Dropped int
}

// Prediction strips the version suffix of a probe name: "NP_123.1" -> "NP_123".
func Prediction(tarName string) string {
	if i := strings.IndexByte(tarName, '.'); i >= 0 {
		return tarName[:i]
	}
	return tarName
}

// Partition sorts hits by qseqid (stable), inner joins them on
// sseqid == protein_id and derives the deduplicated view. Hits without a
// matching protein are counted in Dropped.
func Partition(hits []Hit, table *AccessionTable) PartitionResult {
	sorted := append([]Hit(nil), hits...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].QSeqID < sorted[j].QSeqID
	})

	idx := table.Index()
	var res PartitionResult
	for _, h := range sorted {
		i, ok := idx[h.SSeqID]
		if !ok {
			res.Dropped++
			continue
		}
		rec := table.Records[i]
		res.Full = append(res.Full, PartitionRow{
			TarName:    h.QSeqID,
			Prediction: Prediction(h.QSeqID),
			Contig:     rec.Contig,
			ProteinID:  rec.ProteinID,
			Strand:     rec.Strand,
			Start:      rec.Start,
			End:        rec.End,
		})
	}

	res.Dedup = DedupByProtein(res.Full)
	return res
}

// DedupByProtein keeps the first row of every protein_id.
func DedupByProtein(rows []PartitionRow) []PartitionRow {
	seen := make(map[string]struct{}, len(rows))
	var out []PartitionRow
	for _, r := range rows {
		if _, ok := seen[r.ProteinID]; ok {
			continue
		}
		seen[r.ProteinID] = struct{}{}
		out = append(out, r)
	}
	return out
}

// WritePartition writes the two comment lines naming the genome, then the
// table.
func WritePartition(w io.Writer, accession, species string, rows []PartitionRow) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "# %s\n# %s\n", accession, species)
	bw.WriteString(strings.Join(PartitionColumns, "\t"))
	bw.WriteString("\n")
	for _, r := range rows {
		fmt.Fprintf(bw, "%s\t%s\t%s\t%s\t%s\t%d\t%d\n",
			r.TarName, r.Prediction, r.Contig, r.ProteinID, r.Strand, r.Start, r.End)
	}
	return bw.Flush()
}

// PartitionStats summarises one genome.
type PartitionStats struct {
	Species string
	Hits    int
	Joined  int
	Dedup   int
	Dropped int
}

// Partitioner writes per-genome hit tables from a shared HitStore.
type Partitioner struct {
	Store *HitStore
	Log   *zap.Logger
}

// PartitionGenome writes probe_blast.tsv and probe_blast2.tsv for g,
// overwriting existing files. When hits exist but none join, both files
// are still written and a *JoinProducedEmptyResultError is returned with
// the stats.
func (p *Partitioner) PartitionGenome(g Genome) (PartitionStats, error) {
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}

	hits := p.Store.HitsFor(g.Accession)

	table, err := ReadAccessionTable(g.Dir)
	if err != nil {
		return PartitionStats{}, err
	}

	res := Partition(hits, table)
	stats := PartitionStats{
		Species: table.Species,
		Hits:    len(hits),
		Joined:  len(res.Full),
		Dedup:   len(res.Dedup),
		Dropped: res.Dropped,
	}

	if err := writePartitionFile(filepath.Join(g.Dir, ProbeBlastFile), g.Accession, table.Species, res.Full); err != nil {
		return stats, err
	}
	if err := writePartitionFile(filepath.Join(g.Dir, ProbeBlastDedupFile), g.Accession, table.Species, res.Dedup); err != nil {
		return stats, err
	}

	if res.Dropped > 0 {
		log.Debug("Hits without annotated protein dropped",
			zap.String("accession", g.Accession),
			zap.Int("dropped", res.Dropped),
		)
	}

	if len(hits) > 0 && len(res.Full) == 0 {
		return stats, &JoinProducedEmptyResultError{Accession: g.Accession, Hits: len(hits)}
	}
	return stats, nil
}

func writePartitionFile(path, accession, species string, rows []PartitionRow) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	if err := WritePartition(f, accession, species, rows); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
