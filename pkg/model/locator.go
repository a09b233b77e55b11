package model

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Directories under the input root reserved for pipeline output.
const OutputDirName = "output"

// Genome is one <genus>/<accession> directory of the input tree.
type Genome struct {
	Genus     string
	Accession string
	Dir       string
}

// Locator enumerates the genomes of a project.
type Locator interface {
	Genomes() ([]Genome, error)
}

// DirLocator finds genomes as <Root>/<genus>/<accession> directories.
// Only accession folders containing "GC" are kept.
type DirLocator struct {
	Root string
}

func (l DirLocator) Genomes() ([]Genome, error) {
	genera, err := os.ReadDir(l.Root)
	if err != nil {
		return nil, missingOr(l.Root, err)
	}

	var genomes []Genome
	for _, genus := range genera {
		if !genus.IsDir() || isOutputDir(genus.Name()) {
			continue
		}

		genusDir := filepath.Join(l.Root, genus.Name())
		accessions, err := os.ReadDir(genusDir)
		if err != nil {
			return nil, missingOr(genusDir, err)
		}

		for _, acc := range accessions {
			if !acc.IsDir() || !strings.Contains(acc.Name(), "GC") {
				continue
			}
			genomes = append(genomes, Genome{
				Genus:     genus.Name(),
				Accession: acc.Name(),
				Dir:       filepath.Join(genusDir, acc.Name()),
			})
		}
	}

	if len(genomes) == 0 {
		return nil, ErrNoGenomes
	}

	SortGenomes(genomes)
	return genomes, nil
}

func isOutputDir(name string) bool {
	return name == OutputDirName || strings.HasPrefix(name, OutputDirName)
}

// StaticLocator returns a fixed genome list, sorted.
type StaticLocator []Genome

func (l StaticLocator) Genomes() ([]Genome, error) {
	if len(l) == 0 {
		return nil, ErrNoGenomes
	}
	genomes := append([]Genome(nil), l...)
	SortGenomes(genomes)
	return genomes, nil
}

// SortGenomes orders genomes by genus, then accession.
func SortGenomes(genomes []Genome) {
	sort.SliceStable(genomes, func(i, j int) bool {
		if genomes[i].Genus != genomes[j].Genus {
			return genomes[i].Genus < genomes[j].Genus
		}
		return genomes[i].Accession < genomes[j].Accession
	})
}
