package blast

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/yumyai/gcap/pkg/model"
)

// ProcessRawOutput converts blastp's raw table at raw into the processed
// hit table (out1) and the probe prediction map (out2). It returns the
// parsed hits.
func ProcessRawOutput(raw, out1, out2 string) ([]model.Hit, error) {
	f, err := os.Open(raw)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, &model.MissingFileError{Path: raw}
	}
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", raw, err)
	}
	hits, err := model.ParseRawHits(f)
	f.Close()
	if err != nil {
		if e, ok := err.(*model.MalformedRowError); ok {
			e.Path = raw
		}
		return nil, err
	}

	if err := writeFile(out1, func(f *os.File) error { return model.WriteProcessedHits(f, hits) }); err != nil {
		return nil, err
	}
	if err := writeFile(out2, func(f *os.File) error { return model.WritePredictionMap(f, hits) }); err != nil {
		return nil, err
	}
	return hits, nil
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}
