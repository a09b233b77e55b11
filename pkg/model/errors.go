package model

import (
	"errors"
	"fmt"
	"io/fs"
)

// ErrNoGenomes is returned by a locator that found no genome directory.
var ErrNoGenomes = errors.New("no genome directories found")

// MissingFileError reports an expected input file that is absent.
type MissingFileError struct {
	Path string
}

func (e *MissingFileError) Error() string {
	return fmt.Sprintf("missing file: %s", e.Path)
}

func (e *MissingFileError) Unwrap() error {
	return fs.ErrNotExist
}

// MalformedHeaderError is returned when the comment preamble or column header
// of a table does not follow the expected layout.
type MalformedHeaderError struct {
	Path string
	Msg  string
}

func (e *MalformedHeaderError) Error() string {
	return fmt.Sprintf("malformed header in %s: %s", e.Path, e.Msg)
}

// MalformedRowError points at a data row that could not be decoded.
type MalformedRowError struct {
	Path string
	Line int
	Msg  string
}

func (e *MalformedRowError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("malformed row at line %d: %s", e.Line, e.Msg)
	}
	return fmt.Sprintf("malformed row %s:%d: %s", e.Path, e.Line, e.Msg)
}

// JoinProducedEmptyResultError means a genome had hits but none of them matched
// an annotated protein. Usually the hit organism ids and the directory
// accessions disagree.
type JoinProducedEmptyResultError struct {
	Accession string
	Hits      int
}

func (e *JoinProducedEmptyResultError) Error() string {
	return fmt.Sprintf("join of %d hits for %s produced no rows", e.Hits, e.Accession)
}

// missingOr converts a not-exist error from os.Open into a MissingFileError.
func missingOr(path string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return &MissingFileError{Path: path}
	}
	return fmt.Errorf("open %s: %w", path, err)
}
