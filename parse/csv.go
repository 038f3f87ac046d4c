package parse

import (
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/spkg/bom"
)

func init() {
	// LazyCSVReader required (at least) to survive sloppy use of
	// quotes. The BOM reader strips unicode BOMs if present.
	gocsv.SetCSVReader(func(in io.Reader) gocsv.CSVReader {
		return gocsv.LazyCSVReader(bom.NewReader(in))
	})
}

// RowError locates a problem in a feed file. Rows are counted from 1,
// excluding the header.
type RowError struct {
	File string
	Row  int
	Err  error
}

func (e *RowError) Error() string {
	return fmt.Sprintf("%s row %d: %s", e.File, e.Row, e.Err)
}

func (e *RowError) Unwrap() error {
	return e.Err
}

// Streams the records of a CSV file to fn, one at a time.
func eachRow[T any](file string, data io.Reader, fn func(rec *T) error) error {
	row := 0
	err := gocsv.UnmarshalToCallbackWithError(data, func(rec *T) error {
		row++
		if err := fn(rec); err != nil {
			return &RowError{File: file, Row: row, Err: err}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("reading %s: %w", file, err)
	}
	return nil
}

// Interprets a 0/1 column.
func flag(column string, v int8) (bool, error) {
	switch v {
	case 0:
		return false, nil
	case 1:
		return true, nil
	}
	return false, fmt.Errorf("invalid %s value '%d'", column, v)
}
