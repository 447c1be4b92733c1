// Package report persists a completed sweep in human-readable form: a
// tab-delimited text file with a commented metadata header, and a summary
// plot of the averaged signal against tau.
package report

import (
	"fmt"
	"io"
	"os"
	"time"
)

// Param is one metadata entry. Order is preserved in the header so saved
// files diff cleanly between runs.
type Param struct {
	Key   string
	Value string
}

// Metadata is the ordered parameter block written above the data columns.
type Metadata []Param

// Add appends a formatted parameter.
func (m *Metadata) Add(key, format string, v ...interface{}) {
	*m = append(*m, Param{Key: key, Value: fmt.Sprintf(format, v...)})
}

// Table is the column-oriented payload of a report file.
type Table struct {
	Columns []string
	Rows    [][]float64
}

// Write renders the metadata header followed by tab-separated columns.
// Every header line is prefixed with "# " so numpy.loadtxt skips it.
func Write(w io.Writer, generatedAt time.Time, meta Metadata, table Table) error {
	if _, err := fmt.Fprintf(w, "# saved: %s\n", generatedAt.Format(time.RFC3339)); err != nil {
		return err
	}
	for _, p := range meta {
		if _, err := fmt.Fprintf(w, "# %s: %s\n", p.Key, p.Value); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprint(w, "#\n"); err != nil {
		return err
	}

	// column header line
	if _, err := fmt.Fprint(w, "# "); err != nil {
		return err
	}
	for i, c := range table.Columns {
		sep := "\t"
		if i == len(table.Columns)-1 {
			sep = "\n"
		}
		if _, err := fmt.Fprint(w, c, sep); err != nil {
			return err
		}
	}

	for ri, row := range table.Rows {
		if len(row) != len(table.Columns) {
			return fmt.Errorf("row %d has %d values for %d columns", ri, len(row), len(table.Columns))
		}
		for i, v := range row {
			sep := "\t"
			if i == len(row)-1 {
				sep = "\n"
			}
			if _, err := fmt.Fprintf(w, "%.6e%s", v, sep); err != nil {
				return err
			}
		}
	}
	return nil
}

// WriteFile writes a report to path.
func WriteFile(path string, generatedAt time.Time, meta Metadata, table Table) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, generatedAt, meta, table); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
