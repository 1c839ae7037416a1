package zodbc

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/zodbc/zodbc/driver"
)

// appendTuples converts every row of rec into positional Go values and appends them to rows.
//
// Cells are converted by driver.Value and copied out of the Arrow buffers, so they stay valid after the
// record is released.
func appendTuples(rows [][]any, rec arrow.Record) ([][]any, error) {
	nrows := int(rec.NumRows())
	ncols := int(rec.NumCols())

	// one backing slice for the whole batch, each row gets a disjoint window of it
	cells := make([]any, nrows*ncols)
	for c := 0; c < ncols; c++ {
		col := rec.Column(c)
		for r := 0; r < nrows; r++ {
			v, err := driver.Value(col, r)
			if err != nil {
				return rows, fmt.Errorf("column %d (%s) row %d: %w", c, rec.ColumnName(c), r, err)
			}
			cells[r*ncols+c] = v
		}
	}

	for r := 0; r < nrows; r++ {
		rows = append(rows, cells[r*ncols:(r+1)*ncols:(r+1)*ncols])
	}
	return rows, nil
}
