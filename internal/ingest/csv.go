package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cml-optimizer/internal/reconcile"
)

// CSVOptions configures the streaming CSV parser.
type CSVOptions struct {
	Delimiter  rune // default ','
	Comment    rune // comment character (0 = none)
	LazyQuotes bool
	TrimSpace  bool
}

// StreamCSV reads CSV records and sends them to a channel. Caller must
// consume the returned row channel. Both channels are closed when
// processing completes.
func StreamCSV(ctx context.Context, r io.Reader, opts CSVOptions) (<-chan []string, <-chan error) {
	rowCh := make(chan []string, 64)
	errCh := make(chan error, 1)

	go func() {
		defer close(rowCh)
		defer close(errCh)

		reader := csv.NewReader(r)
		if opts.Delimiter != 0 {
			reader.Comma = opts.Delimiter
		}
		if opts.Comment != 0 {
			reader.Comment = opts.Comment
		}
		reader.LazyQuotes = opts.LazyQuotes
		reader.FieldsPerRecord = -1 // allow variable fields

		for {
			if ctx.Err() != nil {
				errCh <- eris.Wrap(ctx.Err(), "ingest: csv: context cancelled")
				return
			}

			record, err := reader.Read()
			if err == io.EOF {
				return
			}
			if err != nil {
				errCh <- eris.Wrap(err, "ingest: csv: read row")
				return
			}

			if opts.TrimSpace {
				for i, field := range record {
					record[i] = strings.TrimSpace(field)
				}
			}

			select {
			case rowCh <- record:
			case <-ctx.Done():
				errCh <- eris.Wrap(ctx.Err(), "ingest: csv: context cancelled")
				return
			}
		}
	}()

	return rowCh, errCh
}

// ReadCSV reads a headed CSV into rows keyed through cmap. Blank lines
// are skipped.
func ReadCSV(ctx context.Context, r io.Reader, cmap ColumnMap) ([]reconcile.Row, error) {
	rowCh, errCh := StreamCSV(ctx, r, CSVOptions{TrimSpace: true})

	var (
		keys []string
		rows []reconcile.Row
	)
	for record := range rowCh {
		if keys == nil {
			keys = cmap.Resolve(record)
			continue
		}
		cells := make([]any, len(record))
		for i, v := range record {
			cells[i] = v
		}
		if isBlank(cells) {
			continue
		}
		rows = append(rows, buildRow(keys, cells))
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if keys == nil {
		return nil, eris.New("ingest: csv: missing header row")
	}
	return rows, nil
}
