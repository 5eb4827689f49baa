package ingest

import (
	"context"
	"encoding/csv"
	"io"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"navigator/internal/ingest/rows"
)

// RowProcessor handles one typed row. A returned error fails that row only.
type RowProcessor[T rows.Row] func(ctx context.Context, ic *IngestContext, row T) (RowOutcome, error)

// RowParser turns a raw row into a typed one.
type RowParser[T rows.Row] func(row int, raw map[string]string) (T, error)

// ReadHeader returns the cleaned header line of a csv.
func ReadHeader(src io.Reader) ([]string, error) {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "read csv header")
	}
	return cleanHeader(header), nil
}

func cleanHeader(header []string) []string {
	out := make([]string, len(header))
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		out[i] = strings.TrimSpace(h)
	}
	return out
}

// Read validates the header against schema, then feeds every data row to
// process in file order. A schema mismatch fails before any row is touched;
// after that a failing row is recorded and the next one is processed.
func Read[T rows.Row](ctx context.Context, src io.Reader, ic *IngestContext, schema rows.Schema, parse RowParser[T], process RowProcessor[T], log *zap.Logger) error {
	r := csv.NewReader(src)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return errors.Wrap(err, "read csv header")
	}
	header = cleanHeader(header)
	if err := schema.CheckHeader(header); err != nil {
		return err
	}

	for n := 1; ; n++ {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			ic.Rows++
			failRow(ic, log, n, errors.Wrap(err, "malformed csv"))
			continue
		}
		if blank(record) {
			continue
		}
		ic.Rows++
		raw := make(map[string]string, len(header))
		for i, h := range header {
			if i < len(record) {
				raw[h] = record[i]
			}
		}
		row, err := parse(n, raw)
		if err != nil {
			failRow(ic, log, n, err)
			continue
		}
		out, err := process(ctx, ic, row)
		if err != nil {
			failRow(ic, log, n, err)
			continue
		}
		out.Row = n
		ic.addOutcome(out)
	}
}

func failRow(ic *IngestContext, log *zap.Logger, n int, err error) {
	rowErr := &RowError{Row: n, Err: err}
	log.Warn("row failed", zap.Int("row", n), zap.String("org", ic.OrgName), zap.Error(err))
	ic.Add(Result{Type: ResultError, Details: rowErr.Error()})
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
