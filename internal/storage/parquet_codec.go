package storage

import (
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/wisplidn/caiyuangungun-go/internal/frame"
)

// schemaFor builds a flat, all-string Parquet schema for f's columns. The
// core treats every vendor payload as an opaque tabular frame with no
// fixed column types (spec §1: "the core is schema-agnostic"); rather
// than infer a type per column — brittle across vendor schema drift and
// rows with sparse nulls — every cell is stored as the same canonical
// string rendering frame.Checksum already uses, so the on-disk value and
// the checksum are always derived from one formatting rule.
func schemaFor(columns []string) *parquet.Schema {
	group := parquet.Group{}
	for _, col := range columns {
		group[col] = parquet.String()
	}
	return parquet.NewSchema("partition", group)
}

// writeParquet encodes f to w, snappy-compressed, one column per frame
// column, every cell rendered via frame.Render.
func writeParquet(w io.Writer, f frame.Frame) error {
	schema := schemaFor(f.Columns)
	pw := parquet.NewGenericWriter[map[string]string](w, schema, parquet.Compression(&parquet.Snappy))

	rows := make([]map[string]string, len(f.Rows))
	for i, row := range f.Rows {
		rendered := make(map[string]string, len(f.Columns))
		for _, col := range f.Columns {
			rendered[col] = frame.Render(row[col])
		}
		rows[i] = rendered
	}

	if len(rows) > 0 {
		if _, err := pw.Write(rows); err != nil {
			return err
		}
	}
	return pw.Close()
}

// readParquet decodes a data.parquet file back into a Frame. The Parquet
// schema's own leaf-column order does not necessarily match the order the
// frame was originally written in (schemaFor builds the schema from a
// map), so the returned Frame.Columns is provisional — callers that care
// about column order (checksum verification) must restore it from
// metadata themselves.
func readParquet(path string) (frame.Frame, error) {
	f, err := os.Open(path)
	if err != nil {
		return frame.Frame{}, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return frame.Frame{}, err
	}

	pf, err := parquet.OpenFile(f, info.Size())
	if err != nil {
		return frame.Frame{}, err
	}

	columns := make([]string, 0, len(pf.Schema().Columns()))
	for _, path := range pf.Schema().Columns() {
		if len(path) > 0 {
			columns = append(columns, path[0])
		}
	}

	reader := parquet.NewGenericReader[map[string]string](f, pf.Schema())
	defer reader.Close()

	out := frame.Frame{Columns: columns}
	buf := make([]map[string]string, 128)
	for {
		n, err := reader.Read(buf)
		for i := 0; i < n; i++ {
			row := make(frame.Row, len(columns))
			for _, col := range columns {
				row[col] = buf[i][col]
			}
			out.Rows = append(out.Rows, row)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return frame.Frame{}, err
		}
		if n == 0 {
			break
		}
	}
	return out, nil
}
