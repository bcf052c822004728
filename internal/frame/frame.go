// Package frame defines the tabular in-memory representation every vendor
// endpoint response is normalized into, plus the canonical checksum
// rendering used to detect changes between ingest runs (spec §3, §4.2).
package frame

import (
	"bytes"
	"crypto/md5"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"
)

// Row maps a column name to its cell value. Supported value types are nil,
// string, bool, int64, float64, and decimal.Decimal — the latter for
// financial columns that must not drift under floating point rendering.
type Row map[string]interface{}

// Frame is an ordered sequence of rows with a stable column ordering, as
// returned by one vendor endpoint call. Column order is part of the
// contract: it is preserved verbatim in the canonical CSV rendering.
type Frame struct {
	Columns []string
	Rows    []Row
}

// Empty reports whether the frame has no rows. An empty frame is a valid,
// successfully-fetched result (spec §4.3 "no_data" path), not an error.
func (f Frame) Empty() bool {
	return len(f.Rows) == 0
}

// emptyChecksum is the sentinel checksum for a frame with zero rows —
// spec §3: "The empty frame has the sentinel checksum `empty`."
const emptyChecksum = "empty"

// canonicalSortKeyPreference is the fixed preference order from which the
// sort-key subset is drawn (spec §3).
var canonicalSortKeyPreference = []string{"ts_code", "ann_date", "end_date", "trade_date"}

// sortKeys returns the columns this frame should be sorted by before
// checksumming: the preference-order subset that's present, or — if none
// of those columns exist — every column in lexicographic order.
func (f Frame) sortKeys() []string {
	var keys []string
	present := make(map[string]bool, len(f.Columns))
	for _, c := range f.Columns {
		present[c] = true
	}
	for _, k := range canonicalSortKeyPreference {
		if present[k] {
			keys = append(keys, k)
		}
	}
	if len(keys) > 0 {
		return keys
	}
	keys = append([]string(nil), f.Columns...)
	sort.Strings(keys)
	return keys
}

// Checksum computes the canonical MD5 checksum of the frame: select the
// sort-key subset, stable-sort by it, render as CSV with no index column
// and six-decimal float formatting, then take the hex MD5 digest of the
// UTF-8 bytes. It is a pure function of row content — row order in the
// input frame does not affect the result.
func Checksum(f Frame) string {
	if f.Empty() {
		return emptyChecksum
	}

	keys := f.sortKeys()
	rows := make([]Row, len(f.Rows))
	copy(rows, f.Rows)
	sort.SliceStable(rows, func(i, j int) bool {
		return lessRows(rows[i], rows[j], keys)
	})

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	_ = w.Write(f.Columns)
	for _, row := range rows {
		record := make([]string, len(f.Columns))
		for i, col := range f.Columns {
			record[i] = Render(row[col])
		}
		_ = w.Write(record)
	}
	w.Flush()

	sum := md5.Sum(buf.Bytes())
	return hex.EncodeToString(sum[:])
}

func lessRows(a, b Row, keys []string) bool {
	for _, k := range keys {
		c := compareValues(a[k], b[k])
		if c != 0 {
			return c < 0
		}
	}
	return false
}

func compareValues(a, b interface{}) int {
	as, aIsNumeric := numericString(a)
	bs, bIsNumeric := numericString(b)
	if aIsNumeric && bIsNumeric {
		af, _ := decimal.NewFromString(as)
		bf, _ := decimal.NewFromString(bs)
		return af.Cmp(bf)
	}
	ra, rb := Render(a), Render(b)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}

// numericString returns the value rendered for arithmetic comparison, and
// whether the value is actually numeric (as opposed to a string that
// merely looks numeric, e.g. a zero-padded date or instrument code).
func numericString(v interface{}) (string, bool) {
	switch t := v.(type) {
	case int64:
		return fmt.Sprintf("%d", t), true
	case int:
		return fmt.Sprintf("%d", t), true
	case float64:
		return fmt.Sprintf("%.6f", t), true
	case decimal.Decimal:
		return t.String(), true
	default:
		return "", false
	}
}

// Render renders a single cell the way pandas' to_csv would: nil as empty
// string, bools capitalized, floats fixed to six decimals. It is the sole
// source of truth for cell formatting — the storage layer's Parquet
// encoding reuses it so a partition's on-disk values and its checksum are
// always computed from the same textual rendering.
func Render(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		if t {
			return "True"
		}
		return "False"
	case int:
		return fmt.Sprintf("%d", t)
	case int64:
		return fmt.Sprintf("%d", t)
	case float64:
		return fmt.Sprintf("%.6f", t)
	case decimal.Decimal:
		return t.StringFixed(6)
	default:
		return fmt.Sprintf("%v", t)
	}
}
