package vendorclient

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/wisplidn/caiyuangungun-go/internal/frame"
)

// pageOverlap is the number of rows the offset is stepped back by between
// pages, so that a vendor-side row inserted between two fetches can't slip
// through the page boundary unseen. The reference client hard-codes this
// at 100 rather than computing it from page size; we keep that fixed
// constant rather than "fixing" it, since there is no evidence it needs to
// scale with limit_max and changing it would shift behavior no caller has
// asked for.
const pageOverlap = 100

// fetchPage performs one raw page fetch through the retrying, rate
// -limited, circuit-broken transport.
type fetchPage func(offset, limit int) (frame.Frame, error)

// paginate drives the offset/limit loop for one paginated endpoint: fetch
// pages of up to limit rows, advancing the offset by (rows fetched -
// pageOverlap) each time, until a page returns fewer rows than the page
// size (the last page) or an empty page. Pages are concatenated and then
// deduplicated by full-row identity, since the overlap window causes the
// last pageOverlap rows of one page to reappear at the head of the next.
func paginate(limit int, fetch fetchPage) (frame.Frame, error) {
	var allRows []frame.Row
	var columns []string
	offset := 0

	for {
		page, err := fetch(offset, limit)
		if err != nil {
			return frame.Frame{}, err
		}
		if page.Empty() {
			break
		}
		if columns == nil {
			columns = page.Columns
		}
		allRows = append(allRows, page.Rows...)

		n := len(page.Rows)
		if n < limit {
			break
		}
		offset += n - pageOverlap
		if offset < 0 {
			offset = 0
		}
	}

	if len(allRows) == 0 {
		return frame.Frame{Columns: columns}, nil
	}
	return frame.Frame{Columns: columns, Rows: dedupRows(columns, allRows)}, nil
}

// dedupRows drops rows that are byte-for-byte identical to one already
// kept, preserving first-seen order, so the overlap window used to defend
// against missed inserts doesn't leave duplicate rows in the merged frame.
func dedupRows(columns []string, rows []frame.Row) []frame.Row {
	seen := make(map[string]struct{}, len(rows))
	out := make([]frame.Row, 0, len(rows))
	for _, row := range rows {
		key := rowKey(columns, row)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, row)
	}
	return out
}

func rowKey(columns []string, row frame.Row) string {
	sorted := append([]string(nil), columns...)
	sort.Strings(sorted)
	key := ""
	for _, c := range sorted {
		key += c + "=" + fmt.Sprintf("%v", row[c]) + "\x1f"
	}
	return key
}

func paramWithOffsetLimit(params map[string]string, offset, limit int) map[string]string {
	out := make(map[string]string, len(params)+2)
	for k, v := range params {
		out[k] = v
	}
	out["offset"] = strconv.Itoa(offset)
	out["limit"] = strconv.Itoa(limit)
	return out
}
