package query

import (
	"sort"
	"time"
)

// Merge assembles all sub-responses of one orchestration call into a
// single table. series and aggregates fix the column layout: series in
// requested order, and within each series the aggregates in requested
// order.
//
// A failed or malformed sub-response never aborts the merge; its cells
// stay missing and the reason lands in the table's failure report. The
// row axis is the union of every timestamp observed across successful
// sub-responses plus the grid implied by failed queries, re-sorted
// ascending regardless of arrival order. Should two sub-responses
// supply the same cell, the chronologically later sub-span wins.
func Merge(series []Series, aggregates []string, results []Result) *ResultTable {
	table := &ResultTable{
		Columns: make([]Column, 0, len(series)*len(aggregates)),
	}
	for _, s := range series {
		label := s.Label
		if label == "" {
			label = s.ID
		}
		for _, agg := range aggregates {
			table.Columns = append(table.Columns, Column{Series: label, Aggregate: agg})
		}
	}

	// Chronological processing order makes the later sub-span win on
	// duplicate cells, independent of arrival order.
	ordered := make([]Result, len(results))
	copy(ordered, results)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Query.Span.From.Before(ordered[j].Query.Span.From)
	})

	type extraction struct {
		query WireQuery
		chunk *seriesChunk
	}
	var extracted []extraction

	seen := make(map[int64]bool)
	for _, res := range ordered {
		if res.Err != nil {
			table.Failures = append(table.Failures, Failure{Query: res.Query, Err: res.Err})
			for _, t := range res.Query.Span.grid(res.Query.Interval) {
				seen[t.UnixNano()] = true
			}
			continue
		}
		chunk, err := res.Query.extract(res.Body)
		if err != nil {
			table.Failures = append(table.Failures, Failure{Query: res.Query, Err: err})
			for _, t := range res.Query.Span.grid(res.Query.Interval) {
				seen[t.UnixNano()] = true
			}
			continue
		}
		for _, t := range chunk.timestamps {
			seen[t.UnixNano()] = true
		}
		extracted = append(extracted, extraction{query: res.Query, chunk: chunk})
	}

	axis := make([]int64, 0, len(seen))
	for ns := range seen {
		axis = append(axis, ns)
	}
	sort.Slice(axis, func(i, j int) bool { return axis[i] < axis[j] })

	rowOf := make(map[int64]int, len(axis))
	table.Timestamps = make([]time.Time, len(axis))
	for i, ns := range axis {
		rowOf[ns] = i
		table.Timestamps[i] = time.Unix(0, ns).UTC()
	}

	table.cells = make([][]*float64, len(axis))
	for i := range table.cells {
		table.cells[i] = make([]*float64, len(table.Columns))
	}

	for _, ex := range extracted {
		for _, col := range ex.chunk.columns {
			colIdx := ex.query.SeriesIndex*len(aggregates) + col.aggIndex
			if colIdx < 0 || colIdx >= len(table.Columns) {
				continue
			}
			for pos, t := range ex.chunk.timestamps {
				if col.values[pos] == nil {
					continue
				}
				row := rowOf[t.UnixNano()]
				v := *col.values[pos]
				table.cells[row][colIdx] = &v
			}
		}
	}

	return table
}
