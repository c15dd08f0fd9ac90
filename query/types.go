// Package query implements the query-and-aggregation core of the SDK:
// planning wire requests against the service's per-request limits,
// resolving series labels to canonical ids, and merging paginated
// responses into one time-indexed table.
//
// The package is transport-agnostic. Wire execution happens outside;
// the planner emits WireQuery values and the assembler consumes
// (WireQuery, payload-or-error) pairs, so completion order never
// affects the merged result.
package query

import "time"

// APIVersion selects the wire shape of the aggregation endpoint.
type APIVersion string

const (
	// APIVersionCurrent batches all requested aggregates into one call
	// per series and sub-span.
	APIVersionCurrent APIVersion = "2020-07-31"

	// APIVersionLegacy issues one call per aggregate; responses carry
	// exactly one value array each.
	APIVersionLegacy APIVersion = "2016-12-12"
)

// BatchesAggregates reports whether this version accepts all aggregates
// in a single request.
func (v APIVersion) BatchesAggregates() bool {
	return v != APIVersionLegacy
}

// MaxPointsPerQuery is the service's per-request row cap. Spans whose
// implied sample count exceeds it are chunked by the planner.
const MaxPointsPerQuery = 1000

// Series identifies one time series for querying. ID is the canonical
// identifier required on the wire; Label is the caller-facing name used
// for output columns (defaults to ID). ValueTSX is the variable
// expression of the series type; when empty a numeric default is used.
type Series struct {
	ID       string
	Label    string
	ValueTSX string
}

// TimeSpan is an inclusive-start, exclusive-end pair of absolute
// timestamps.
type TimeSpan struct {
	From time.Time
	To   time.Time
}

// NewTimeSpan builds the span [from, to).
func NewTimeSpan(from, to time.Time) TimeSpan {
	return TimeSpan{From: from.UTC(), To: to.UTC()}
}

// Validate reports ErrInvalidTimeSpan unless From is strictly before To.
func (s TimeSpan) Validate() error {
	if !s.From.Before(s.To) {
		return ErrInvalidTimeSpan
	}
	return nil
}

// Points is the number of samples the span yields at the given
// interval: ceil((To-From) / interval).
func (s TimeSpan) Points(iv Interval) int {
	d := s.To.Sub(s.From)
	step := iv.Duration()
	return int((d + step - 1) / step)
}

// grid materializes the sample timestamps the span implies at the given
// interval. Used to mark cells of a failed sub-request as missing. A
// non-positive interval yields no grid rather than looping forever.
func (s TimeSpan) grid(iv Interval) []time.Time {
	if iv.Duration() <= 0 {
		return nil
	}
	n := s.Points(iv)
	out := make([]time.Time, 0, n)
	for t := s.From; t.Before(s.To); t = t.Add(iv.Duration()) {
		out = append(out, t)
	}
	return out
}

// Column identifies one output column: the series label the caller
// requested and one aggregate applied to it. Duplicate aggregates
// produce duplicate columns; position in ResultTable.Columns is what
// distinguishes them.
type Column struct {
	Series    string
	Aggregate string
}

// Key renders the column as "series/aggregate" for display purposes.
func (c Column) Key() string {
	return c.Series + "/" + c.Aggregate
}

// WireQuery is one request unit emitted by the planner and executed
// exactly once by the transport. SeriesIndex and AggOffset anchor the
// query's cells in the final table so the assembler never has to guess
// from payload contents.
type WireQuery struct {
	SeriesIndex int
	Series      Series
	Span        TimeSpan
	Interval    Interval
	Aggregates  []string
	AggOffset   int
	WarmStore   bool
	Version     APIVersion
}

// Result pairs a WireQuery with its raw payload or the classified error
// its execution produced. Exactly one of Body and Err is meaningful.
type Result struct {
	Query WireQuery
	Body  []byte
	Err   error
}

// Failure records one WireQuery whose cells were degraded to missing,
// together with the reason.
type Failure struct {
	Query WireQuery
	Err   error
}

// ResultTable is the merged output of one orchestration call: a
// timestamp axis sorted strictly ascending, one column per requested
// (series, aggregate) pair in request order, and the list of partial
// failures that degraded cells to missing.
type ResultTable struct {
	Columns    []Column
	Timestamps []time.Time
	Failures   []Failure

	cells [][]*float64 // [row][column], nil marks a missing value
}

// NumRows returns the number of timestamps on the row axis.
func (t *ResultTable) NumRows() int { return len(t.Timestamps) }

// At returns the cell at (row, col) and whether it holds a value.
// Missing cells report ok == false and are never coerced to zero.
func (t *ResultTable) At(row, col int) (float64, bool) {
	v := t.cells[row][col]
	if v == nil {
		return 0, false
	}
	return *v, true
}
