package query_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsanalytics/tsigo/query"
)

func fp(v float64) *float64 { return &v }

// wireBody builds a response payload for the aggregation endpoint.
// props maps the projected variable name to its value array.
func wireBody(t *testing.T, timestamps []time.Time, names []string, values [][]*float64) []byte {
	t.Helper()
	ts := make([]string, len(timestamps))
	for i, v := range timestamps {
		ts[i] = v.Format(time.RFC3339Nano)
	}
	props := make([]map[string]interface{}, len(names))
	for i, name := range names {
		props[i] = map[string]interface{}{
			"name":   name,
			"type":   "Double",
			"values": values[i],
		}
	}
	raw, err := json.Marshal(map[string]interface{}{
		"timestamps": ts,
		"properties": props,
	})
	require.NoError(t, err)
	return raw
}

func grid(from time.Time, step time.Duration, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = from.Add(time.Duration(i) * step)
	}
	return out
}

func planOne(t *testing.T, series []query.Series, s query.TimeSpan, aggregates []string) []query.WireQuery {
	t.Helper()
	iv, err := query.ParseInterval("PT5M")
	require.NoError(t, err)
	queries, err := query.Plan(series, s, iv, aggregates, false, query.APIVersionCurrent)
	require.NoError(t, err)
	return queries
}

func TestMergeTwoSeries(t *testing.T) {
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s := query.NewTimeSpan(from, from.Add(15*time.Minute))
	series := []query.Series{{ID: "A", Label: "A"}, {ID: "B", Label: "B"}}

	queries := planOne(t, series, s, []string{"avg"})
	require.Len(t, queries, 2)

	ts := grid(from, 5*time.Minute, 3)
	results := []query.Result{
		{Query: queries[0], Body: wireBody(t, ts, []string{"avg_0"}, [][]*float64{{fp(1), fp(2), fp(3)}})},
		{Query: queries[1], Body: wireBody(t, ts, []string{"avg_0"}, [][]*float64{{fp(10), fp(20), fp(30)}})},
	}

	table := query.Merge(series, []string{"avg"}, results)
	require.Equal(t, 3, table.NumRows())
	require.Len(t, table.Columns, 2)
	assert.Equal(t, query.Column{Series: "A", Aggregate: "avg"}, table.Columns[0])
	assert.Equal(t, query.Column{Series: "B", Aggregate: "avg"}, table.Columns[1])
	assert.Equal(t, ts, table.Timestamps)
	assert.Empty(t, table.Failures)

	for i, want := range []float64{1, 2, 3} {
		v, ok := table.At(i, 0)
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
	for i, want := range []float64{10, 20, 30} {
		v, ok := table.At(i, 1)
		require.True(t, ok)
		assert.Equal(t, want, v)
	}
}

func TestMergeOrderIndependent(t *testing.T) {
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s := query.NewTimeSpan(from, from.Add(10000*time.Minute))
	series := []query.Series{{ID: "A", Label: "A"}}

	iv, err := query.ParseInterval("PT1M")
	require.NoError(t, err)
	queries, err := query.Plan(series, s, iv, []string{"avg"}, false, query.APIVersionCurrent)
	require.NoError(t, err)
	require.Greater(t, len(queries), 1)

	results := make([]query.Result, len(queries))
	for i, q := range queries {
		n := q.Span.Points(iv)
		ts := grid(q.Span.From, time.Minute, n)
		values := make([]*float64, n)
		for j := range values {
			values[j] = fp(float64(i*10000 + j))
		}
		results[i] = query.Result{Query: q, Body: wireBody(t, ts, []string{"avg_0"}, [][]*float64{values})}
	}

	forward := query.Merge(series, []string{"avg"}, results)

	reversed := make([]query.Result, len(results))
	for i, r := range results {
		reversed[len(results)-1-i] = r
	}
	backward := query.Merge(series, []string{"avg"}, reversed)

	require.Equal(t, forward.Timestamps, backward.Timestamps)
	for i := range forward.Timestamps {
		fv, fok := forward.At(i, 0)
		bv, bok := backward.At(i, 0)
		assert.Equal(t, fok, bok)
		assert.Equal(t, fv, bv)
	}
}

func TestMergeAxisStrictlyAscending(t *testing.T) {
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s := query.NewTimeSpan(from, from.Add(2000*time.Minute))
	series := []query.Series{{ID: "A", Label: "A"}}

	iv, err := query.ParseInterval("PT1M")
	require.NoError(t, err)
	queries, err := query.Plan(series, s, iv, []string{"avg"}, false, query.APIVersionCurrent)
	require.NoError(t, err)

	var results []query.Result
	for _, q := range queries {
		n := q.Span.Points(iv)
		ts := grid(q.Span.From, time.Minute, n)
		values := make([]*float64, n)
		results = append(results, query.Result{Query: q, Body: wireBody(t, ts, []string{"avg_0"}, [][]*float64{values})})
	}

	table := query.Merge(series, []string{"avg"}, results)
	require.Equal(t, 2000, table.NumRows())
	for i := 1; i < table.NumRows(); i++ {
		assert.True(t, table.Timestamps[i-1].Before(table.Timestamps[i]), "axis must be strictly ascending")
	}
}

func TestMergePartialFailure(t *testing.T) {
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s := query.NewTimeSpan(from, from.Add(15*time.Minute))
	series := []query.Series{{ID: "A", Label: "A"}, {ID: "B", Label: "B"}}

	queries := planOne(t, series, s, []string{"avg"})
	require.Len(t, queries, 2)

	ts := grid(from, 5*time.Minute, 3)
	bang := fmt.Errorf("server_error (status 500)")
	results := []query.Result{
		{Query: queries[0], Body: wireBody(t, ts, []string{"avg_0"}, [][]*float64{{fp(1), fp(2), fp(3)}})},
		{Query: queries[1], Err: bang},
	}

	table := query.Merge(series, []string{"avg"}, results)
	require.Equal(t, 3, table.NumRows())
	require.Len(t, table.Failures, 1)
	assert.Equal(t, "B", table.Failures[0].Query.Series.ID)
	assert.Equal(t, bang, table.Failures[0].Err)

	for i := 0; i < 3; i++ {
		_, ok := table.At(i, 0)
		assert.True(t, ok, "succeeding series keeps its values")
		_, ok = table.At(i, 1)
		assert.False(t, ok, "failing series degrades to missing")
	}
}

func TestMergeFailedResultZeroInterval(t *testing.T) {
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	series := []query.Series{{ID: "A", Label: "A"}}

	// A hand-built result whose query never went through Plan carries
	// the zero interval; its failure must not stall the merge.
	q := query.WireQuery{
		SeriesIndex: 0,
		Series:      series[0],
		Span:        query.NewTimeSpan(from, from.Add(10*time.Minute)),
		Aggregates:  []string{"avg"},
		Version:     query.APIVersionCurrent,
	}
	table := query.Merge(series, []string{"avg"}, []query.Result{
		{Query: q, Err: errors.New("boom")},
	})

	require.Len(t, table.Failures, 1)
	assert.Equal(t, 0, table.NumRows(), "no interval implies no grid rows")
}

func TestMergeMalformedResponseScoped(t *testing.T) {
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s := query.NewTimeSpan(from, from.Add(15*time.Minute))
	series := []query.Series{{ID: "A", Label: "A"}, {ID: "B", Label: "B"}}

	queries := planOne(t, series, s, []string{"avg"})
	ts := grid(from, 5*time.Minute, 3)

	results := []query.Result{
		// Value array shorter than the timestamp axis.
		{Query: queries[0], Body: wireBody(t, ts, []string{"avg_0"}, [][]*float64{{fp(1), fp(2)}})},
		{Query: queries[1], Body: wireBody(t, ts, []string{"avg_0"}, [][]*float64{{fp(10), fp(20), fp(30)}})},
	}

	table := query.Merge(series, []string{"avg"}, results)
	require.Len(t, table.Failures, 1)
	var malformed *query.MalformedResponseError
	assert.True(t, errors.As(table.Failures[0].Err, &malformed))

	// The healthy sub-response still contributes.
	v, ok := table.At(0, 1)
	require.True(t, ok)
	assert.Equal(t, 10.0, v)
}

func TestMergeNullValuesStayMissing(t *testing.T) {
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s := query.NewTimeSpan(from, from.Add(15*time.Minute))
	series := []query.Series{{ID: "A", Label: "A"}}

	queries := planOne(t, series, s, []string{"avg"})
	ts := grid(from, 5*time.Minute, 3)
	results := []query.Result{
		{Query: queries[0], Body: wireBody(t, ts, []string{"avg_0"}, [][]*float64{{fp(1), nil, fp(3)}})},
	}

	table := query.Merge(series, []string{"avg"}, results)
	require.Equal(t, 3, table.NumRows())
	_, ok := table.At(1, 0)
	assert.False(t, ok, "nulls must not be coerced to zero")
	v, ok := table.At(2, 0)
	require.True(t, ok)
	assert.Equal(t, 3.0, v)
}

func TestMergeLaterSpanWinsOnOverlap(t *testing.T) {
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	iv, err := query.ParseInterval("PT5M")
	require.NoError(t, err)
	series := []query.Series{{ID: "A", Label: "A"}}

	early := query.WireQuery{
		SeriesIndex: 0,
		Series:      series[0],
		Span:        query.NewTimeSpan(from, from.Add(10*time.Minute)),
		Interval:    iv,
		Aggregates:  []string{"avg"},
		Version:     query.APIVersionCurrent,
	}
	late := early
	late.Span = query.NewTimeSpan(from.Add(5*time.Minute), from.Add(15*time.Minute))

	overlap := from.Add(5 * time.Minute)
	earlyBody := wireBody(t, []time.Time{from, overlap}, []string{"avg_0"}, [][]*float64{{fp(1), fp(2)}})
	lateBody := wireBody(t, []time.Time{overlap, from.Add(10 * time.Minute)}, []string{"avg_0"}, [][]*float64{{fp(99), fp(3)}})

	// Feed in reverse arrival order; chronology, not arrival, decides.
	table := query.Merge(series, []string{"avg"}, []query.Result{
		{Query: late, Body: lateBody},
		{Query: early, Body: earlyBody},
	})

	require.Equal(t, 3, table.NumRows())
	v, ok := table.At(1, 0)
	require.True(t, ok)
	assert.Equal(t, 99.0, v, "chronologically later sub-span wins the overlapping cell")
}

func TestMergeLegacyAggregateColumns(t *testing.T) {
	from := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	s := query.NewTimeSpan(from, from.Add(15*time.Minute))
	series := []query.Series{{ID: "A", Label: "A"}}
	aggregates := []string{"avg", "max"}

	iv, err := query.ParseInterval("PT5M")
	require.NoError(t, err)
	queries, err := query.Plan(series, s, iv, aggregates, false, query.APIVersionLegacy)
	require.NoError(t, err)
	require.Len(t, queries, 2)

	ts := grid(from, 5*time.Minute, 3)
	results := []query.Result{
		{Query: queries[0], Body: wireBody(t, ts, []string{"avg_0"}, [][]*float64{{fp(1), fp(2), fp(3)}})},
		{Query: queries[1], Body: wireBody(t, ts, []string{"max_1"}, [][]*float64{{fp(5), fp(6), fp(7)}})},
	}

	table := query.Merge(series, aggregates, results)
	require.Len(t, table.Columns, 2)
	v, ok := table.At(0, 0)
	require.True(t, ok)
	assert.Equal(t, 1.0, v)
	v, ok = table.At(0, 1)
	require.True(t, ok)
	assert.Equal(t, 5.0, v)
}
