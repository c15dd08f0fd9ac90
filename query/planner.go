package query

import "fmt"

// supportedAggregates are the summarization functions the service's tsx
// expression language accepts.
var supportedAggregates = map[string]bool{
	"avg":   true,
	"min":   true,
	"max":   true,
	"sum":   true,
	"count": true,
	"first": true,
	"last":  true,
}

// Plan validates a request and expands it into the ordered set of wire
// queries needed to satisfy the service's per-request row cap.
//
// Spans whose implied sample count exceeds MaxPointsPerQuery are split
// into consecutive sub-spans that partition [From, To) with no gap or
// overlap; the final sub-span may be shorter. Sub-spans are emitted in
// chronological order. Under APIVersionLegacy every aggregate gets its
// own query per series and sub-span; current versions batch all
// aggregates into one query per series and sub-span. Chunk boundaries
// are identical either way, sized for the worst case of one call per
// aggregate.
func Plan(series []Series, span TimeSpan, interval Interval, aggregates []string, useWarmStore bool, version APIVersion) ([]WireQuery, error) {
	if err := span.Validate(); err != nil {
		return nil, err
	}
	if interval.Duration() <= 0 {
		return nil, ErrInvalidInterval
	}
	if len(series) == 0 {
		return nil, ErrEmptySeriesSet
	}
	if len(aggregates) == 0 {
		return nil, ErrEmptyAggregates
	}
	for _, agg := range aggregates {
		if !supportedAggregates[agg] {
			return nil, fmt.Errorf("%w: %q", ErrUnknownAggregate, agg)
		}
	}

	subSpans := chunk(span, interval)

	var queries []WireQuery
	for si, s := range series {
		if s.Label == "" {
			s.Label = s.ID
		}
		for _, sub := range subSpans {
			if version.BatchesAggregates() {
				queries = append(queries, WireQuery{
					SeriesIndex: si,
					Series:      s,
					Span:        sub,
					Interval:    interval,
					Aggregates:  aggregates,
					AggOffset:   0,
					WarmStore:   useWarmStore,
					Version:     version,
				})
				continue
			}
			for ai, agg := range aggregates {
				queries = append(queries, WireQuery{
					SeriesIndex: si,
					Series:      s,
					Span:        sub,
					Interval:    interval,
					Aggregates:  []string{agg},
					AggOffset:   ai,
					WarmStore:   useWarmStore,
					Version:     version,
				})
			}
		}
	}
	return queries, nil
}

// chunk splits the span into contiguous sub-spans of at most
// MaxPointsPerQuery samples each.
func chunk(span TimeSpan, interval Interval) []TimeSpan {
	if span.Points(interval) <= MaxPointsPerQuery {
		return []TimeSpan{span}
	}
	step := interval.Duration() * MaxPointsPerQuery
	var subs []TimeSpan
	for from := span.From; from.Before(span.To); from = from.Add(step) {
		to := from.Add(step)
		if to.After(span.To) {
			to = span.To
		}
		subs = append(subs, TimeSpan{From: from, To: to})
	}
	return subs
}
