package query

import (
	"encoding/json"
	"fmt"
	"time"
)

// defaultValueTSX projects the numeric event value when the series type
// carries no variable expression of its own.
const defaultValueTSX = "$event.value.Double"

// Body builds the JSON payload for the aggregation endpoint. Projected
// variables are named "<aggregate>_<column index>" so duplicate
// aggregates stay distinguishable in the response.
func (q WireQuery) Body() map[string]interface{} {
	tsx := q.Series.ValueTSX
	if tsx == "" {
		tsx = defaultValueTSX
	}

	vars := make(map[string]interface{}, len(q.Aggregates))
	projected := make([]string, len(q.Aggregates))
	for i, agg := range q.Aggregates {
		name := projectedName(agg, q.AggOffset+i)
		vars[name] = map[string]interface{}{
			"kind":   "numeric",
			"value":  map[string]interface{}{"tsx": tsx},
			"filter": nil,
			"aggregation": map[string]interface{}{
				"tsx": fmt.Sprintf("%s($value)", agg),
			},
		}
		projected[i] = name
	}

	return map[string]interface{}{
		"aggregateSeries": map[string]interface{}{
			"timeSeriesId": []string{q.Series.ID},
			"searchSpan": map[string]interface{}{
				"from": q.Span.From.Format(time.RFC3339Nano),
				"to":   q.Span.To.Format(time.RFC3339Nano),
			},
			"filter":             nil,
			"interval":           q.Interval.String(),
			"inlineVariables":    vars,
			"projectedVariables": projected,
		},
	}
}

func projectedName(aggregate string, index int) string {
	return fmt.Sprintf("%s_%d", aggregate, index)
}

// wireResponse is the version-tolerant envelope of the aggregation
// endpoint: a timestamp axis plus one parallel value array per
// projected variable. Nulls in a value array mark empty buckets.
type wireResponse struct {
	Timestamps []string `json:"timestamps"`
	Properties []struct {
		Name   string     `json:"name"`
		Type   string     `json:"type"`
		Values []*float64 `json:"values"`
	} `json:"properties"`
}

// chunkColumn is one extracted value array together with the index of
// the aggregate it belongs to in the caller's AggregateSpec.
type chunkColumn struct {
	aggIndex int
	values   []*float64
}

// seriesChunk is the normalized content of one sub-response.
type seriesChunk struct {
	timestamps []time.Time
	columns    []chunkColumn
}

// extract decodes one sub-response according to the query's API
// version. The legacy shape carries exactly one property, matched
// positionally; the current shape carries one property per requested
// aggregate, matched by projected-variable name with a positional
// fallback. Array length mismatches and undecodable payloads report
// MalformedResponseError, scoped to this sub-response.
func (q WireQuery) extract(body []byte) (*seriesChunk, error) {
	var resp wireResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &MalformedResponseError{Reason: fmt.Sprintf("decoding payload: %v", err)}
	}

	if !q.Version.BatchesAggregates() && len(resp.Properties) != 1 {
		return nil, &MalformedResponseError{
			Reason: fmt.Sprintf("legacy response carries %d properties, want 1", len(resp.Properties)),
		}
	}
	if q.Version.BatchesAggregates() && len(resp.Properties) != len(q.Aggregates) {
		return nil, &MalformedResponseError{
			Reason: fmt.Sprintf("response carries %d properties, want %d", len(resp.Properties), len(q.Aggregates)),
		}
	}

	timestamps := make([]time.Time, len(resp.Timestamps))
	for i, raw := range resp.Timestamps {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			return nil, &MalformedResponseError{Reason: fmt.Sprintf("timestamp %q: %v", raw, err)}
		}
		timestamps[i] = t.UTC()
	}

	byName := make(map[string]int, len(q.Aggregates))
	for i, agg := range q.Aggregates {
		byName[projectedName(agg, q.AggOffset+i)] = q.AggOffset + i
	}

	chunk := &seriesChunk{timestamps: timestamps}
	for i, prop := range resp.Properties {
		if len(prop.Values) != len(timestamps) {
			return nil, &MalformedResponseError{
				Reason: fmt.Sprintf("property %q has %d values for %d timestamps", prop.Name, len(prop.Values), len(timestamps)),
			}
		}
		aggIndex, ok := byName[prop.Name]
		if !ok {
			aggIndex = q.AggOffset + i
		}
		chunk.columns = append(chunk.columns, chunkColumn{aggIndex: aggIndex, values: prop.Values})
	}
	return chunk, nil
}
