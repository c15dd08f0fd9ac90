package query

import (
	"errors"
	"fmt"
	"strings"
)

// Input validation errors. These abort a call before anything is sent
// over the wire.
var (
	ErrInvalidTimeSpan  = errors.New("time span start must be before end")
	ErrInvalidInterval  = errors.New("interval must be strictly positive")
	ErrEmptySeriesSet   = errors.New("no series requested")
	ErrEmptyAggregates  = errors.New("no aggregates requested")
	ErrUnknownAggregate = errors.New("unsupported aggregate function")
)

// SeriesLookupError reports a label that resolved to zero or more than
// one series.
type SeriesLookupError struct {
	Label   string
	Matches int
}

func (e *SeriesLookupError) Error() string {
	if e.Matches == 0 {
		return fmt.Sprintf("no series matches %q", e.Label)
	}
	return fmt.Sprintf("%q matches %d series, expected exactly one", e.Label, e.Matches)
}

// ResolveError collects every failed label of one resolution call.
// Labels that did resolve are not reported; the whole call fails if any
// label is ambiguous or unknown.
type ResolveError struct {
	Failures []*SeriesLookupError
}

func (e *ResolveError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return "series resolution failed: " + strings.Join(msgs, "; ")
}

func (e *ResolveError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}

// MalformedResponseError marks one sub-response whose payload violated
// the wire contract (for example value arrays shorter than the
// timestamp axis). It is scoped to that sub-response; the merge
// continues with the others.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return "malformed response: " + e.Reason
}

// StoreError is returned by the service when a query was sent to the
// warm store of an environment that has none.
type StoreError struct {
	Message string
}

func (e *StoreError) Error() string {
	if e.Message == "" {
		return "warm store is not enabled for this environment"
	}
	return e.Message
}
