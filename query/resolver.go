package query

import "context"

// Instance is the metadata the resolver needs about one series
// registered in the environment.
type Instance struct {
	ID          string
	Name        string
	Description string
	TypeID      string
}

// InstanceSource supplies the environment's instance listing. One
// resolution call fetches the listing exactly once, so duplicate labels
// never trigger extra lookups.
type InstanceSource interface {
	Instances(ctx context.Context) ([]Instance, error)
}

// LookupField selects which human-facing alias a label is matched
// against.
type LookupField int

const (
	LookupByName LookupField = iota
	LookupByDescription
)

// Resolver maps series names or descriptions to canonical instances.
type Resolver struct {
	src InstanceSource
}

func NewResolver(src InstanceSource) *Resolver {
	return &Resolver{src: src}
}

// Resolve matches every label against the chosen field and returns the
// matched instances in input order. A label matching zero or more than
// one instance fails; all labels are attempted and every failure is
// collected into one ResolveError.
func (r *Resolver) Resolve(ctx context.Context, field LookupField, labels []string) ([]Instance, error) {
	instances, err := r.src.Instances(ctx)
	if err != nil {
		return nil, err
	}

	matches := make(map[string][]Instance, len(instances))
	for _, inst := range instances {
		key := inst.Name
		if field == LookupByDescription {
			key = inst.Description
		}
		if key == "" {
			continue
		}
		matches[key] = append(matches[key], inst)
	}

	resolved := make([]Instance, len(labels))
	var failures []*SeriesLookupError
	for i, label := range labels {
		found := matches[label]
		if len(found) != 1 {
			failures = append(failures, &SeriesLookupError{Label: label, Matches: len(found)})
			continue
		}
		resolved[i] = found[0]
	}
	if len(failures) > 0 {
		return nil, &ResolveError{Failures: failures}
	}
	return resolved, nil
}

// ResolveIDs is Resolve reduced to the canonical ids, positionally
// aligned with the input labels.
func (r *Resolver) ResolveIDs(ctx context.Context, field LookupField, labels []string) ([]string, error) {
	instances, err := r.Resolve(ctx, field, labels)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(instances))
	for i, inst := range instances {
		ids[i] = inst.ID
	}
	return ids, nil
}
