// Package metadata exposes the listing side of the service: environment
// discovery and the instances, types and hierarchies registries. These
// endpoints paginate through continuation tokens; the package follows
// the tokens and returns complete listings, caching each snapshot so
// repeated resolutions within a process don't refetch the registry.
package metadata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"
)

const continuationHeader = "x-ms-continuation"

// Requester is the authenticated JSON executor the package issues its
// calls through.
type Requester interface {
	Execute(ctx context.Context, method, url string, body interface{}, hdr http.Header) (json.RawMessage, error)
}

// Environment is one entry of the global environments listing.
type Environment struct {
	ID          string `json:"environmentId"`
	DisplayName string `json:"displayName"`
	FQDN        string `json:"environmentFqdn"`
}

// Instance is one registered time series.
type Instance struct {
	ID           string
	TypeID       string
	Name         string
	Description  string
	HierarchyIDs []string
}

// Type is one series type; TSX is the variable expression projected
// when querying series of this type.
type Type struct {
	ID   string
	Name string
	TSX  string
}

// Hierarchy is one asset hierarchy definition.
type Hierarchy struct {
	ID   string
	Name string
}

// ErrEnvironmentNotFound is wrapped with the display name that failed
// to match.
var ErrEnvironmentNotFound = fmt.Errorf("environment not found")

// Service issues metadata calls against one environment.
type Service struct {
	req        Requester
	globalURL  string // global endpoint hosting /environments
	apiVersion string
	cache      *lru.Cache
	log        logrus.FieldLogger

	mu      sync.RWMutex
	baseURL string // environment endpoint, e.g. https://<env>.env.timeseries.azure.com
}

func NewService(req Requester, baseURL, globalURL, apiVersion string, log logrus.FieldLogger) (*Service, error) {
	// One entry per listing kind; lru keeps the type handy for the
	// refresher to evict.
	cache, err := lru.New(8)
	if err != nil {
		return nil, err
	}
	return &Service{
		req:        req,
		baseURL:    baseURL,
		globalURL:  globalURL,
		apiVersion: apiVersion,
		cache:      cache,
		log:        log,
	}, nil
}

// SetEnvironmentURL fixes the environment endpoint once discovery
// completes. Listing calls fail until either the constructor or this
// method provided a non-empty URL.
func (s *Service) SetEnvironmentURL(u string) {
	s.mu.Lock()
	s.baseURL = u
	s.mu.Unlock()
}

func (s *Service) environmentURL() (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.baseURL == "" {
		return "", fmt.Errorf("environment endpoint not resolved yet")
	}
	return s.baseURL, nil
}

// Environments lists every environment the credentials can see.
func (s *Service) Environments(ctx context.Context) ([]Environment, error) {
	raw, err := s.req.Execute(ctx, http.MethodGet, s.globalURL+"/environments?"+s.query(), nil, nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Environments []Environment `json:"environments"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return nil, fmt.Errorf("decoding environments: %w", err)
	}
	return body.Environments, nil
}

// EnvironmentID resolves an environment display name to its id.
func (s *Service) EnvironmentID(ctx context.Context, displayName string) (string, error) {
	envs, err := s.Environments(ctx)
	if err != nil {
		return "", err
	}
	for _, env := range envs {
		if env.DisplayName == displayName {
			return env.ID, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrEnvironmentNotFound, displayName)
}

// Instances returns the full instance registry, following continuation
// tokens. The snapshot is cached until InvalidateCache.
func (s *Service) Instances(ctx context.Context) ([]Instance, error) {
	if cached, ok := s.cache.Get("instances"); ok {
		return cached.([]Instance), nil
	}

	var out []Instance
	err := s.paginate(ctx, "/timeseries/instances/", "instances", func(page json.RawMessage) error {
		var items []struct {
			TimeSeriesID []string `json:"timeSeriesId"`
			TypeID       string   `json:"typeId"`
			Name         string   `json:"name"`
			Description  string   `json:"description"`
			HierarchyIDs []string `json:"hierarchyIds"`
		}
		if err := json.Unmarshal(page, &items); err != nil {
			return err
		}
		for _, it := range items {
			if len(it.TimeSeriesID) == 0 {
				continue
			}
			out = append(out, Instance{
				ID:           it.TimeSeriesID[0],
				TypeID:       it.TypeID,
				Name:         it.Name,
				Description:  it.Description,
				HierarchyIDs: it.HierarchyIDs,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.Add("instances", out)
	return out, nil
}

// Types returns every series type defined in the environment.
func (s *Service) Types(ctx context.Context) ([]Type, error) {
	if cached, ok := s.cache.Get("types"); ok {
		return cached.([]Type), nil
	}

	var out []Type
	err := s.paginate(ctx, "/timeseries/types", "types", func(page json.RawMessage) error {
		var items []struct {
			ID        string `json:"id"`
			Name      string `json:"name"`
			Variables map[string]struct {
				Value struct {
					TSX string `json:"tsx"`
				} `json:"value"`
			} `json:"variables"`
		}
		if err := json.Unmarshal(page, &items); err != nil {
			return err
		}
		for _, it := range items {
			t := Type{ID: it.ID, Name: it.Name}
			if v, ok := it.Variables["Value"]; ok {
				t.TSX = v.Value.TSX
			} else {
				s.log.WithField("type", it.ID).Warn("type carries no Value variable")
			}
			out = append(out, t)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.Add("types", out)
	return out, nil
}

// TypeTSX maps type id to the variable expression to project for series
// of that type. Types without one are absent from the map.
func (s *Service) TypeTSX(ctx context.Context) (map[string]string, error) {
	types, err := s.Types(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(types))
	for _, t := range types {
		if t.TSX != "" {
			out[t.ID] = t.TSX
		}
	}
	return out, nil
}

// Hierarchies returns every asset hierarchy defined in the environment.
func (s *Service) Hierarchies(ctx context.Context) ([]Hierarchy, error) {
	if cached, ok := s.cache.Get("hierarchies"); ok {
		return cached.([]Hierarchy), nil
	}

	var out []Hierarchy
	err := s.paginate(ctx, "/timeseries/hierarchies", "hierarchies", func(page json.RawMessage) error {
		var items []Hierarchy
		if err := json.Unmarshal(page, &items); err != nil {
			return err
		}
		out = append(out, items...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.cache.Add("hierarchies", out)
	return out, nil
}

// InvalidateCache drops every cached snapshot so the next listing call
// refetches from the service.
func (s *Service) InvalidateCache() {
	s.cache.Purge()
}

// paginate GETs path repeatedly, feeding the items array under key to
// collect and chaining continuation tokens until the listing ends.
func (s *Service) paginate(ctx context.Context, path, key string, collect func(json.RawMessage) error) error {
	base, err := s.environmentURL()
	if err != nil {
		return err
	}
	endpoint := base + path + "?" + s.query()
	var hdr http.Header
	for {
		raw, err := s.req.Execute(ctx, http.MethodGet, endpoint, nil, hdr)
		if err != nil {
			return err
		}
		var page map[string]json.RawMessage
		if err := json.Unmarshal(raw, &page); err != nil {
			return fmt.Errorf("decoding %s page: %w", key, err)
		}
		if items, ok := page[key]; ok {
			if err := collect(items); err != nil {
				return fmt.Errorf("decoding %s items: %w", key, err)
			}
		}
		tokenRaw, ok := page["continuationToken"]
		if !ok {
			return nil
		}
		var token string
		if err := json.Unmarshal(tokenRaw, &token); err != nil || token == "" {
			return nil
		}
		hdr = http.Header{}
		hdr.Set(continuationHeader, token)
	}
}

func (s *Service) query() string {
	return url.Values{"api-version": {s.apiVersion}}.Encode()
}
