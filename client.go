package tsigo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/tsanalytics/tsigo/internal/auth"
	"github.com/tsanalytics/tsigo/internal/transport"
	"github.com/tsanalytics/tsigo/metadata"
	"github.com/tsanalytics/tsigo/query"
)

// Requester executes one authenticated JSON request. The concrete
// implementation lives in internal/transport; the seam exists for
// tests.
type Requester interface {
	Execute(ctx context.Context, method, url string, body interface{}, hdr http.Header) (json.RawMessage, error)
}

// Client is the facade over the whole pipeline: resolver, planner,
// transport and assembler. It is safe for concurrent use.
type Client struct {
	cfg      Config
	log      *logrus.Logger
	req      Requester
	meta     *metadata.Service
	resolver *query.Resolver

	mu      sync.Mutex
	baseURL string
}

// New wires up a Client from an explicit configuration. It validates
// credentials and environment selection but performs no network calls;
// environment discovery happens lazily on first use.
func New(cfg Config, log *logrus.Logger) (*Client, error) {
	cfg = cfg.withDefaults()

	if cfg.Credentials.ClientID == "" || cfg.Credentials.ClientSecret == "" || cfg.Credentials.TenantID == "" {
		return nil, fmt.Errorf("client id, client secret and tenant id are all required")
	}
	if cfg.Environment == "" && cfg.EnvironmentID == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("an environment name, environment id or base URL is required")
	}

	var authOpts []auth.Option
	if cfg.LoginURL != "" {
		authOpts = append(authOpts, auth.WithLoginURL(cfg.LoginURL))
	}
	tokens := auth.New(auth.Credentials{
		ClientID:     cfg.Credentials.ClientID,
		ClientSecret: cfg.Credentials.ClientSecret,
		TenantID:     cfg.Credentials.TenantID,
	}, log, authOpts...)

	var metrics *transport.Metrics
	if cfg.MetricsRegistry != nil {
		metrics = transport.NewMetrics()
		if err := metrics.Register(cfg.MetricsRegistry); err != nil {
			return nil, fmt.Errorf("registering metrics: %w", err)
		}
	}

	req := transport.NewClient(tokens, transport.Config{
		ApplicationName: cfg.ApplicationName,
		Timeout:         cfg.RequestTimeout,
		RateLimit:       cfg.RateLimit,
		RateBurst:       cfg.RateBurst,
		Metrics:         metrics,
	}, log)

	meta, err := metadata.NewService(req, cfg.BaseURL, cfg.GlobalURL, string(cfg.APIVersion), log)
	if err != nil {
		return nil, err
	}

	c := &Client{
		cfg:  cfg,
		log:  log,
		req:  req,
		meta: meta,
	}
	c.resolver = query.NewResolver(instanceSource{meta: meta})
	return c, nil
}

// Metadata exposes the environment's listing operations (instances,
// types, hierarchies, environment discovery).
func (c *Client) Metadata() *metadata.Service { return c.meta }

// GetDataByID fetches aggregated readings for canonical series ids.
// Output columns are keyed by id, in request order, with one column per
// requested aggregate.
func (c *Client) GetDataByID(ctx context.Context, ids []string, span query.TimeSpan, interval string, aggregates []string, useWarmStore bool) (*query.ResultTable, error) {
	iv, err := query.ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(span, len(ids), aggregates); err != nil {
		return nil, err
	}
	series := make([]query.Series, len(ids))
	for i, id := range ids {
		series[i] = query.Series{ID: id, Label: id}
	}
	c.enrichByID(ctx, series)
	return c.getData(ctx, series, span, iv, aggregates, useWarmStore)
}

// GetDataByName resolves series names first and keys the output columns
// by the names the caller supplied.
func (c *Client) GetDataByName(ctx context.Context, names []string, span query.TimeSpan, interval string, aggregates []string, useWarmStore bool) (*query.ResultTable, error) {
	return c.getDataByLabel(ctx, query.LookupByName, names, span, interval, aggregates, useWarmStore)
}

// GetDataByDescription resolves series descriptions first and keys the
// output columns by the descriptions the caller supplied.
func (c *Client) GetDataByDescription(ctx context.Context, descriptions []string, span query.TimeSpan, interval string, aggregates []string, useWarmStore bool) (*query.ResultTable, error) {
	return c.getDataByLabel(ctx, query.LookupByDescription, descriptions, span, interval, aggregates, useWarmStore)
}

func (c *Client) getDataByLabel(ctx context.Context, field query.LookupField, labels []string, span query.TimeSpan, interval string, aggregates []string, useWarmStore bool) (*query.ResultTable, error) {
	iv, err := query.ParseInterval(interval)
	if err != nil {
		return nil, err
	}
	if err := validateRequest(span, len(labels), aggregates); err != nil {
		return nil, err
	}
	if _, err := c.environmentURL(ctx); err != nil {
		return nil, err
	}

	instances, err := c.resolver.Resolve(ctx, field, labels)
	if err != nil {
		return nil, fmt.Errorf("resolving series labels: %w", err)
	}

	tsx := c.typeExpressions(ctx)
	series := make([]query.Series, len(instances))
	for i, inst := range instances {
		series[i] = query.Series{
			ID:       inst.ID,
			Label:    labels[i],
			ValueTSX: tsx[inst.TypeID],
		}
	}
	return c.getData(ctx, series, span, iv, aggregates, useWarmStore)
}

// validateRequest rejects bad input before anything goes over the
// wire. The planner re-checks the same conditions but runs after
// metadata lookups.
func validateRequest(span query.TimeSpan, n int, aggregates []string) error {
	if err := span.Validate(); err != nil {
		return err
	}
	if n == 0 {
		return query.ErrEmptySeriesSet
	}
	if len(aggregates) == 0 {
		return query.ErrEmptyAggregates
	}
	return nil
}

func (c *Client) getData(ctx context.Context, series []query.Series, span query.TimeSpan, iv query.Interval, aggregates []string, useWarmStore bool) (*query.ResultTable, error) {
	queries, err := query.Plan(series, span, iv, aggregates, useWarmStore, c.cfg.APIVersion)
	if err != nil {
		return nil, err
	}

	base, err := c.environmentURL(ctx)
	if err != nil {
		return nil, err
	}
	params := url.Values{
		"api-version": {string(c.cfg.APIVersion)},
		"storeType":   {storeType(useWarmStore)},
	}
	endpoint := base + "/timeseries/query?" + params.Encode()

	// Sub-requests are independent; a failure degrades its own cells
	// and never cancels siblings, so the goroutines always return nil.
	results := make([]query.Result, len(queries))
	var g errgroup.Group
	g.SetLimit(c.cfg.QueryConcurrency)
	for i, q := range queries {
		i, q := i, q
		g.Go(func() error {
			body, err := c.req.Execute(ctx, http.MethodPost, endpoint, q.Body(), nil)
			results[i] = query.Result{Query: q, Body: body, Err: liftStoreError(err)}
			return nil
		})
	}
	_ = g.Wait()

	table := query.Merge(series, aggregates, results)
	if n := len(table.Failures); n > 0 {
		c.log.WithFields(logrus.Fields{
			"failed": n,
			"total":  len(queries),
		}).Warn("some sub-queries failed, affected cells are missing")
	}
	return table, nil
}

// enrichByID attaches type variable expressions to the series when the
// registry knows them. Best effort: an unreachable registry leaves the
// numeric default in place.
func (c *Client) enrichByID(ctx context.Context, series []query.Series) {
	if _, err := c.environmentURL(ctx); err != nil {
		return
	}
	instances, err := c.meta.Instances(ctx)
	if err != nil {
		c.log.WithError(err).Warn("instance registry unavailable, using default value expression")
		return
	}
	tsx := c.typeExpressions(ctx)
	typeOf := make(map[string]string, len(instances))
	for _, inst := range instances {
		typeOf[inst.ID] = inst.TypeID
	}
	for i := range series {
		series[i].ValueTSX = tsx[typeOf[series[i].ID]]
	}
}

func (c *Client) typeExpressions(ctx context.Context) map[string]string {
	tsx, err := c.meta.TypeTSX(ctx)
	if err != nil {
		c.log.WithError(err).Warn("type registry unavailable, using default value expression")
		return nil
	}
	return tsx
}

// environmentURL resolves and caches the environment endpoint:
// explicit base URL, then explicit environment id, then discovery by
// display name.
func (c *Client) environmentURL(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.baseURL != "" {
		return c.baseURL, nil
	}

	switch {
	case c.cfg.BaseURL != "":
		c.baseURL = c.cfg.BaseURL
	case c.cfg.EnvironmentID != "":
		c.baseURL = fmt.Sprintf("https://%s.env.timeseries.azure.com", c.cfg.EnvironmentID)
	default:
		envs, err := c.meta.Environments(ctx)
		if err != nil {
			return "", fmt.Errorf("discovering environment %q: %w", c.cfg.Environment, err)
		}
		for _, env := range envs {
			if env.DisplayName == c.cfg.Environment {
				c.baseURL = "https://" + env.FQDN
				break
			}
		}
		if c.baseURL == "" {
			return "", fmt.Errorf("%w: %q", metadata.ErrEnvironmentNotFound, c.cfg.Environment)
		}
	}
	c.meta.SetEnvironmentURL(c.baseURL)
	return c.baseURL, nil
}

// liftStoreError converts the service's "query not supported" rejection
// into the SDK's store error so callers can tell a misconfigured warm
// store from other failures.
func liftStoreError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *transport.APIError
	if errors.As(err, &apiErr) && apiErr.InnerCode == "TimeSeriesQueryNotSupported" {
		return &query.StoreError{Message: "warm store not enabled in this environment, set useWarmStore to false"}
	}
	return err
}

func storeType(useWarmStore bool) string {
	if useWarmStore {
		return "WarmStore"
	}
	return "ColdStore"
}

// instanceSource adapts the metadata service to the resolver's view of
// the instance registry.
type instanceSource struct {
	meta *metadata.Service
}

func (s instanceSource) Instances(ctx context.Context) ([]query.Instance, error) {
	instances, err := s.meta.Instances(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]query.Instance, len(instances))
	for i, inst := range instances {
		out[i] = query.Instance{
			ID:          inst.ID,
			Name:        inst.Name,
			Description: inst.Description,
			TypeID:      inst.TypeID,
		}
	}
	return out, nil
}
