package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	tsigo "github.com/tsanalytics/tsigo"
	"github.com/tsanalytics/tsigo/internal/config"
	"github.com/tsanalytics/tsigo/query"
)

// Command tsiquery fetches aggregated time-series data and prints it as
// CSV. Missing cells are left blank; partial failures go to stderr.
//
// Usage:
//
//	tsiquery -config config.yaml -ids A,B -from 2020-01-01T00:00:00Z \
//	    -to 2020-01-02T00:00:00Z -interval PT5M -aggregates avg,max
//
// Exactly one of -ids, -names or -descriptions selects the series.
func main() {
	var (
		configPath   = flag.String("config", "config.yaml", "path to config file")
		ids          = flag.String("ids", "", "comma-separated series ids")
		names        = flag.String("names", "", "comma-separated series names")
		descriptions = flag.String("descriptions", "", "comma-separated series descriptions")
		from         = flag.String("from", "", "span start (RFC 3339)")
		to           = flag.String("to", "", "span end (RFC 3339)")
		interval     = flag.String("interval", "PT5M", "sampling interval (ISO-8601 duration)")
		aggregates   = flag.String("aggregates", "avg", "comma-separated aggregate functions")
		warm         = flag.Bool("warm", false, "query the warm store")
	)
	flag.Parse()

	appConfig, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logrus.New()
	if appConfig.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(appConfig.Logging.Level); err == nil {
		logger.SetLevel(level)
	}

	client, err := tsigo.New(tsigo.Config{
		ApplicationName:  appConfig.Application.Name,
		Environment:      appConfig.Application.Environment,
		EnvironmentID:    appConfig.Application.EnvironmentID,
		Credentials: tsigo.Credentials{
			ClientID:     appConfig.Credentials.ClientID,
			ClientSecret: appConfig.Credentials.ClientSecret,
			TenantID:     appConfig.Credentials.TenantID,
		},
		APIVersion:       query.APIVersion(appConfig.Query.APIVersion),
		QueryConcurrency: appConfig.Query.Concurrency,
		RateLimit:        appConfig.Query.RateLimit,
		RateBurst:        appConfig.Query.RateBurst,
		RequestTimeout:   time.Duration(appConfig.Query.TimeoutSeconds) * time.Second,
		MetricsRegistry:  prometheus.DefaultRegisterer,
	}, logger)
	if err != nil {
		logger.Fatalf("Failed to create client: %v", err)
	}

	span, err := parseSpan(*from, *to)
	if err != nil {
		logger.Fatalf("Invalid time span: %v", err)
	}
	aggs := splitList(*aggregates)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	var table *query.ResultTable
	switch {
	case *ids != "":
		table, err = client.GetDataByID(ctx, splitList(*ids), span, *interval, aggs, *warm)
	case *names != "":
		table, err = client.GetDataByName(ctx, splitList(*names), span, *interval, aggs, *warm)
	case *descriptions != "":
		table, err = client.GetDataByDescription(ctx, splitList(*descriptions), span, *interval, aggs, *warm)
	default:
		logger.Fatal("One of -ids, -names or -descriptions is required")
	}
	if err != nil {
		logger.Fatalf("Query failed: %v", err)
	}

	if err := writeCSV(os.Stdout, table); err != nil {
		logger.Fatalf("Failed to write output: %v", err)
	}
	for _, f := range table.Failures {
		fmt.Fprintf(os.Stderr, "partial failure: series %s span %s..%s: %v\n",
			f.Query.Series.ID,
			f.Query.Span.From.Format(time.RFC3339),
			f.Query.Span.To.Format(time.RFC3339),
			f.Err,
		)
	}
}

func parseSpan(from, to string) (query.TimeSpan, error) {
	start, err := time.Parse(time.RFC3339, from)
	if err != nil {
		return query.TimeSpan{}, fmt.Errorf("parsing -from: %w", err)
	}
	end, err := time.Parse(time.RFC3339, to)
	if err != nil {
		return query.TimeSpan{}, fmt.Errorf("parsing -to: %w", err)
	}
	return query.NewTimeSpan(start, end), nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeCSV(dst *os.File, table *query.ResultTable) error {
	w := csv.NewWriter(dst)

	header := make([]string, 0, len(table.Columns)+1)
	header = append(header, "timestamp")
	for _, col := range table.Columns {
		header = append(header, col.Key())
	}
	if err := w.Write(header); err != nil {
		return err
	}

	row := make([]string, len(header))
	for i, ts := range table.Timestamps {
		row[0] = ts.Format(time.RFC3339)
		for j := range table.Columns {
			if v, ok := table.At(i, j); ok {
				row[j+1] = strconv.FormatFloat(v, 'g', -1, 64)
			} else {
				row[j+1] = ""
			}
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	w.Flush()
	return w.Error()
}
