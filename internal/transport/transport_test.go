package transport_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tsanalytics/tsigo/internal/transport"
)

type staticTokens string

func (s staticTokens) Token(ctx context.Context) (string, error) {
	return string(s), nil
}

func newTestClient(timeout time.Duration) *transport.Client {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	return transport.NewClient(staticTokens("Bearer test-token"), transport.Config{
		ApplicationName: "tsigo-test",
		Timeout:         timeout,
	}, log)
}

func TestExecuteSetsHeaders(t *testing.T) {
	var got http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	raw, err := newTestClient(0).Execute(context.Background(), http.MethodGet, srv.URL+"/timeseries/query", nil, nil)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(raw))

	assert.Equal(t, "Bearer test-token", got.Get("Authorization"))
	assert.Equal(t, "tsigo-test", got.Get("x-ms-client-application-name"))
	assert.Equal(t, "application/json", got.Get("Content-Type"))
	assert.NotEmpty(t, got.Get("x-ms-client-request-id"))
}

func TestExecuteClassifiesStatus(t *testing.T) {
	tests := []struct {
		status int
		kind   transport.Kind
	}{
		{http.StatusUnauthorized, transport.KindAuthExpired},
		{http.StatusForbidden, transport.KindAuthExpired},
		{http.StatusTooManyRequests, transport.KindRateLimited},
		{http.StatusInternalServerError, transport.KindServer},
		{http.StatusBadGateway, transport.KindServer},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			_, err := newTestClient(0).Execute(context.Background(), http.MethodGet, srv.URL, nil, nil)
			require.Error(t, err)

			var terr *transport.Error
			require.True(t, errors.As(err, &terr))
			assert.Equal(t, tt.kind, terr.Kind)
			assert.Equal(t, tt.status, terr.Status)
		})
	}
}

func TestExecuteDecodesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"code":"InvalidInput","message":"bad query","innerError":{"code":"TimeSeriesQueryNotSupported"}}}`))
	}))
	defer srv.Close()

	_, err := newTestClient(0).Execute(context.Background(), http.MethodPost, srv.URL, map[string]string{"q": "x"}, nil)
	require.Error(t, err)

	var apiErr *transport.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.Status)
	assert.Equal(t, "InvalidInput", apiErr.Code)
	assert.Equal(t, "TimeSeriesQueryNotSupported", apiErr.InnerCode)
}

func TestExecuteClassifiesTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
	}))
	defer srv.Close()

	_, err := newTestClient(50 * time.Millisecond).Execute(context.Background(), http.MethodGet, srv.URL, nil, nil)
	require.Error(t, err)

	var terr *transport.Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, transport.KindTimeout, terr.Kind)
}

func TestExecuteCanceledWhileRateLimited(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	c := transport.NewClient(staticTokens("Bearer test-token"), transport.Config{
		ApplicationName: "tsigo-test",
		RateLimit:       1,
	}, log)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Execute(ctx, http.MethodGet, "http://127.0.0.1:1", nil, nil)
	require.Error(t, err)

	var terr *transport.Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, transport.KindNetwork, terr.Kind, "cancellation is not a timeout")
}

func TestExecuteClassifiesNetworkError(t *testing.T) {
	// Nothing listens here.
	_, err := newTestClient(0).Execute(context.Background(), http.MethodGet, "http://127.0.0.1:1", nil, nil)
	require.Error(t, err)

	var terr *transport.Error
	require.True(t, errors.As(err, &terr))
	assert.Equal(t, transport.KindNetwork, terr.Kind)
}

func TestExecutePassesExtraHeaders(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("x-ms-continuation")
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	hdr := http.Header{"x-ms-continuation": []string{"next-page"}}
	_, err := newTestClient(0).Execute(context.Background(), http.MethodGet, srv.URL, nil, hdr)
	require.NoError(t, err)
	assert.Equal(t, "next-page", got)
}
