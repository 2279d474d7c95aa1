package syncer

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/circuitbreaker"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/ratelimit"
	"github.com/therealutkarshpriyadarshi/factorflow/internal/retry"
)

func tushareServer(t *testing.T, handler func(req tushareRequest) interface{}) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req tushareRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(handler(req))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestTushareProvider_Call(t *testing.T) {
	var got tushareRequest
	srv := tushareServer(t, func(req tushareRequest) interface{} {
		got = req
		return map[string]interface{}{
			"code": 0,
			"msg":  "",
			"data": map[string]interface{}{
				"fields": []string{"ts_code", "trade_date", "close"},
				"items": [][]interface{}{
					{"000001.SZ", "20240105", 10.5},
					{"600000.SH", "20240105", 7.2},
				},
			},
		}
	})

	p := NewTushareProvider(srv.URL, "secret", time.Second)
	rows, err := p.Call(context.Background(), "daily", map[string]interface{}{
		"trade_date": "20240105",
		"fields":     "ts_code,trade_date,close",
	})
	require.NoError(t, err)

	assert.Equal(t, "daily", got.APIName)
	assert.Equal(t, "secret", got.Token)
	assert.Equal(t, "ts_code,trade_date,close", got.Fields)
	assert.Equal(t, map[string]interface{}{"trade_date": "20240105"}, got.Params)

	require.Len(t, rows, 2)
	assert.Equal(t, "000001.SZ", rows[0]["ts_code"])
	assert.Equal(t, 7.2, rows[1]["close"])
}

func TestTushareProvider_Errors(t *testing.T) {
	t.Run("token rejected", func(t *testing.T) {
		srv := tushareServer(t, func(tushareRequest) interface{} {
			return map[string]interface{}{"code": 2002, "msg": "invalid token"}
		})
		_, err := NewTushareProvider(srv.URL, "bad", time.Second).Call(context.Background(), "daily", nil)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("api error", func(t *testing.T) {
		srv := tushareServer(t, func(tushareRequest) interface{} {
			return map[string]interface{}{"code": 40203, "msg": "rate limited"}
		})
		_, err := NewTushareProvider(srv.URL, "tok", time.Second).Call(context.Background(), "daily", nil)

		var apiErr *APIError
		require.True(t, errors.As(err, &apiErr))
		assert.Equal(t, 40203, apiErr.Code)
	})

	t.Run("http status", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()
		_, err := NewTushareProvider(srv.URL, "tok", time.Second).Call(context.Background(), "daily", nil)
		assert.Error(t, err)
	})

	t.Run("no data", func(t *testing.T) {
		srv := tushareServer(t, func(tushareRequest) interface{} {
			return map[string]interface{}{"code": 0, "msg": ""}
		})
		rows, err := NewTushareProvider(srv.URL, "tok", time.Second).Call(context.Background(), "daily", nil)
		assert.NoError(t, err)
		assert.Empty(t, rows)
	})
}

type scriptedProvider struct {
	calls   int32
	results []func() ([]Row, error)
}

func (s *scriptedProvider) Call(context.Context, string, map[string]interface{}) ([]Row, error) {
	i := int(atomic.AddInt32(&s.calls, 1)) - 1
	if i >= len(s.results) {
		i = len(s.results) - 1
	}
	return s.results[i]()
}

func rowsOf(n int) func() ([]Row, error) {
	return func() ([]Row, error) {
		rows := make([]Row, n)
		for i := range rows {
			rows[i] = Row{"i": i}
		}
		return rows, nil
	}
}

func fails(err error) func() ([]Row, error) {
	return func() ([]Row, error) { return nil, err }
}

func TestClient_Fetch(t *testing.T) {
	cfg := retry.NewConfig(3, retry.NewFixedDelay(0, false))

	t.Run("empty result is retried", func(t *testing.T) {
		p := &scriptedProvider{results: []func() ([]Row, error){rowsOf(0), rowsOf(2)}}
		rows, err := NewClient(p, nil, cfg, nil).Fetch(context.Background(), "daily", nil)
		require.NoError(t, err)
		assert.Len(t, rows, 2)
		assert.EqualValues(t, 2, p.calls)
	})

	t.Run("always empty yields nil", func(t *testing.T) {
		p := &scriptedProvider{results: []func() ([]Row, error){rowsOf(0)}}
		rows, err := NewClient(p, nil, cfg, nil).Fetch(context.Background(), "daily", nil)
		require.NoError(t, err)
		assert.Nil(t, rows)
		assert.EqualValues(t, 3, p.calls)
	})

	t.Run("transport error retried then surfaced", func(t *testing.T) {
		p := &scriptedProvider{results: []func() ([]Row, error){fails(errors.New("timeout"))}}
		_, err := NewClient(p, nil, cfg, nil).Fetch(context.Background(), "daily", nil)
		assert.Error(t, err)
		assert.EqualValues(t, 3, p.calls)
	})

	t.Run("unauthorized is not retried", func(t *testing.T) {
		p := &scriptedProvider{results: []func() ([]Row, error){fails(ErrUnauthorized)}}
		_, err := NewClient(p, nil, cfg, nil).Fetch(context.Background(), "daily", nil)
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.EqualValues(t, 1, p.calls)
	})

	t.Run("limiter spaces calls", func(t *testing.T) {
		p := &scriptedProvider{results: []func() ([]Row, error){rowsOf(1)}}
		c := NewClient(p, ratelimit.NewInterval(30*time.Millisecond), cfg, nil)

		start := time.Now()
		for i := 0; i < 3; i++ {
			_, err := c.Fetch(context.Background(), "daily", nil)
			require.NoError(t, err)
		}
		assert.GreaterOrEqual(t, time.Since(start), 50*time.Millisecond)
	})

	t.Run("cancelled context", func(t *testing.T) {
		p := &scriptedProvider{results: []func() ([]Row, error){rowsOf(1)}}
		c := NewClient(p, ratelimit.NewInterval(time.Hour), cfg, nil)
		_, err := c.Fetch(context.Background(), "daily", nil)
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = c.Fetch(ctx, "daily", nil)
		assert.Error(t, err)
		assert.EqualValues(t, 1, p.calls)
	})
}

func TestClient_FetchCircuitBreaker(t *testing.T) {
	cfg := retry.NewConfig(2, retry.NewFixedDelay(0, false))
	group := circuitbreaker.NewGroup(circuitbreaker.Config{
		MaxFailures: 2,
		Cooldown:    time.Hour,
		IsFailure:   IsUpstreamFailure,
	})
	p := &scriptedProvider{results: []func() ([]Row, error){fails(errors.New("connection refused"))}}
	c := NewClient(p, nil, cfg, nil).WithBreakers(group)

	_, err := c.Fetch(context.Background(), "daily", nil)
	require.Error(t, err)
	assert.EqualValues(t, 2, p.calls)

	_, err = c.Fetch(context.Background(), "daily", nil)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.EqualValues(t, 2, p.calls, "an open circuit does not reach the provider")

	stats := c.BreakerStats()
	require.Len(t, stats, 1)
	assert.Equal(t, "open", stats[0].State)

	other := &scriptedProvider{results: []func() ([]Row, error){rowsOf(1)}}
	rows, err := NewClient(other, nil, cfg, nil).WithBreakers(group).Fetch(context.Background(), "adj_factor", nil)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestIsUpstreamFailure(t *testing.T) {
	assert.False(t, IsUpstreamFailure(nil))
	assert.False(t, IsUpstreamFailure(ErrUnauthorized))
	assert.False(t, IsUpstreamFailure(context.Canceled))
	assert.True(t, IsUpstreamFailure(errors.New("timeout")))
}
