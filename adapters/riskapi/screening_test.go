package riskapi

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flashbots/blocklist-client/screening"
)

// newHungProvider never answers; every request waits for the client to give up.
func newHungProvider(t *testing.T) (*httptest.Server, *int32) {
	t.Helper()
	var requests int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&requests, 1)
		<-r.Context().Done()
	}))
	t.Cleanup(server.Close)
	return server, &requests
}

func newTestEngine(t *testing.T, client *Client, opts screening.Options) (*screening.Engine, *screening.MemoryCache) {
	t.Helper()
	cache, err := screening.NewMemoryCache(10)
	require.NoError(t, err)
	engine, err := screening.NewEngine(nil, client, cache, nil, opts)
	require.NoError(t, err)
	return engine, cache
}

func TestScreenWithHungProvider(t *testing.T) {
	tests := map[string]struct {
		batchTimeout time.Duration
		lookupMargin time.Duration
		reason       string
		attempts     int32
	}{
		// all attempts and their backoff fit before the deadline
		"retries exhausted within the batch": {
			batchTimeout: 600 * time.Millisecond,
			lookupMargin: 50 * time.Millisecond,
			reason:       "risk provider unavailable",
			attempts:     3,
		},
		// the retry budget outlasts the batch
		"batch deadline before retries end": {
			batchTimeout: 250 * time.Millisecond,
			lookupMargin: 30 * time.Millisecond,
			reason:       "risk provider did not answer in time",
		},
	}

	for name, testCase := range tests {
		t.Run(name, func(t *testing.T) {
			server, requests := newHungProvider(t)
			cfg := testSettings(server.URL)
			cfg.Timeout = 100 * time.Millisecond
			cfg.MaxAttempts = 3
			cfg.RetryInterval = 10 * time.Millisecond
			client := newTestClient(t, cfg)

			engine, _ := newTestEngine(t, client, screening.Options{
				MaxConcurrency: 2,
				BatchTimeout:   testCase.batchTimeout,
				LookupMargin:   testCase.lookupMargin,
				DecidedTTL:     time.Minute,
				UnknownTTL:     time.Second,
			})

			start := time.Now()
			results, err := engine.Screen(context.Background(), []screening.WithdrawalRequest{{RequestID: 1, Recipient: testAddress, Amount: 1}})
			require.NoError(t, err)
			require.Less(t, time.Since(start), testCase.batchTimeout)
			require.Len(t, results, 1)
			require.Equal(t, screening.StatusUnknown, results[0].Status)
			require.Equal(t, testCase.reason, results[0].Decision.Reason)
			if testCase.attempts > 0 {
				// every attempt stops at the register call
				require.Equal(t, testCase.attempts, atomic.LoadInt32(requests))
			}
		})
	}
}
