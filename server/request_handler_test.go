package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/flashbots/blocklist-client/adapters/riskapi"
	"github.com/flashbots/blocklist-client/config"
	"github.com/flashbots/blocklist-client/database"
	"github.com/flashbots/blocklist-client/screening"
	"github.com/flashbots/blocklist-client/testutils"
	"github.com/flashbots/blocklist-client/types"
)

const (
	allowedAddress  = "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed"
	deniedAddress   = "0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359"
	unknownAddress  = "0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb"
	blockedAddress  = "0xd1220a0cf47c7b9be7a2e6ba89f429762e7b9adb"
	testProviderKey = "secret"
)

type testEnv struct {
	backend  *testutils.MockRiskAPI
	store    *database.MemStore
	pusher   *RequestPusher
	server   *BlocklistClientServer
	endpoint *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	backend := testutils.NewMockRiskAPI(testProviderKey)
	backend.SetRisk(allowedAddress, "Low")
	backend.SetRisk(deniedAddress, "Severe")
	backendServer := httptest.NewServer(backend)
	t.Cleanup(backendServer.Close)

	client, err := riskapi.NewClient(log.New(), config.RiskAnalysis{
		APIURL:        backendServer.URL,
		APIKey:        testProviderKey,
		Timeout:       time.Second,
		MaxAttempts:   2,
		RetryInterval: time.Millisecond,
		DenyRisk:      "Severe",
	})
	require.NoError(t, err)

	cache, err := screening.NewMemoryCache(100)
	require.NoError(t, err)
	engine, err := screening.NewEngine(log.New(), client, cache, screening.NewBlocklist(blockedAddress), screening.Options{
		MaxConcurrency: 4,
		BatchTimeout:   5 * time.Second,
		DecidedTTL:     time.Minute,
		UnknownTTL:     time.Second,
	})
	require.NoError(t, err)

	store := database.NewMemStore()
	pusher := NewRequestPusher(log.New(), store, 10, 10*time.Millisecond)
	pusher.Run()
	t.Cleanup(pusher.Stop)

	server := NewBlocklistClientServer(log.New(), "test", "127.0.0.1:0", engine, pusher)
	endpoint := httptest.NewServer(server.Handler())
	t.Cleanup(endpoint.Close)

	return &testEnv{backend: backend, store: store, pusher: pusher, server: server, endpoint: endpoint}
}

func putWithdrawals(t *testing.T, url string, body interface{}) (*http.Response, []byte) {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req, err := http.NewRequest(http.MethodPut, url+"/withdrawal", bytes.NewReader(payload))
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	buf := new(bytes.Buffer)
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func withdrawals(addresses ...string) types.UpdateWithdrawalsRequestBody {
	body := types.UpdateWithdrawalsRequestBody{}
	for i, addr := range addresses {
		body.Withdrawals = append(body.Withdrawals, types.WithdrawalUpdate{
			RequestId: uint64(i + 1),
			Recipient: addr,
			Amount:    uint64(1000 * (i + 1)),
		})
	}
	return body
}

func TestUpdateWithdrawals(t *testing.T) {
	env := newTestEnv(t)

	resp, body := putWithdrawals(t, env.endpoint.URL, withdrawals(allowedAddress, deniedAddress, allowedAddress, unknownAddress, blockedAddress))
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	require.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var res types.UpdateWithdrawalsResponse
	require.NoError(t, json.Unmarshal(body, &res))
	require.Len(t, res.Withdrawals, 5)

	expected := []string{
		types.WithdrawalStatusAccepted,
		types.WithdrawalStatusRejected,
		types.WithdrawalStatusAccepted,
		types.WithdrawalStatusUnknown,
		types.WithdrawalStatusRejected,
	}
	for i, wd := range res.Withdrawals {
		require.Equal(t, uint64(i+1), wd.RequestId)
		require.Equal(t, uint64(1000*(i+1)), wd.Amount)
		require.Equal(t, expected[i], wd.Status, "withdrawal %d", i)
		require.NotZero(t, wd.LastUpdateTimestamp)
	}
	require.Equal(t, "local blocklist", res.Withdrawals[4].StatusMessage)

	require.Equal(t, 1, env.backend.Lookups(allowedAddress))
	require.Equal(t, 0, env.backend.Lookups(blockedAddress))

	// audit entries are written asynchronously
	require.Eventually(t, func() bool { return env.store.Len() == 5 }, time.Second, 5*time.Millisecond)
}

func TestUpdateWithdrawalsAudit(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := putWithdrawals(t, env.endpoint.URL, withdrawals(deniedAddress, allowedAddress))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	env.pusher.Stop()
	require.Equal(t, 2, env.store.Len())

	var batchEntry database.ScreeningEntry
	for _, entry := range env.store.Entries {
		batchEntry = entry
	}
	batch := env.store.Batch(batchEntry.BatchId)
	require.Len(t, batch, 2)
	require.Equal(t, deniedAddress, batch[0].Recipient)
	require.Equal(t, string(screening.VerdictDeny), batch[0].Verdict)
	require.Equal(t, string(screening.SourceProvider), batch[0].Source)
	require.Equal(t, float64(4), batch[0].RiskScore)
	require.Equal(t, string(screening.StatusAccepted), batch[1].Status)
	require.Equal(t, screening.FingerprintFromAddress(allowedAddress).String(), batch[1].Fingerprint)
}

func TestUpdateWithdrawalsBadRequest(t *testing.T) {
	tests := map[string]struct {
		body interface{}
	}{
		"invalid json":           {body: "{withdrawals"},
		"empty body":             {body: ""},
		"empty batch":            {body: types.UpdateWithdrawalsRequestBody{}},
		"empty recipient":        {body: withdrawals(allowedAddress, " ")},
		"amount above int64":     {body: `{"withdrawals":[{"requestId":1,"recipient":"` + allowedAddress + `","amount":9223372036854775808}]}`},
		"request id above int64": {body: `{"withdrawals":[{"requestId":18446744073709551615,"recipient":"` + allowedAddress + `","amount":1}]}`},
	}

	env := newTestEnv(t)
	for name, testCase := range tests {
		t.Run(name, func(t *testing.T) {
			resp, body := putWithdrawals(t, env.endpoint.URL, testCase.body)
			require.Equal(t, http.StatusBadRequest, resp.StatusCode)

			var errResp types.ErrorResponse
			require.NoError(t, json.Unmarshal(body, &errResp))
			require.NotEmpty(t, errResp.Error)
		})
	}
	require.Equal(t, 0, env.backend.TotalLookups())
}

func TestScreenAddress(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.endpoint.URL + "/screen/0xfB6916095ca1df60bB79Ce92cE3Ea74c37c5d359")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res types.ScreenResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.Equal(t, deniedAddress, res.Address)
	require.Equal(t, types.WithdrawalStatusRejected, res.Status)
	require.Equal(t, float64(4), res.RiskScore)
	require.False(t, res.CheckedAt.IsZero())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.Get(env.endpoint.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var res types.HealthResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&res))
	require.Equal(t, "test", res.Version)
	require.False(t, res.StartTime.After(res.Now))
}

type failingScreener struct {
	err error
}

func (s *failingScreener) Screen(ctx context.Context, requests []screening.WithdrawalRequest) ([]screening.Result, error) {
	return nil, s.err
}

func (s *failingScreener) ScreenAddress(ctx context.Context, address string) (screening.Decision, screening.Source, error) {
	return screening.Decision{}, "", s.err
}

func TestScreeningErrors(t *testing.T) {
	tests := map[string]struct {
		err    error
		status int
	}{
		"timeout":        {err: errors.Wrap(screening.ErrTimeout, "context deadline exceeded"), status: http.StatusGatewayTimeout},
		"internal fault": {err: errors.Wrap(screening.ErrInternalFault, "cache get: connection refused"), status: http.StatusInternalServerError},
		"other error":    {err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for name, testCase := range tests {
		t.Run(name, func(t *testing.T) {
			store := database.NewMemStore()
			pusher := NewRequestPusher(log.New(), store, 10, time.Millisecond)
			pusher.Run()
			s := NewBlocklistClientServer(log.New(), "test", "127.0.0.1:0", &failingScreener{err: testCase.err}, pusher)

			req := httptest.NewRequest(http.MethodPut, "/withdrawal", bytes.NewReader([]byte(`{"withdrawals":[{"requestId":1,"recipient":"`+allowedAddress+`","amount":1}]}`)))
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			require.Equal(t, testCase.status, rec.Code)

			var errResp types.ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &errResp))
			require.NotEmpty(t, errResp.Error)
			require.NotContains(t, errResp.Error, "connection refused")

			req = httptest.NewRequest(http.MethodGet, "/screen/"+allowedAddress, nil)
			rec = httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)
			require.Equal(t, testCase.status, rec.Code)

			// failed batches leave no audit trail
			pusher.Stop()
			require.Equal(t, 0, store.Len())
		})
	}
}

func TestUnknownRoute(t *testing.T) {
	s := NewBlocklistClientServer(log.New(), "test", "127.0.0.1:0", &failingScreener{}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/withdrawals", nil))
	require.Equal(t, http.StatusNotFound, rec.Code)
}
