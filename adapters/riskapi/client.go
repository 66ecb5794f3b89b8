package riskapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/flashbots/blocklist-client/config"
	"github.com/flashbots/blocklist-client/metrics"
	"github.com/flashbots/blocklist-client/screening"
)

const (
	EntitiesPath = "/api/risk/v2/entities"
	TokenHeader  = "Token"
)

var (
	// ErrRequest is a well-formed refusal from the provider. It is not retried.
	ErrRequest = errors.New("request rejected")
	// ErrNoInformation means the provider has nothing on the address.
	ErrNoInformation = errors.New("no risk information")
	// ErrUnavailable covers transport failures, timeouts and 5xx/429 answers.
	ErrUnavailable = errors.New("provider unavailable")
)

// Provider risk levels and their scores.
var riskScores = map[string]float64{
	"low":    1,
	"medium": 2,
	"high":   3,
	"severe": 4,
}

type RegisterRequest struct {
	Address string `json:"address"`
}

type EntityResponse struct {
	Address    string  `json:"address"`
	Risk       string  `json:"risk"`
	RiskReason *string `json:"riskReason"`
}

type ErrorResponse struct {
	Message string `json:"message"`
}

// Client screens addresses with the risk analysis API.
type Client struct {
	logger        log.Logger
	baseURL       string
	apiKey        string
	httpClient    http.Client
	timeout       time.Duration
	maxAttempts   int
	retryInterval time.Duration
	denyScore     float64
	limiter       *rate.Limiter
	now           func() time.Time
}

var _ screening.RiskProvider = (*Client)(nil)

func NewClient(logger log.Logger, cfg config.RiskAnalysis) (*Client, error) {
	denyScore, ok := riskScores[strings.ToLower(cfg.DenyRisk)]
	if !ok {
		return nil, errors.Errorf("unknown deny risk level %q", cfg.DenyRisk)
	}
	if cfg.MaxAttempts < 1 {
		return nil, errors.Errorf("invalid max attempts %d", cfg.MaxAttempts)
	}
	if logger == nil {
		logger = log.New()
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	logger.Info("[riskapi] client created", "url", cfg.APIURL, "timeout", cfg.Timeout, "maxAttempts", cfg.MaxAttempts)
	return &Client{
		logger:        logger,
		baseURL:       strings.TrimRight(cfg.APIURL, "/"),
		apiKey:        cfg.APIKey,
		timeout:       cfg.Timeout,
		maxAttempts:   cfg.MaxAttempts,
		retryInterval: cfg.RetryInterval,
		denyScore:     denyScore,
		limiter:       limiter,
		now:           time.Now,
	}, nil
}

// Lookup registers the address with the provider and fetches its risk.
// Unavailability after all attempts and provider refusals both end in an
// unknown decision; the outcome metric tells them apart. The error is non-nil
// only if ctx is done.
func (c *Client) Lookup(ctx context.Context, address string) (screening.Decision, error) {
	start := time.Now()
	defer func() {
		metrics.ObserveProviderLookupDuration(time.Since(start))
	}()

	var entity *EntityResponse
	attempt := 0
	operation := func() error {
		attempt++
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return backoff.Permanent(err)
			}
		}
		res, err := c.fetch(ctx, address)
		if err != nil {
			if errors.Is(err, ErrRequest) || errors.Is(err, ErrNoInformation) || ctx.Err() != nil {
				return backoff.Permanent(err)
			}
			return err
		}
		entity = res
		return nil
	}
	notify := func(err error, next time.Duration) {
		metrics.IncProviderRetry()
		c.logger.Debug("[riskapi.Lookup] retrying", "address", address, "attempt", attempt, "next", next, "error", err)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(c.newBackOff(), ctx), notify)
	if err != nil {
		if ctx.Err() != nil {
			return screening.Decision{}, errors.Wrap(ctx.Err(), "risk lookup abandoned")
		}
		return c.unknown(address, attempt, err), nil
	}
	return c.decide(entity), nil
}

func (c *Client) newBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.retryInterval
	b.Multiplier = 2
	// the attempt cap is the only retry budget
	b.MaxElapsedTime = 0
	return backoff.WithMaxRetries(b, uint64(c.maxAttempts-1))
}

func (c *Client) unknown(address string, attempts int, err error) screening.Decision {
	switch {
	case errors.Is(err, ErrNoInformation):
		metrics.IncProviderLookup(metrics.LookupNoInfo)
		c.logger.Info("[riskapi.Lookup] no risk information", "address", address)
		return screening.UnknownDecision("no risk information", c.now())
	case errors.Is(err, ErrRequest):
		metrics.IncProviderLookup(metrics.LookupRejected)
		c.logger.Warn("[riskapi.Lookup] request rejected", "address", address, "error", err)
		return screening.UnknownDecision("risk provider rejected the request", c.now())
	default:
		metrics.IncProviderLookup(metrics.LookupUnavailable)
		c.logger.Warn("[riskapi.Lookup] provider unavailable", "address", address, "attempts", attempts, "error", err)
		return screening.UnknownDecision("risk provider unavailable", c.now())
	}
}

func (c *Client) decide(entity *EntityResponse) screening.Decision {
	level := strings.TrimSpace(entity.Risk)
	score, ok := riskScores[strings.ToLower(level)]
	if !ok {
		metrics.IncProviderLookup(metrics.LookupNoInfo)
		return screening.UnknownDecision(fmt.Sprintf("unrecognized risk level %q", level), c.now())
	}

	reason := level + " risk"
	if entity.RiskReason != nil && *entity.RiskReason != "" {
		reason += ": " + *entity.RiskReason
	}

	verdict := screening.VerdictAllow
	outcome := metrics.LookupAllow
	if score >= c.denyScore {
		verdict = screening.VerdictDeny
		outcome = metrics.LookupDeny
	}
	metrics.IncProviderLookup(outcome)

	return screening.Decision{
		Verdict:    verdict,
		Score:      score,
		Reason:     reason,
		ComputedAt: c.now(),
	}
}

// fetch is a single attempt bounded by the configured timeout.
func (c *Client) fetch(ctx context.Context, address string) (*EntityResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(RegisterRequest{Address: address})
	if err != nil {
		return nil, errors.Wrap(err, "marshal register request")
	}
	if _, err = c.do(ctx, http.MethodPost, c.baseURL+EntitiesPath, body); err != nil {
		return nil, errors.Wrap(err, "register address")
	}

	respBody, err := c.do(ctx, http.MethodGet, c.baseURL+EntitiesPath+"/"+url.PathEscape(address), nil)
	if err != nil {
		return nil, errors.Wrap(err, "get risk")
	}

	entity := new(EntityResponse)
	if err = json.Unmarshal(respBody, entity); err != nil {
		// a garbled body is treated like any other bad gateway answer
		return nil, errors.Wrapf(ErrUnavailable, "unmarshal entity: %v", err)
	}
	if strings.TrimSpace(entity.Risk) == "" {
		return nil, ErrNoInformation
	}
	return entity, nil
}

func (c *Client) do(ctx context.Context, method, target string, body []byte) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set(TokenHeader, c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	respBody, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}

	switch {
	case resp.StatusCode < 300:
		return respBody, nil
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrNoInformation
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, errors.Wrapf(ErrUnavailable, "status code %d", resp.StatusCode)
	default:
		errResp := new(ErrorResponse)
		if json.Unmarshal(respBody, errResp) == nil && errResp.Message != "" {
			return nil, errors.Wrapf(ErrRequest, "status code %d: %s", resp.StatusCode, errResp.Message)
		}
		return nil, errors.Wrapf(ErrRequest, "status code %d", resp.StatusCode)
	}
}
