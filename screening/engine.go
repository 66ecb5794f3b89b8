package screening

import (
	"context"
	"sort"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"github.com/flashbots/blocklist-client/config"
	"github.com/flashbots/blocklist-client/metrics"
)

const (
	blocklistReason      = "local blocklist"
	lookupDeadlineReason = "risk provider did not answer in time"

	defaultLookupMargin = 500 * time.Millisecond
)

type Options struct {
	// Maximum number of concurrent provider lookups, shared by all batches.
	MaxConcurrency int
	// Whole batch deadline, 0 leaves it to the caller's context.
	BatchTimeout time.Duration
	// Lookups still running this long before the batch deadline resolve to
	// unknown. Capped at half the remaining time, 0 means 500ms.
	LookupMargin time.Duration
	DecidedTTL   time.Duration
	// Unknown decisions expire sooner so the provider is asked again.
	UnknownTTL time.Duration
}

func OptionsFromSettings(s *config.Settings) Options {
	return Options{
		MaxConcurrency: s.Screening.MaxConcurrency,
		BatchTimeout:   s.Screening.BatchTimeout,
		LookupMargin:   s.Screening.LookupMargin,
		DecidedTTL:     s.Cache.DecidedTTL,
		UnknownTTL:     s.Cache.UnknownTTL,
	}
}

type resolution struct {
	decision Decision
	source   Source
}

type installedBlocklist struct {
	list        *Blocklist
	installedAt time.Time
}

type lookupResult struct {
	fp       Fingerprint
	decision Decision
	err      error
}

// Engine screens batches of withdrawal requests. It is safe for concurrent
// use; batches share the decision cache, the lookup slots and in-flight
// provider lookups.
type Engine struct {
	logger    log.Logger
	provider  RiskProvider
	cache     DecisionCache
	blocklist atomic.Pointer[installedBlocklist]
	opts      Options
	sem       *semaphore.Weighted
	inflight  singleflight.Group
	now       func() time.Time
}

func NewEngine(logger log.Logger, provider RiskProvider, cache DecisionCache, blocklist *Blocklist, opts Options) (*Engine, error) {
	if provider == nil {
		return nil, errors.New("nil dependency: provider")
	}
	if cache == nil {
		return nil, errors.New("nil dependency: cache")
	}
	if opts.MaxConcurrency < 1 {
		return nil, errors.Errorf("invalid max concurrency %d", opts.MaxConcurrency)
	}
	if opts.DecidedTTL <= 0 || opts.UnknownTTL <= 0 {
		return nil, errors.New("cache ttls must be positive")
	}
	if opts.LookupMargin < 0 {
		return nil, errors.Errorf("invalid lookup margin %s", opts.LookupMargin)
	}
	if opts.LookupMargin == 0 {
		opts.LookupMargin = defaultLookupMargin
	}
	if logger == nil {
		logger = log.New()
	}
	e := &Engine{
		logger:   logger,
		provider: provider,
		cache:    cache,
		opts:     opts,
		sem:      semaphore.NewWeighted(int64(opts.MaxConcurrency)),
		now:      time.Now,
	}
	e.SetBlocklist(blocklist)
	return e, nil
}

// SetBlocklist replaces the local blocklist. Batches already running keep
// the list they started with. Denials from the list carry the time it was
// installed.
func (e *Engine) SetBlocklist(b *Blocklist) {
	if b == nil {
		b = NewBlocklist()
	}
	e.blocklist.Store(&installedBlocklist{list: b, installedAt: e.now()})
}

func (e *Engine) Blocklist() *Blocklist {
	return e.blocklist.Load().list
}

// Screen resolves a status for every request. The results have the same
// length and order as requests. Requests with the same recipient always get
// the same decision. The batch either completes or fails as a whole with
// ErrTimeout or ErrInternalFault; provider failures only turn the affected
// decisions into unknown.
func (e *Engine) Screen(ctx context.Context, requests []WithdrawalRequest) ([]Result, error) {
	if e.opts.BatchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.opts.BatchTimeout)
		defer cancel()
	}

	timeStarted := e.now()
	fingerprints := make([]Fingerprint, len(requests))
	addresses := make(map[Fingerprint]string, len(requests))
	for i, req := range requests {
		fp := FingerprintFromAddress(req.Recipient)
		fingerprints[i] = fp
		if _, ok := addresses[fp]; !ok {
			addresses[fp] = NormalizeAddress(req.Recipient)
		}
	}

	resolved, err := e.resolve(ctx, addresses)
	if err != nil {
		e.reportBatchError(err)
		return nil, err
	}

	results, err := assemble(requests, fingerprints, resolved)
	if err != nil {
		e.reportBatchError(err)
		return nil, err
	}

	metrics.IncScreeningBatch("ok")
	e.logger.Debug("[Engine.Screen] batch screened", "size", len(requests), "unique", len(addresses), "timeNeeded", time.Since(timeStarted))
	return results, nil
}

// ScreenAddress screens a single address the same way a batch entry is.
func (e *Engine) ScreenAddress(ctx context.Context, address string) (Decision, Source, error) {
	results, err := e.Screen(ctx, []WithdrawalRequest{{Recipient: address}})
	if err != nil {
		return Decision{}, "", err
	}
	return results[0].Decision, results[0].Source, nil
}

func (e *Engine) reportBatchError(err error) {
	switch {
	case errors.Is(err, ErrTimeout):
		metrics.IncScreeningBatch("timeout")
		e.logger.Warn("[Engine.Screen] batch timed out", "error", err)
	default:
		metrics.IncScreeningBatch("internal_fault")
		e.logger.Error("[Engine.Screen] batch failed", "error", err)
	}
}

// resolve returns a decision for every fingerprint in addresses.
func (e *Engine) resolve(ctx context.Context, addresses map[Fingerprint]string) (map[Fingerprint]resolution, error) {
	unique := maps.Keys(addresses)
	sort.Slice(unique, func(i, j int) bool { return unique[i] < unique[j] })

	blocklist := e.blocklist.Load()
	resolved := make(map[Fingerprint]resolution, len(unique))
	misses := make([]Fingerprint, 0, len(unique))
	for _, fp := range unique {
		if blocklist.list.Contains(fp) {
			metrics.IncBlocklistHit()
			resolved[fp] = resolution{
				decision: Decision{Verdict: VerdictDeny, Reason: blocklistReason, ComputedAt: blocklist.installedAt},
				source:   SourceBlocklist,
			}
			continue
		}

		decision, ok, err := e.cache.Get(ctx, fp)
		if err != nil {
			if ctx.Err() != nil {
				return nil, timeout(ctx)
			}
			return nil, internalFault("cache get %s: %v", fp, err)
		}
		if ok {
			metrics.IncDecisionCacheHit()
			resolved[fp] = resolution{decision: decision, source: SourceCache}
			continue
		}
		metrics.IncDecisionCacheMiss()
		misses = append(misses, fp)
	}

	if len(misses) > 0 {
		fresh, err := e.lookupAll(ctx, misses, addresses)
		if err != nil {
			return nil, err
		}
		for fp, decision := range fresh {
			resolved[fp] = resolution{decision: decision, source: SourceProvider}
		}
	}

	for _, fp := range unique {
		if _, ok := resolved[fp]; !ok {
			return nil, internalFault("fingerprint %s left unresolved", fp)
		}
	}
	return resolved, nil
}

// lookupAll asks the provider about every miss, at most MaxConcurrency at a
// time across all batches. Misses still unanswered LookupMargin before the
// deadline of ctx resolve to unknown and are not cached. If ctx is done first
// the batch is abandoned. Lookups already started keep running on a detached
// context and still populate the cache.
func (e *Engine) lookupAll(ctx context.Context, misses []Fingerprint, addresses map[Fingerprint]string) (map[Fingerprint]Decision, error) {
	results := make(chan lookupResult, len(misses))
	lookupCtx := context.WithoutCancel(ctx)
	dispatchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var expired <-chan time.Time
	if deadline, ok := ctx.Deadline(); ok {
		timer := time.NewTimer(e.lookupWindow(deadline))
		defer timer.Stop()
		expired = timer.C
	}

	go func() {
		for _, fp := range misses {
			if err := e.sem.Acquire(dispatchCtx, 1); err != nil {
				return
			}
			go func(fp Fingerprint, address string) {
				defer e.sem.Release(1)
				decision, err := e.lookup(lookupCtx, fp, address)
				results <- lookupResult{fp: fp, decision: decision, err: err}
			}(fp, addresses[fp])
		}
	}()

	fresh := make(map[Fingerprint]Decision, len(misses))
	for len(fresh) < len(misses) {
		select {
		case <-ctx.Done():
			return nil, timeout(ctx)
		case <-expired:
			at := e.now()
			for _, fp := range misses {
				if _, ok := fresh[fp]; !ok {
					metrics.IncLookupDeadlineExceeded()
					e.logger.Warn("[Engine.lookupAll] lookup unanswered at batch deadline", "fingerprint", fp)
					fresh[fp] = UnknownDecision(lookupDeadlineReason, at)
				}
			}
			return fresh, nil
		case res := <-results:
			if res.err != nil {
				return nil, res.err
			}
			fresh[res.fp] = res.decision
		}
	}
	return fresh, nil
}

// lookupWindow is the time lookups get before the batch gives up on them.
func (e *Engine) lookupWindow(deadline time.Time) time.Duration {
	remaining := time.Until(deadline)
	margin := e.opts.LookupMargin
	if margin > remaining/2 {
		margin = remaining / 2
	}
	return remaining - margin
}

// lookup queries the provider and caches the decision. Concurrent lookups
// of the same fingerprint, from any batch, share one provider call.
func (e *Engine) lookup(ctx context.Context, fp Fingerprint, address string) (Decision, error) {
	v, err, _ := e.inflight.Do(fp.String(), func() (interface{}, error) {
		decision, err := e.provider.Lookup(ctx, address)
		if err != nil {
			e.logger.Warn("[Engine.lookup] provider lookup failed", "fingerprint", fp, "error", err)
			decision = UnknownDecision("provider lookup failed", e.now())
		}
		if decision.ComputedAt.IsZero() {
			decision.ComputedAt = e.now()
		}
		if err := e.cache.Put(ctx, fp, decision, e.ttl(decision.Verdict)); err != nil {
			return decision, internalFault("cache put %s: %v", fp, err)
		}
		return decision, nil
	})
	if err != nil {
		return Decision{}, err
	}
	return v.(Decision), nil
}

func (e *Engine) ttl(verdict Verdict) time.Duration {
	if verdict == VerdictAllow || verdict == VerdictDeny {
		return e.opts.DecidedTTL
	}
	return e.opts.UnknownTTL
}
