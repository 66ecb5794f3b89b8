package metrics

import (
	"fmt"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// Provider lookup outcomes. unavailable and no_info both end in an unknown
// decision and are only told apart here.
const (
	LookupAllow       = "allow"
	LookupDeny        = "deny"
	LookupNoInfo      = "no_info"
	LookupUnavailable = "unavailable"
	LookupRejected    = "rejected"
)

var (
	decisionCacheHit       = metrics.NewCounter(`decision_cache_total{result="hit"}`)
	decisionCacheMiss      = metrics.NewCounter(`decision_cache_total{result="miss"}`)
	blocklistHit           = metrics.NewCounter("blocklist_hit_total")
	providerLookupDuration = metrics.NewHistogram("provider_lookup_duration_seconds")
	providerRetry          = metrics.NewCounter("provider_lookup_retry_total")
	lookupDeadlineExceeded = metrics.NewCounter("lookup_deadline_exceeded_total")
)

func providerLookupKey(outcome string) string {
	return fmt.Sprintf(`provider_lookup_total{outcome="%s"}`, outcome)
}

func InitProviderLookupMetric() {
	for _, outcome := range []string{LookupAllow, LookupDeny, LookupNoInfo, LookupUnavailable, LookupRejected} {
		// just initialize metrics record
		metrics.GetOrCreateCounter(providerLookupKey(outcome))
	}
}

func IncProviderLookup(outcome string) {
	metrics.GetOrCreateCounter(providerLookupKey(outcome)).Inc()
}

func ProviderLookups(outcome string) uint64 {
	return metrics.GetOrCreateCounter(providerLookupKey(outcome)).Get()
}

func IncProviderRetry() {
	providerRetry.Inc()
}

func ObserveProviderLookupDuration(d time.Duration) {
	providerLookupDuration.Update(d.Seconds())
}

// IncLookupDeadlineExceeded counts misses resolved to unknown because the
// batch ran out of time before the provider answered.
func IncLookupDeadlineExceeded() {
	lookupDeadlineExceeded.Inc()
}

func IncDecisionCacheHit() {
	decisionCacheHit.Inc()
}

func IncDecisionCacheMiss() {
	decisionCacheMiss.Inc()
}

func IncBlocklistHit() {
	blocklistHit.Inc()
}

func IncScreeningBatch(result string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`screening_batches_total{result="%s"}`, result)).Inc()
}

func IncScreenedWithdrawals(status string, n int) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`screened_withdrawals_total{status="%s"}`, status)).Add(n)
}
