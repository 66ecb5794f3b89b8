package metrics

import (
	"net/http"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

var (
	auditStoreErr = metrics.NewCounter("audit_store_error_total")
	redisErr      = metrics.NewCounter("redis_error_total")
)

func IncAuditStoreErr() {
	auditStoreErr.Inc()
}

func IncRedisErr() {
	redisErr.Inc()
}

func DefaultServer(addr string) *http.Server {
	metricsMux := http.NewServeMux()
	metricsMux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		metrics.WritePrometheus(w, true)
	})

	return &http.Server{
		Addr:              addr,
		ReadHeaderTimeout: 5 * time.Second,
		Handler:           metricsMux,
	}
}
