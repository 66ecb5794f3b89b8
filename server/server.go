package server

import (
	"context"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/pkg/errors"

	"github.com/flashbots/blocklist-client/screening"
)

var Now = time.Now // used to mock time in tests

// Screener resolves withdrawal statuses. *screening.Engine implements it.
type Screener interface {
	Screen(ctx context.Context, requests []screening.WithdrawalRequest) ([]screening.Result, error)
	ScreenAddress(ctx context.Context, address string) (screening.Decision, screening.Source, error)
}

type BlocklistClientServer struct {
	logger        log.Logger
	version       string
	startTime     time.Time
	listenAddress string
	screener      Screener
	pusher        *RequestPusher
	httpServer    *http.Server
}

// NewBlocklistClientServer creates the HTTP API. pusher may be nil, then no
// audit entries are recorded.
func NewBlocklistClientServer(logger log.Logger, version, listenAddress string, screener Screener, pusher *RequestPusher) *BlocklistClientServer {
	s := &BlocklistClientServer{
		logger:        logger,
		version:       version,
		startTime:     Now(),
		listenAddress: listenAddress,
		screener:      screener,
		pusher:        pusher,
	}
	s.httpServer = &http.Server{
		Addr:              listenAddress,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *BlocklistClientServer) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Put("/withdrawal", s.handleUpdateWithdrawals)
	r.Get("/screen/{address}", s.handleScreenAddress)
	r.Get("/health", s.handleHealthRequest)
	return r
}

// Start serves until Shutdown is called.
func (s *BlocklistClientServer) Start() error {
	s.logger.Info("[server] starting blocklist client", "version", s.version, "listenAddress", s.listenAddress)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "start blocklist client")
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *BlocklistClientServer) Shutdown(ctx context.Context) error {
	s.logger.Info("[server] shutting down")
	return s.httpServer.Shutdown(ctx)
}
