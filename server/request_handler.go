package server

import (
	"encoding/json"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/flashbots/blocklist-client/database"
	"github.com/flashbots/blocklist-client/metrics"
	"github.com/flashbots/blocklist-client/screening"
	"github.com/flashbots/blocklist-client/types"
)

const maxRequestBodySize = 1 << 20

var errEmptyBatch = errors.New("no withdrawals in request")

func (s *BlocklistClientServer) handleUpdateWithdrawals(w http.ResponseWriter, req *http.Request) {
	timeStarted := Now()
	uid := uuid.New()
	logger := s.logger.New("uid", uid, "ip", GetIP(req))

	body, err := io.ReadAll(io.LimitReader(req.Body, maxRequestBodySize))
	if err != nil {
		logger.Error("[handleUpdateWithdrawals] failed to read request body", "error", err)
		writeError(w, http.StatusBadRequest, err)
		return
	}

	var reqBody types.UpdateWithdrawalsRequestBody
	if err = json.Unmarshal(body, &reqBody); err != nil {
		logger.Info("[handleUpdateWithdrawals] invalid request body", "error", err)
		writeError(w, http.StatusBadRequest, errors.Wrap(err, "parse request body"))
		return
	}
	if len(reqBody.Withdrawals) == 0 {
		writeError(w, http.StatusBadRequest, errEmptyBatch)
		return
	}

	requests := make([]screening.WithdrawalRequest, len(reqBody.Withdrawals))
	for i, wd := range reqBody.Withdrawals {
		if strings.TrimSpace(wd.Recipient) == "" {
			writeError(w, http.StatusBadRequest, errors.Errorf("withdrawal %d has no recipient", wd.RequestId))
			return
		}
		// audit rows store both as BIGINT
		if wd.RequestId > math.MaxInt64 || wd.Amount > math.MaxInt64 {
			writeError(w, http.StatusBadRequest, errors.Errorf("withdrawal %d: request id and amount must not exceed %d", wd.RequestId, int64(math.MaxInt64)))
			return
		}
		requests[i] = screening.WithdrawalRequest{
			RequestID: wd.RequestId,
			Recipient: wd.Recipient,
			Amount:    wd.Amount,
		}
	}

	results, err := s.screener.Screen(req.Context(), requests)
	if err != nil {
		writeScreeningError(w, logger, err)
		return
	}

	resp := types.UpdateWithdrawalsResponse{Withdrawals: make([]types.Withdrawal, len(results))}
	counts := make(map[screening.Status]int)
	for i, res := range results {
		counts[res.Status]++
		resp.Withdrawals[i] = types.Withdrawal{
			RequestId:           res.Request.RequestID,
			Recipient:           res.Request.Recipient,
			Amount:              res.Request.Amount,
			Status:              string(res.Status),
			StatusMessage:       res.Decision.Reason,
			LastUpdateTimestamp: res.Decision.ComputedAt.Unix(),
		}
	}
	for status, n := range counts {
		metrics.IncScreenedWithdrawals(string(status), n)
	}

	s.recordScreening(uid, timeStarted, results)
	logger.Info("[handleUpdateWithdrawals] withdrawals screened", "count", len(results), "accepted", counts[screening.StatusAccepted], "rejected", counts[screening.StatusRejected], "unknown", counts[screening.StatusUnknown], "timeNeeded", time.Since(timeStarted))
	writeJSON(w, http.StatusOK, resp)
}

func (s *BlocklistClientServer) handleScreenAddress(w http.ResponseWriter, req *http.Request) {
	address := chi.URLParam(req, "address")
	logger := s.logger.New("uid", uuid.New(), "ip", GetIP(req))
	if strings.TrimSpace(address) == "" {
		writeError(w, http.StatusBadRequest, errors.New("address is required"))
		return
	}

	decision, source, err := s.screener.ScreenAddress(req.Context(), address)
	if err != nil {
		writeScreeningError(w, logger, err)
		return
	}

	logger.Info("[handleScreenAddress] address screened", "verdict", decision.Verdict, "source", source)
	writeJSON(w, http.StatusOK, types.ScreenResponse{
		Address:   screening.NormalizeAddress(address),
		Status:    string(decision.Verdict.Status()),
		RiskScore: decision.Score,
		Reason:    decision.Reason,
		CheckedAt: decision.ComputedAt,
	})
}

func (s *BlocklistClientServer) handleHealthRequest(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, http.StatusOK, types.HealthResponse{
		Now:       Now(),
		StartTime: s.startTime,
		Version:   s.version,
	})
}

// recordScreening hands the batch to the audit pusher.
func (s *BlocklistClientServer) recordScreening(batchId uuid.UUID, receivedAt time.Time, results []screening.Result) {
	if s.pusher == nil {
		return
	}
	insertedAt := Now()
	entries := make([]database.ScreeningEntry, len(results))
	for i, res := range results {
		entries[i] = database.ScreeningEntry{
			Id:          uuid.New(),
			BatchId:     batchId,
			Position:    i,
			RequestId:   int64(res.Request.RequestID),
			Recipient:   res.Request.Recipient,
			Amount:      int64(res.Request.Amount),
			Fingerprint: res.Fingerprint.String(),
			Verdict:     string(res.Decision.Verdict),
			Status:      string(res.Status),
			RiskScore:   res.Decision.Score,
			Reason:      res.Decision.Reason,
			Source:      string(res.Source),
			DecidedAt:   res.Decision.ComputedAt,
			ReceivedAt:  receivedAt,
			InsertedAt:  insertedAt,
		}
	}
	s.pusher.Push(entries)
}

func writeScreeningError(w http.ResponseWriter, logger log.Logger, err error) {
	switch {
	case errors.Is(err, screening.ErrTimeout):
		logger.Warn("[server] screening timed out", "error", err)
		writeError(w, http.StatusGatewayTimeout, screening.ErrTimeout)
	default:
		logger.Error("[server] screening failed", "error", err)
		writeError(w, http.StatusInternalServerError, screening.ErrInternalFault)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, types.ErrorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	jsonResp, err := json.Marshal(v)
	if err != nil {
		log.Error("[server] json marshal error", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(jsonResp)
}

func GetIP(r *http.Request) string {
	forwarded := r.Header.Get("X-Forwarded-For")
	if forwarded != "" {
		return forwarded
	}
	return r.RemoteAddr
}
