/*
 * Dummy risk analysis API.
 * Implements the entity register/lookup calls that the tests need.
 */
package testutils

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"
)

const mockEntitiesPath = "/api/risk/v2/entities"

type MockRiskAPI struct {
	APIKey string
	// Delay is applied to every risk lookup.
	Delay time.Duration

	mu          sync.Mutex
	risks       map[string]string // key: address, value: risk level
	unavailable map[string]bool
	registered  map[string]int
	lookups     map[string]int
	inFlight    int
	maxInFlight int
}

func NewMockRiskAPI(apiKey string) *MockRiskAPI {
	return &MockRiskAPI{
		APIKey:      apiKey,
		risks:       make(map[string]string),
		unavailable: make(map[string]bool),
		registered:  make(map[string]int),
		lookups:     make(map[string]int),
	}
}

// SetRisk sets the risk level returned for address. Addresses without a
// level answer 404.
func (m *MockRiskAPI) SetRisk(address, level string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.risks[address] = level
}

// SetUnavailable makes every lookup of address fail with 503.
func (m *MockRiskAPI) SetUnavailable(address string, unavailable bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unavailable[address] = unavailable
}

func (m *MockRiskAPI) Lookups(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups[address]
}

func (m *MockRiskAPI) Registrations(address string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registered[address]
}

func (m *MockRiskAPI) TotalLookups() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	total := 0
	for _, n := range m.lookups {
		total += n
	}
	return total
}

// MaxInFlight is the highest number of lookups served at the same time.
func (m *MockRiskAPI) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

func (m *MockRiskAPI) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	if m.APIKey != "" && req.Header.Get("Token") != m.APIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "invalid token"})
		return
	}

	switch {
	case req.Method == http.MethodPost && req.URL.Path == mockEntitiesPath:
		var body struct {
			Address string `json:"address"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil || body.Address == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "address is required"})
			return
		}
		m.mu.Lock()
		m.registered[body.Address]++
		m.mu.Unlock()
		writeJSON(w, http.StatusCreated, map[string]string{"address": body.Address})

	case req.Method == http.MethodGet && strings.HasPrefix(req.URL.Path, mockEntitiesPath+"/"):
		m.serveLookup(w, strings.TrimPrefix(req.URL.Path, mockEntitiesPath+"/"))

	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "not found"})
	}
}

func (m *MockRiskAPI) serveLookup(w http.ResponseWriter, address string) {
	m.mu.Lock()
	m.lookups[address]++
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	risk, known := m.risks[address]
	unavailable := m.unavailable[address]
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if m.Delay > 0 {
		time.Sleep(m.Delay)
	}

	switch {
	case unavailable:
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "try again later"})
	case !known:
		writeJSON(w, http.StatusNotFound, map[string]string{"message": "entity not found"})
	default:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"address":    address,
			"risk":       risk,
			"riskReason": nil,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
