package server

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"

	"github.com/flashbots/blocklist-client/database"
	"github.com/flashbots/blocklist-client/metrics"
)

// RequestPusher writes audit entries to the store in batches, off the
// request path.
type RequestPusher struct {
	logger     log.Logger
	db         database.Store
	EntryChan  chan database.ScreeningEntry
	BatchChan  chan []database.ScreeningEntry
	maxItem    int           // maximum item to be pushed as batch
	maxTimeOut time.Duration // timeout in which entry to be added to batch queue
	mu         sync.RWMutex
	stopped    bool
	done       chan struct{}
}

func NewRequestPusher(logger log.Logger, db database.Store, maxItem int, maxTimeOut time.Duration) *RequestPusher {
	return &RequestPusher{
		logger:     logger,
		db:         db,
		EntryChan:  make(chan database.ScreeningEntry, 10*maxItem),
		BatchChan:  make(chan []database.ScreeningEntry),
		maxItem:    maxItem,
		maxTimeOut: maxTimeOut,
		done:       make(chan struct{}),
	}
}

func (r *RequestPusher) Run() {
	go r.saveEntries()
	go r.addEntryToEntryQueue()
}

// Push queues entries without blocking. Entries that do not fit the queue
// are dropped and counted as audit errors.
func (r *RequestPusher) Push(entries []database.ScreeningEntry) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.stopped {
		return
	}
	for i, entry := range entries {
		select {
		case r.EntryChan <- entry:
		default:
			metrics.IncAuditStoreErr()
			r.logger.Error("[RequestPusher] queue full, dropping audit entries", "dropped", len(entries)-i)
			return
		}
	}
}

// Stop flushes the queued entries and waits for them to be saved.
func (r *RequestPusher) Stop() {
	r.mu.Lock()
	if !r.stopped {
		r.stopped = true
		close(r.EntryChan)
	}
	r.mu.Unlock()
	<-r.done
}

func (r *RequestPusher) addEntryToEntryQueue() {
	defer close(r.BatchChan)
	ticker := time.NewTicker(r.maxTimeOut)
	defer ticker.Stop()

	for keepGoing := true; keepGoing; {
		var batch []database.ScreeningEntry
	collect:
		for {
			select {
			case entry, ok := <-r.EntryChan:
				if !ok {
					keepGoing = false
					break collect
				}
				batch = append(batch, entry)
				if len(batch) >= r.maxItem {
					break collect
				}
			case <-ticker.C:
				break collect
			}
		}
		if len(batch) > 0 {
			r.BatchChan <- batch
		}
	}
}

func (r *RequestPusher) saveEntries() {
	defer close(r.done)
	for entries := range r.BatchChan {
		r.BatchInsert(entries)
	}
}

func (r *RequestPusher) BatchInsert(entries []database.ScreeningEntry) error {
	if err := r.db.SaveScreeningEntries(entries); err != nil {
		metrics.IncAuditStoreErr()
		r.logger.Error("[RequestPusher] SaveScreeningEntries failed", "count", len(entries), "error", err)
		return err
	}
	r.logger.Debug("[RequestPusher] saved screening entries", "count", len(entries))
	return nil
}
