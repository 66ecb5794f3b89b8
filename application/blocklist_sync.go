package application

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/pkg/errors"

	"github.com/flashbots/blocklist-client/screening"
)

type Fetcher interface {
	Fetch(ctx context.Context) ([]byte, error)
}

type BlocklistUpdater interface {
	SetBlocklist(b *screening.Blocklist)
}

// BlocklistSyncService keeps the engine's blocklist in sync with a remote
// list. The local list is always included.
type BlocklistSyncService struct {
	logger   log.Logger
	fetcher  Fetcher
	updater  BlocklistUpdater
	local    *screening.Blocklist
	mu       sync.Mutex
	lastSync time.Time
}

// StartBlocklistSyncService installs the local list, fetches the remote one
// once and then refreshes it every fetchInterval until ctx is done. The
// first fetch must succeed.
func StartBlocklistSyncService(ctx context.Context, logger log.Logger, fetcher Fetcher, updater BlocklistUpdater, local *screening.Blocklist, fetchInterval time.Duration) (*BlocklistSyncService, error) {
	bss := &BlocklistSyncService{
		logger:  logger,
		fetcher: fetcher,
		updater: updater,
		local:   local,
	}
	updater.SetBlocklist(local)
	if fetcher == nil {
		return bss, nil
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := bss.sync(fetchCtx); err != nil {
		return nil, err
	}
	go bss.syncLoop(ctx, fetchInterval)
	return bss, nil
}

func (bss *BlocklistSyncService) LastSync() time.Time {
	bss.mu.Lock()
	defer bss.mu.Unlock()
	return bss.lastSync
}

func (bss *BlocklistSyncService) syncLoop(ctx context.Context, fetchInterval time.Duration) {
	ticker := time.NewTicker(fetchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fetchCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			// the previous list stays active on failure
			if err := bss.sync(fetchCtx); err != nil {
				bss.logger.Error("[BlocklistSyncService] failed to fetch blocklist", "err", err)
			}
			cancel()
		}
	}
}

func (bss *BlocklistSyncService) sync(ctx context.Context) error {
	bts, err := bss.fetcher.Fetch(ctx)
	if err != nil {
		return errors.Wrap(err, "fetch blocklist")
	}
	remote, err := screening.ParseBlocklist(bts)
	if err != nil {
		return err
	}
	merged := bss.local.Merge(remote)
	bss.updater.SetBlocklist(merged)

	bss.mu.Lock()
	bss.lastSync = time.Now()
	bss.mu.Unlock()
	bss.logger.Info("[BlocklistSyncService] blocklist updated", "local", bss.local.Len(), "remote", remote.Len(), "total", merged.Len())
	return nil
}
