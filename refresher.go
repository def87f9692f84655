package rgbld

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lightninglabs/rgb-lightning/fn"
	"github.com/lightninglabs/rgb-lightning/proxy"
	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightninglabs/rgb-lightning/rgbdb"
	"github.com/lightningnetwork/lnd/ticker"
)

const (
	// DefaultRefreshInterval is the interval of the periodic refresh.
	DefaultRefreshInterval = 10 * time.Minute

	// refreshTimeout is the timeout of a single periodic refresh.
	refreshTimeout = 2 * time.Minute
)

// ListenList is the set of contracts the refresher watches.
type ListenList interface {
	// Listened returns the watched contracts.
	Listened(ctx context.Context) ([]rgb.ContractID, error)
}

// LedgerRefresher settles the pending state of a contract.
type LedgerRefresher interface {
	// Refresh settles pending state whose output confirmed and returns
	// the number of settled entries.
	Refresh(ctx context.Context, contractID rgb.ContractID) (int, error)
}

// DeliveryRetrier restarts failed consignment deliveries.
type DeliveryRetrier interface {
	// RetryPending restarts all deliveries that didn't complete.
	RetryPending(ctx context.Context) error
}

// ChannelLister lists the allocations of a registry partition.
type ChannelLister interface {
	// List returns all allocations of the partition.
	List(ctx context.Context, p rgbdb.Partition) ([]*rgb.Allocation,
		error)
}

// RefresherCfg is the configuration of the refresher.
type RefresherCfg struct {
	Assets ListenList

	Ledger LedgerRefresher

	Deliveries DeliveryRetrier

	Channels ChannelLister

	// Courier is asked for the counterparty's acks of channel
	// consignments.
	Courier proxy.Courier

	// Ticker triggers the periodic refresh.
	Ticker ticker.Ticker
}

// Refresher periodically settles the state of all listened contracts,
// restarts failed deliveries and collects the acks of delivered channel
// consignments.
type Refresher struct {
	startOnce sync.Once
	stopOnce  sync.Once

	cfg *RefresherCfg

	// acks holds the verdict of every channel consignment the
	// counterparty decided on.
	acksMtx sync.Mutex
	acks    map[string]bool

	*fn.ContextGuard
}

// NewRefresher creates a new refresher.
func NewRefresher(cfg *RefresherCfg) *Refresher {
	return &Refresher{
		cfg:          cfg,
		acks:         make(map[string]bool),
		ContextGuard: fn.NewContextGuard(refreshTimeout),
	}
}

// Start launches the periodic refresh.
func (r *Refresher) Start() error {
	r.startOnce.Do(func() {
		srvrLog.Info("Starting refresher")

		r.cfg.Ticker.Resume()

		r.Wg.Add(1)
		go r.refreshLoop()
	})

	return nil
}

// Stop halts the periodic refresh.
func (r *Refresher) Stop() error {
	r.stopOnce.Do(func() {
		srvrLog.Info("Stopping refresher")

		close(r.Quit)
		r.Wg.Wait()
		r.cfg.Ticker.Stop()
	})

	return nil
}

// refreshLoop runs a refresh on every tick.
//
// NOTE: This method MUST be run as a goroutine.
func (r *Refresher) refreshLoop() {
	defer r.Wg.Done()

	for {
		select {
		case <-r.cfg.Ticker.Ticks():
			ctx, cancel := r.WithCtxQuit()
			settled, err := r.RefreshAll(ctx)
			cancel()

			switch {
			case errors.Is(err, context.Canceled):
				return

			case err != nil:
				srvrLog.Errorf("Refresh failed: %v", err)

			case settled > 0:
				srvrLog.Infof("Refresh settled %d outputs",
					settled)
			}

		case <-r.Quit:
			return
		}
	}
}

// RefreshAll refreshes all listened contracts in parallel, restarts failed
// deliveries and polls the acks of channel consignments. It returns the
// number of settled ledger entries.
func (r *Refresher) RefreshAll(ctx context.Context) (int, error) {
	contracts, err := r.cfg.Assets.Listened(ctx)
	if err != nil {
		return 0, err
	}

	var settled atomic.Int64
	err = fn.ParSlice(
		ctx, contracts,
		func(ctx context.Context, id rgb.ContractID) error {
			n, err := r.cfg.Ledger.Refresh(ctx, id)
			if err != nil {
				return fmt.Errorf("unable to refresh %v: %w",
					id, err)
			}
			settled.Add(int64(n))

			return nil
		},
	)
	if err != nil {
		return int(settled.Load()), err
	}

	if err := r.cfg.Deliveries.RetryPending(ctx); err != nil {
		return int(settled.Load()), err
	}

	if err := r.pollAcks(ctx); err != nil {
		return int(settled.Load()), err
	}

	return int(settled.Load()), nil
}

// pollAcks asks the proxy for the acks of all confirmed channels the
// counterparty didn't decide on yet. Proxy failures are logged only.
func (r *Refresher) pollAcks(ctx context.Context) error {
	confirmed, err := r.cfg.Channels.List(ctx, rgbdb.PartitionConfirmed)
	if err != nil {
		return err
	}

	r.acksMtx.Lock()
	defer r.acksMtx.Unlock()

	for _, alloc := range confirmed {
		if _, ok := r.acks[alloc.ChannelID]; ok {
			continue
		}

		ack, err := r.cfg.Courier.GetAck(ctx, alloc.ChannelID)
		switch {
		case errors.Is(err, proxy.ErrNotFound):
			continue

		case err != nil:
			srvrLog.Debugf("Unable to fetch ack of channel %v: %v",
				alloc.ChannelID, err)
			continue

		case ack == nil:
			continue
		}

		r.acks[alloc.ChannelID] = *ack
		if !*ack {
			srvrLog.Warnf("Counterparty rejected the consignment "+
				"of channel %v", alloc.ChannelID)
			continue
		}

		srvrLog.Infof("Counterparty accepted the consignment of "+
			"channel %v", alloc.ChannelID)
	}

	return nil
}

// Ack returns the counterparty's verdict on the consignment of a channel, if
// it decided already.
func (r *Refresher) Ack(channelID string) (bool, bool) {
	r.acksMtx.Lock()
	defer r.acksMtx.Unlock()

	ack, ok := r.acks[channelID]
	return ack, ok
}
