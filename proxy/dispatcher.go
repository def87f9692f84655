package proxy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lightninglabs/rgb-lightning/fn"
	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// defaultDispatcherTimeout is the timeout of the store operations of
	// the dispatcher.
	defaultDispatcherTimeout = 30 * time.Second
)

// DispatcherCfg is the configuration of the delivery dispatcher.
type DispatcherCfg struct {
	// Courier is the proxy consignments are handed to.
	Courier Courier

	// Store persists deliveries until they completed.
	Store DeliveryStore

	// TransferLog records all delivery attempts.
	TransferLog TransferLog

	// BackoffCfg configures the retry behaviour.
	BackoffCfg *BackoffCfg

	// Clock is used for timestamps and backoff waits.
	Clock clock.Clock
}

// Dispatcher hands consignments to the proxy in the background. Deliveries
// are persisted first, retried with a backoff and resumed after a restart. A
// failed delivery never affects the transfer that produced it.
type Dispatcher struct {
	startOnce sync.Once
	stopOnce  sync.Once

	cfg *DispatcherCfg

	backoff *BackoffHandler

	activeMtx sync.Mutex
	active    map[uuid.UUID]struct{}

	*fn.ContextGuard
}

// NewDispatcher creates a new delivery dispatcher.
func NewDispatcher(cfg *DispatcherCfg) (*Dispatcher, error) {
	switch {
	case cfg.Courier == nil:
		return nil, fmt.Errorf("courier must be set")

	case cfg.Store == nil:
		return nil, fmt.Errorf("delivery store must be set")

	case cfg.TransferLog == nil:
		return nil, fmt.Errorf("transfer log must be set")
	}

	if cfg.BackoffCfg == nil {
		cfg.BackoffCfg = DefaultBackoffCfg()
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.NewDefaultClock()
	}

	return &Dispatcher{
		cfg: cfg,
		backoff: NewBackoffHandler(
			cfg.BackoffCfg, cfg.TransferLog, cfg.Clock,
		),
		active:       make(map[uuid.UUID]struct{}),
		ContextGuard: fn.NewContextGuard(defaultDispatcherTimeout),
	}, nil
}

// Start resumes all deliveries that didn't complete before the last
// shutdown.
func (d *Dispatcher) Start() error {
	var startErr error
	d.startOnce.Do(func() {
		log.Info("Starting consignment dispatcher")

		ctx, cancel := d.WithCtxQuit()
		defer cancel()

		startErr = d.RetryPending(ctx)
	})

	return startErr
}

// Stop signals all delivery goroutines to exit and waits for them.
func (d *Dispatcher) Stop() error {
	d.stopOnce.Do(func() {
		log.Info("Stopping consignment dispatcher")

		close(d.Quit)
		d.Wg.Wait()
	})

	return nil
}

// Deliver persists a new delivery and starts handing it to the proxy in the
// background. The returned ID identifies the delivery in the transfer log.
func (d *Dispatcher) Deliver(ctx context.Context, recipientID string,
	consignment Consignment) (uuid.UUID, error) {

	delivery := NewDelivery(recipientID, consignment, d.cfg.Clock.Now())
	if err := d.cfg.Store.StoreDelivery(ctx, delivery); err != nil {
		return uuid.Nil, &rgb.DeliveryError{
			RecipientID: recipientID,
			Err:         fmt.Errorf("unable to persist: %w", err),
		}
	}

	log.Infof("Queued consignment delivery %v for recipient %v",
		delivery.ID, recipientID)

	d.launch(delivery)

	return delivery.ID, nil
}

// RetryPending restarts all persisted deliveries that don't have an active
// goroutine.
func (d *Dispatcher) RetryPending(ctx context.Context) error {
	pending, err := d.cfg.Store.PendingDeliveries(ctx)
	if err != nil {
		return fmt.Errorf("unable to fetch pending deliveries: %w", err)
	}

	if len(pending) > 0 {
		log.Infof("Resuming %d pending consignment deliveries",
			len(pending))
	}

	for _, delivery := range pending {
		d.launch(delivery)
	}

	return nil
}

// launch starts the delivery goroutine unless one is already running.
func (d *Dispatcher) launch(delivery *Delivery) {
	d.activeMtx.Lock()
	defer d.activeMtx.Unlock()

	if _, ok := d.active[delivery.ID]; ok {
		return
	}

	select {
	case <-d.Quit:
		return
	default:
	}

	d.active[delivery.ID] = struct{}{}

	d.Wg.Add(1)
	go d.deliver(delivery)
}

// deliver runs the backoff procedure of a single delivery.
//
// NOTE: This method MUST be run as a goroutine.
func (d *Dispatcher) deliver(delivery *Delivery) {
	defer d.Wg.Done()
	defer func() {
		d.activeMtx.Lock()
		delete(d.active, delivery.ID)
		d.activeMtx.Unlock()
	}()

	ctx, cancel := d.WithCtxQuitNoTimeout()
	defer cancel()

	err := d.backoff.Exec(
		ctx, delivery.ID.String(), SendTransferType, func() error {
			return d.cfg.Courier.PostConsignment(
				ctx, delivery.RecipientID,
				&delivery.Consignment,
			)
		},
	)
	if err != nil {
		deliveryErr := &rgb.DeliveryError{
			RecipientID: delivery.RecipientID,
			Err:         err,
		}
		log.Warnf("Delivery %v not completed, will retry later: %v",
			delivery.ID, deliveryErr)

		return
	}

	log.Infof("Consignment delivery %v for recipient %v completed",
		delivery.ID, delivery.RecipientID)

	storeCtx, storeCancel := d.CtxBlocking()
	defer storeCancel()

	err = d.cfg.Store.DeleteDelivery(storeCtx, delivery.ID)
	if err != nil {
		log.Errorf("Unable to remove completed delivery %v: %v",
			delivery.ID, err)
	}
}
