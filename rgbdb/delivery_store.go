package rgbdb

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lightninglabs/rgb-lightning/proxy"
	"github.com/lightningnetwork/lnd/clock"
	"golang.org/x/exp/slices"
)

const (
	// deliveryPrefix is the key prefix of all pending deliveries.
	deliveryPrefix = "delivery/"

	// transferLogPrefix is the key prefix of the transfer attempt log.
	transferLogPrefix = "transferlog/"
)

// DeliveryStore persists consignment deliveries and their attempt log.
type DeliveryStore struct {
	store KVStore

	clock clock.Clock
}

// NewDeliveryStore creates a new delivery store on top of the given store.
func NewDeliveryStore(store KVStore, clock clock.Clock) *DeliveryStore {
	return &DeliveryStore{
		store: store,
		clock: clock,
	}
}

// StoreDelivery persists a new delivery.
func (d *DeliveryStore) StoreDelivery(ctx context.Context,
	delivery *proxy.Delivery) error {

	value, err := delivery.Encode()
	if err != nil {
		return err
	}

	key := deliveryPrefix + delivery.ID.String()
	return storageErr(key, d.store.Put(ctx, key, value))
}

// PendingDeliveries returns all deliveries that weren't completed, oldest
// first.
func (d *DeliveryStore) PendingDeliveries(
	ctx context.Context) ([]*proxy.Delivery, error) {

	kvs, err := d.store.List(ctx, deliveryPrefix)
	if err != nil {
		return nil, storageErr(deliveryPrefix, err)
	}

	deliveries := make([]*proxy.Delivery, 0, len(kvs))
	for _, kv := range kvs {
		delivery, err := proxy.DecodeDelivery(kv.Value)
		if err != nil {
			return nil, storageErr(kv.Key, err)
		}

		deliveries = append(deliveries, delivery)
	}

	sortDeliveries(deliveries)

	return deliveries, nil
}

// DeleteDelivery removes a completed delivery together with its attempt log.
func (d *DeliveryStore) DeleteDelivery(ctx context.Context,
	id uuid.UUID) error {

	logPrefix := transferLogPrefix + id.String() + "/"
	attempts, err := d.store.List(ctx, logPrefix)
	if err != nil {
		return storageErr(logPrefix, err)
	}

	key := deliveryPrefix + id.String()
	ops := []Op{DeleteOp(key)}
	for _, attempt := range attempts {
		ops = append(ops, DeleteOp(attempt.Key))
	}

	return storageErr(key, d.store.WriteBatch(ctx, ops))
}

// transferLogKeyPrefix returns the key prefix of the attempts of a transfer.
func transferLogKeyPrefix(transferID string,
	transferType proxy.TransferType) string {

	return fmt.Sprintf("%s%s/%s/", transferLogPrefix, transferID,
		transferType)
}

// LogTransferAttempt logs a new transfer attempt.
func (d *DeliveryStore) LogTransferAttempt(ctx context.Context,
	transferID string, transferType proxy.TransferType) error {

	now := d.clock.Now().UTC()
	key := fmt.Sprintf("%s%020d", transferLogKeyPrefix(
		transferID, transferType,
	), now.UnixNano())

	value, err := now.MarshalBinary()
	if err != nil {
		return err
	}

	return storageErr(key, d.store.Put(ctx, key, value))
}

// QueryTransferLog returns the timestamps of all logged attempts of a
// transfer.
func (d *DeliveryStore) QueryTransferLog(ctx context.Context,
	transferID string, transferType proxy.TransferType) ([]time.Time,
	error) {

	prefix := transferLogKeyPrefix(transferID, transferType)
	kvs, err := d.store.List(ctx, prefix)
	if err != nil {
		return nil, storageErr(prefix, err)
	}

	timestamps := make([]time.Time, 0, len(kvs))
	for _, kv := range kvs {
		var ts time.Time
		if err := ts.UnmarshalBinary(kv.Value); err != nil {
			return nil, storageErr(kv.Key, err)
		}

		timestamps = append(timestamps, ts)
	}

	return timestamps, nil
}

// sortDeliveries orders the deliveries by creation time.
func sortDeliveries(deliveries []*proxy.Delivery) {
	slices.SortStableFunc(deliveries, func(a, b *proxy.Delivery) bool {
		return a.CreatedAt.Before(b.CreatedAt)
	})
}

// A compile-time assertion to ensure DeliveryStore meets the proxy's storage
// interfaces.
var (
	_ proxy.DeliveryStore = (*DeliveryStore)(nil)
	_ proxy.TransferLog   = (*DeliveryStore)(nil)
)
