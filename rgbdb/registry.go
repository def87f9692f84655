package rgbdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lightninglabs/rgb-lightning/rgb"
)

// Partition is one of the two halves of the channel registry.
type Partition uint8

const (
	// PartitionPending holds allocations of channels that are still being
	// funded. Entries are keyed by the temporary channel ID.
	PartitionPending Partition = iota

	// PartitionConfirmed holds allocations of channels whose funding
	// completed.
	PartitionConfirmed
)

// String returns the key prefix of the partition.
func (p Partition) String() string {
	switch p {
	case PartitionPending:
		return "pending"

	case PartitionConfirmed:
		return "confirmed"

	default:
		return fmt.Sprintf("<unknown partition %d>", uint8(p))
	}
}

const (
	// channelKeyFmt is the key format of a channel allocation.
	channelKeyFmt = "%s/channel/%s"

	// paymentPrefixFmt is the key prefix of all payments of a channel.
	paymentPrefixFmt = "payment/%s/"
)

// channelKey returns the storage key of a channel in the given partition.
func channelKey(p Partition, channelID string) string {
	return fmt.Sprintf(channelKeyFmt, p, channelID)
}

// channelPrefix returns the storage key prefix of all channels of a
// partition.
func channelPrefix(p Partition) string {
	return fmt.Sprintf(channelKeyFmt, p, "")
}

// paymentPrefix returns the storage key prefix of all payments of a channel.
func paymentPrefix(channelID string) string {
	return fmt.Sprintf(paymentPrefixFmt, channelID)
}

// UpdateFunc mutates an allocation in place. It can return a payment record
// that is persisted in the same batch as the updated allocation.
type UpdateFunc func(alloc *rgb.Allocation) (*rgb.PaymentInfo, error)

// Registry is the durable mapping of channel IDs to asset allocations. A
// channel ID lives in at most one of the two partitions. All writes are
// serialized, so a reader never observes a promotion half done.
type Registry struct {
	mtx sync.RWMutex

	store KVStore
}

// NewRegistry creates a new registry on top of the given store.
func NewRegistry(store KVStore) *Registry {
	return &Registry{
		store: store,
	}
}

// storageErr wraps a store failure, leaving not found errors untouched so
// callers can match them with errors.Is.
func storageErr(key string, err error) error {
	if err == nil || errors.Is(err, ErrNotFound) {
		return err
	}

	var storageErr *rgb.StorageError
	if errors.As(err, &storageErr) {
		return err
	}

	return &rgb.StorageError{Key: key, Err: err}
}

// Write stores the allocation of a channel, replacing any previous value.
func (r *Registry) Write(ctx context.Context, channelID string, p Partition,
	alloc *rgb.Allocation) error {

	if err := rgb.ValidateChannelID(channelID); err != nil {
		return err
	}

	alloc = alloc.Copy()
	alloc.ChannelID = channelID
	if err := alloc.Validate(); err != nil {
		return err
	}

	value, err := rgb.EncodeToBytes(alloc)
	if err != nil {
		return err
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	key := channelKey(p, channelID)
	log.Debugf("Writing allocation %v", key)

	return storageErr(key, r.store.Put(ctx, key, value))
}

// Read returns the allocation of a channel. ErrNotFound is returned if the
// channel doesn't exist in the given partition.
func (r *Registry) Read(ctx context.Context, channelID string,
	p Partition) (*rgb.Allocation, error) {

	if err := rgb.ValidateChannelID(channelID); err != nil {
		return nil, err
	}

	r.mtx.RLock()
	defer r.mtx.RUnlock()

	return r.read(ctx, channelKey(p, channelID))
}

// read fetches and decodes a single allocation. The caller must hold the
// mutex.
func (r *Registry) read(ctx context.Context,
	key string) (*rgb.Allocation, error) {

	value, err := r.store.Get(ctx, key)
	if err != nil {
		return nil, storageErr(key, err)
	}

	var alloc rgb.Allocation
	if err := rgb.DecodeFromBytes(&alloc, value); err != nil {
		return nil, storageErr(key, err)
	}

	return &alloc, nil
}

// Exists returns true if the channel is known in the given partition. Any
// store failure is logged and reported as absent.
func (r *Registry) Exists(ctx context.Context, channelID string,
	p Partition) bool {

	_, err := r.Read(ctx, channelID, p)
	switch {
	case err == nil:
		return true

	case !errors.Is(err, ErrNotFound):
		log.Warnf("Unable to look up channel %v in %v partition: %v",
			channelID, p, err)
	}

	return false
}

// Delete removes the channel from the given partition. Removing an unknown
// channel is not an error.
func (r *Registry) Delete(ctx context.Context, channelID string,
	p Partition) error {

	if err := rgb.ValidateChannelID(channelID); err != nil {
		return err
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	key := channelKey(p, channelID)
	log.Debugf("Deleting allocation %v", key)

	return storageErr(key, r.store.Delete(ctx, key))
}

// Promote moves the pending allocation of fromID into the confirmed partition
// under toID. Both keys are changed in a single atomic batch.
func (r *Registry) Promote(ctx context.Context, fromID, toID string) error {
	return r.move(
		ctx, channelKey(PartitionPending, fromID),
		PartitionConfirmed, fromID, toID,
	)
}

// Rename changes the ID of a channel within a partition, which is used to
// replace the temporary ID of a channel with the final one.
func (r *Registry) Rename(ctx context.Context, p Partition, fromID,
	toID string) error {

	if fromID == toID {
		return nil
	}

	return r.move(ctx, channelKey(p, fromID), p, fromID, toID)
}

// move re-keys the allocation stored under fromKey to the channel toID of the
// target partition.
func (r *Registry) move(ctx context.Context, fromKey string, to Partition,
	fromID, toID string) error {

	if err := rgb.ValidateChannelID(fromID); err != nil {
		return err
	}
	if err := rgb.ValidateChannelID(toID); err != nil {
		return err
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	alloc, err := r.read(ctx, fromKey)
	if err != nil {
		return fmt.Errorf("unable to move %v: %w", fromKey, err)
	}
	alloc.ChannelID = toID

	value, err := rgb.EncodeToBytes(alloc)
	if err != nil {
		return err
	}

	toKey := channelKey(to, toID)
	ops := []Op{PutOp(toKey, value)}
	if toKey != fromKey {
		ops = append(ops, DeleteOp(fromKey))
	}

	log.Infof("Moving allocation %v to %v", fromKey, toKey)

	return storageErr(toKey, r.store.WriteBatch(ctx, ops))
}

// Update applies updateFn to the allocation of a channel and stores the
// result, together with the payment the update returned. The allocation is
// left untouched if updateFn fails.
func (r *Registry) Update(ctx context.Context, channelID string, p Partition,
	updateFn UpdateFunc) (*rgb.Allocation, error) {

	if err := rgb.ValidateChannelID(channelID); err != nil {
		return nil, err
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	key := channelKey(p, channelID)
	alloc, err := r.read(ctx, key)
	if err != nil {
		return nil, err
	}

	payment, err := updateFn(alloc)
	if err != nil {
		return nil, err
	}
	if err := alloc.Validate(); err != nil {
		return nil, err
	}

	value, err := rgb.EncodeToBytes(alloc)
	if err != nil {
		return nil, err
	}
	ops := []Op{PutOp(key, value)}

	if payment != nil {
		prefix := paymentPrefix(channelID)
		existing, err := r.store.List(ctx, prefix)
		if err != nil {
			return nil, storageErr(prefix, err)
		}

		paymentBytes, err := rgb.EncodeToBytes(payment)
		if err != nil {
			return nil, err
		}

		paymentKey := fmt.Sprintf("%s%020d", prefix, len(existing))
		ops = append(ops, PutOp(paymentKey, paymentBytes))
	}

	if err := r.store.WriteBatch(ctx, ops); err != nil {
		return nil, storageErr(key, err)
	}

	return alloc, nil
}

// List returns all allocations of a partition, sorted by channel ID.
func (r *Registry) List(ctx context.Context,
	p Partition) ([]*rgb.Allocation, error) {

	r.mtx.RLock()
	defer r.mtx.RUnlock()

	prefix := channelPrefix(p)
	kvs, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, storageErr(prefix, err)
	}

	allocs := make([]*rgb.Allocation, 0, len(kvs))
	for _, kv := range kvs {
		var alloc rgb.Allocation
		if err := rgb.DecodeFromBytes(&alloc, kv.Value); err != nil {
			return nil, storageErr(kv.Key, err)
		}

		// The key is authoritative, a renamed entry always carries the
		// ID it is stored under.
		alloc.ChannelID = strings.TrimPrefix(kv.Key, prefix)
		allocs = append(allocs, &alloc)
	}

	return allocs, nil
}

// ListByContract returns all allocations of a partition that belong to the
// given contract.
func (r *Registry) ListByContract(ctx context.Context, p Partition,
	contractID rgb.ContractID) ([]*rgb.Allocation, error) {

	allocs, err := r.List(ctx, p)
	if err != nil {
		return nil, err
	}

	filtered := allocs[:0]
	for _, alloc := range allocs {
		if alloc.ContractID == contractID {
			filtered = append(filtered, alloc)
		}
	}

	return filtered, nil
}

// Payments returns all recorded payments of a channel in the order they were
// recorded.
func (r *Registry) Payments(ctx context.Context,
	channelID string) ([]*rgb.PaymentInfo, error) {

	if err := rgb.ValidateChannelID(channelID); err != nil {
		return nil, err
	}

	r.mtx.RLock()
	defer r.mtx.RUnlock()

	prefix := paymentPrefix(channelID)
	kvs, err := r.store.List(ctx, prefix)
	if err != nil {
		return nil, storageErr(prefix, err)
	}

	payments := make([]*rgb.PaymentInfo, 0, len(kvs))
	for _, kv := range kvs {
		var payment rgb.PaymentInfo
		err := rgb.DecodeFromBytes(&payment, kv.Value)
		if err != nil {
			return nil, storageErr(kv.Key, err)
		}

		payments = append(payments, &payment)
	}

	return payments, nil
}
