package rgbdb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/lightninglabs/rgb-lightning/rgb"
)

const (
	// assetPrefix is the key prefix of all issued or imported assets.
	assetPrefix = "asset/"

	// listenKey is the key of the list of contracts we watch for incoming
	// transfers.
	listenKey = "assets"
)

var (
	// ErrAssetExists is returned when an asset with the same contract ID
	// is stored twice.
	ErrAssetExists = errors.New("asset already exists")
)

// AssetStore persists asset records and the list of contracts the daemon
// listens on.
type AssetStore struct {
	mtx sync.Mutex

	store KVStore
}

// NewAssetStore creates a new asset store on top of the given store.
func NewAssetStore(store KVStore) *AssetStore {
	return &AssetStore{
		store: store,
	}
}

// AddAsset stores the record of a newly issued asset. Asset records are
// immutable, so adding a known contract fails with ErrAssetExists.
func (a *AssetStore) AddAsset(ctx context.Context, asset *rgb.Asset) error {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	key := assetPrefix + asset.ContractID.String()
	_, err := a.store.Get(ctx, key)
	switch {
	case err == nil:
		return fmt.Errorf("%w: %v", ErrAssetExists, asset.ContractID)

	case !errors.Is(err, ErrNotFound):
		return storageErr(key, err)
	}

	value, err := rgb.EncodeToBytes(asset)
	if err != nil {
		return err
	}

	return storageErr(key, a.store.Put(ctx, key, value))
}

// FetchAsset returns the record of an asset.
func (a *AssetStore) FetchAsset(ctx context.Context,
	contractID rgb.ContractID) (*rgb.Asset, error) {

	key := assetPrefix + contractID.String()
	value, err := a.store.Get(ctx, key)
	if err != nil {
		return nil, storageErr(key, err)
	}

	var asset rgb.Asset
	if err := rgb.DecodeFromBytes(&asset, value); err != nil {
		return nil, storageErr(key, err)
	}

	return &asset, nil
}

// ListAssets returns all known asset records.
func (a *AssetStore) ListAssets(ctx context.Context) ([]*rgb.Asset, error) {
	kvs, err := a.store.List(ctx, assetPrefix)
	if err != nil {
		return nil, storageErr(assetPrefix, err)
	}

	assets := make([]*rgb.Asset, 0, len(kvs))
	for _, kv := range kvs {
		var asset rgb.Asset
		if err := rgb.DecodeFromBytes(&asset, kv.Value); err != nil {
			return nil, storageErr(kv.Key, err)
		}

		assets = append(assets, &asset)
	}

	return assets, nil
}

// ListenFor adds the contract to the listen list. Adding a contract twice is
// a no-op.
func (a *AssetStore) ListenFor(ctx context.Context,
	contractID rgb.ContractID) error {

	a.mtx.Lock()
	defer a.mtx.Unlock()

	listened, err := a.listened(ctx)
	if err != nil {
		return err
	}

	for _, id := range listened {
		if id == contractID {
			return nil
		}
	}
	listened = append(listened, contractID)

	ids := make([]string, 0, len(listened))
	for _, id := range listened {
		ids = append(ids, id.String())
	}

	log.Infof("Listening for transfers of contract %v", contractID)

	value := []byte(strings.Join(ids, "\n"))
	return storageErr(listenKey, a.store.Put(ctx, listenKey, value))
}

// Listened returns the contracts of the listen list, in the order they were
// added.
func (a *AssetStore) Listened(ctx context.Context) ([]rgb.ContractID, error) {
	a.mtx.Lock()
	defer a.mtx.Unlock()

	return a.listened(ctx)
}

// listened reads the listen list. The caller must hold the mutex.
func (a *AssetStore) listened(ctx context.Context) ([]rgb.ContractID, error) {
	value, err := a.store.Get(ctx, listenKey)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil, nil

	case err != nil:
		return nil, storageErr(listenKey, err)
	}

	var ids []rgb.ContractID
	for _, line := range strings.Split(string(value), "\n") {
		if line == "" {
			continue
		}

		id, err := rgb.NewContractIDFromStr(line)
		if err != nil {
			return nil, storageErr(listenKey, err)
		}
		ids = append(ids, id)
	}

	return ids, nil
}
