package rgbwallet

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb-lightning/commitment"
	"github.com/lightninglabs/rgb-lightning/fn"
	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightninglabs/rgb-lightning/rgbdb"
	"github.com/lightningnetwork/lnd/clock"
)

const (
	// ledgerPrefix is the key prefix of all colored wallet outputs.
	ledgerPrefix = "ledger/"

	// BeneficiaryType is the assignment type of the fungible state of the
	// RGB20 interface.
	BeneficiaryType uint16 = 4000

	// MaxPrecision is the largest number of decimal places an asset can
	// be issued with.
	MaxPrecision = 18

	// issuanceMinConfs is the number of confirmations an output needs to
	// carry newly issued state.
	issuanceMinConfs = 1
)

var (
	// contractTag is the tag of the tagged hash that derives a contract ID
	// from its genesis.
	contractTag = []byte("rgb:contract")

	// ErrUnknownContract is returned for contracts that were never issued
	// or imported.
	ErrUnknownContract = errors.New("unknown contract")

	// ErrNoChannelState is returned if the ledger doesn't hold any state of
	// the channel that should be settled.
	ErrNoChannelState = errors.New("no channel state")
)

// Utxo is an unspent output of the on-chain wallet.
type Utxo struct {
	// OutPoint is the outpoint of the output.
	OutPoint wire.OutPoint

	// Value is the bitcoin value of the output.
	Value btcutil.Amount

	// PkScript is the output script.
	PkScript []byte

	// Confirmations is the number of confirmations of the output.
	Confirmations int64
}

// OnchainBalance is the bitcoin balance of the on-chain wallet.
type OnchainBalance struct {
	// Confirmed is the confirmed balance.
	Confirmed btcutil.Amount `json:"confirmed"`

	// Unconfirmed is the balance of unconfirmed outputs.
	Unconfirmed btcutil.Amount `json:"unconfirmed"`
}

// ChainWallet is the host's on-chain bitcoin wallet.
type ChainWallet interface {
	// ListUnspent returns all unspent outputs with at least minConfs
	// confirmations.
	ListUnspent(ctx context.Context, minConfs int32) ([]*Utxo, error)

	// OnchainBalance returns the bitcoin balance of the wallet.
	OnchainBalance(ctx context.Context) (*OnchainBalance, error)
}

// IssueRequest describes a new fungible asset.
type IssueRequest struct {
	// Ticker is the short ticker of the asset.
	Ticker string

	// Name is the full name of the asset.
	Name string

	// Precision is the number of decimal places.
	Precision uint8

	// Amounts are the issued amounts, each sealed to its own wallet
	// output.
	Amounts []uint64
}

// Config holds the dependencies of the ledger.
type Config struct {
	// Store persists the colored outputs.
	Store rgbdb.KVStore

	// Assets holds the asset records.
	Assets *rgbdb.AssetStore

	// Wallet is the on-chain wallet whose outputs carry the state.
	Wallet ChainWallet

	// Clock is used to timestamp new contracts.
	Clock clock.Clock
}

// Ledger tracks the contract state sealed to the outputs of the on-chain
// wallet and to channel funding outputs. It is the contract runtime the
// commitment builder looks up input state with.
type Ledger struct {
	// mtx serializes all ledger operations.
	mtx sync.Mutex

	cfg *Config
}

// NewLedger creates a new ledger.
func NewLedger(cfg *Config) *Ledger {
	return &Ledger{
		cfg: cfg,
	}
}

// storageErr wraps a failed store access.
func storageErr(key string, err error) error {
	if err == nil {
		return nil
	}

	return &rgb.StorageError{Key: key, Err: err}
}

// knownContract makes sure the contract was issued or imported.
func (l *Ledger) knownContract(ctx context.Context,
	contractID rgb.ContractID) (*rgb.Asset, error) {

	asset, err := l.cfg.Assets.FetchAsset(ctx, contractID)
	switch {
	case errors.Is(err, rgbdb.ErrNotFound):
		return nil, fmt.Errorf("%w: %v", ErrUnknownContract, contractID)

	case err != nil:
		return nil, err
	}

	return asset, nil
}

// entries returns all state of a contract, ordered by outpoint.
func (l *Ledger) entries(ctx context.Context,
	contractID rgb.ContractID, prefix string) ([]*Entry, error) {

	kvs, err := l.cfg.Store.List(ctx, prefix)
	if err != nil {
		return nil, storageErr(prefix, err)
	}

	cPrefix := contractPrefix(contractID)
	entries := make([]*Entry, 0, len(kvs))
	for _, kv := range kvs {
		rest := strings.TrimPrefix(kv.Key, cPrefix)
		opStr, _, ok := strings.Cut(rest, "/")
		if !ok {
			return nil, storageErr(kv.Key, fmt.Errorf("malformed "+
				"ledger key"))
		}

		op, err := rgb.ParseOutPoint(opStr)
		if err != nil {
			return nil, storageErr(kv.Key, err)
		}

		entry, err := decodeEntry(contractID, op, kv.Value)
		if err != nil {
			return nil, storageErr(kv.Key, err)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

// Entries returns all state the ledger tracks for the contract.
func (l *Ledger) Entries(ctx context.Context,
	contractID rgb.ContractID) ([]*Entry, error) {

	l.mtx.Lock()
	defer l.mtx.Unlock()

	return l.entries(ctx, contractID, contractPrefix(contractID))
}

// AssignmentType resolves a named assignment of a contract interface. Only
// the fungible assignment of the RGB20 interface is known.
func (l *Ledger) AssignmentType(ctx context.Context,
	contractID rgb.ContractID, iface, name string) (uint16, error) {

	if _, err := l.knownContract(ctx, contractID); err != nil {
		return 0, err
	}

	if iface != rgb.Interface || name != rgb.BeneficiaryAssignment {
		return 0, fmt.Errorf("%w: %s.%s",
			commitment.ErrUnknownAssignmentType, iface, name)
	}

	return BeneficiaryType, nil
}

// StateForOutpoints returns the owned state of the contract that is sealed
// to any of the given outpoints. State that isn't settled yet or that is
// locked in a channel is never returned.
func (l *Ledger) StateForOutpoints(ctx context.Context,
	contractID rgb.ContractID,
	outpoints []wire.OutPoint) ([]commitment.OutpointState, error) {

	l.mtx.Lock()
	defer l.mtx.Unlock()

	var states []commitment.OutpointState
	for _, op := range outpoints {
		entries, err := l.entries(
			ctx, contractID, outpointPrefix(contractID, op),
		)
		if err != nil {
			return nil, err
		}

		for _, e := range entries {
			if e.Kind != StateOwned {
				continue
			}

			states = append(states, commitment.OutpointState{
				OutPoint: e.OutPoint,
				Opout:    e.Opout,
				Amount:   e.Amount,
			})
		}
	}

	return states, nil
}

// SelectInputs picks wallet outputs whose owned state of the contract covers
// the amount. All state on a selected output is spent together, so the
// selection prefers the outputs with the most state to keep the surplus low.
func (l *Ledger) SelectInputs(ctx context.Context, contractID rgb.ContractID,
	amount uint64) ([]wire.OutPoint, error) {

	l.mtx.Lock()
	defer l.mtx.Unlock()

	entries, err := l.entries(ctx, contractID, contractPrefix(contractID))
	if err != nil {
		return nil, err
	}

	var (
		totals    = make(map[wire.OutPoint]uint64)
		outpoints []wire.OutPoint
	)
	for _, e := range entries {
		if e.Kind != StateOwned {
			continue
		}
		if _, ok := totals[e.OutPoint]; !ok {
			outpoints = append(outpoints, e.OutPoint)
		}
		totals[e.OutPoint] += e.Amount
	}

	sort.SliceStable(outpoints, func(i, j int) bool {
		return totals[outpoints[i]] > totals[outpoints[j]]
	})

	var (
		selected []wire.OutPoint
		covered  uint64
	)
	for _, op := range outpoints {
		if covered >= amount {
			break
		}

		selected = append(selected, op)
		covered += totals[op]
	}

	if covered < amount {
		return nil, &rgb.InsufficientBalanceError{
			ContractID: contractID,
			Requested:  amount,
			Available:  covered,
		}
	}

	return selected, nil
}

// validateIssueRequest checks the parameters of a new asset.
func validateIssueRequest(req *IssueRequest) error {
	switch {
	case req.Ticker == "":
		return rgb.NewValidationError("ticker must not be empty")

	case req.Name == "":
		return rgb.NewValidationError("name must not be empty")

	case req.Precision > MaxPrecision:
		return rgb.NewValidationError("precision %d exceeds %d",
			req.Precision, MaxPrecision)

	case len(req.Amounts) == 0:
		return rgb.NewValidationError("no amounts to issue")
	}

	var total uint64
	for _, amt := range req.Amounts {
		if amt == 0 {
			return rgb.NewValidationError("issued amounts must " +
				"not be zero")
		}
		if total+amt < total {
			return rgb.NewValidationError("total supply overflows")
		}
		total += amt
	}

	return nil
}

// IssueAsset creates a new contract and seals every issued amount to its own
// confirmed wallet output. The contract is added to the listen list.
func (l *Ledger) IssueAsset(ctx context.Context,
	req *IssueRequest) (*rgb.Asset, error) {

	if err := validateIssueRequest(req); err != nil {
		return nil, err
	}

	utxos, err := l.cfg.Wallet.ListUnspent(ctx, issuanceMinConfs)
	if err != nil {
		return nil, fmt.Errorf("unable to list unspent outputs: %w",
			err)
	}
	if len(utxos) < len(req.Amounts) {
		return nil, rgb.NewValidationError("need %d confirmed "+
			"outputs to issue, wallet has %d", len(req.Amounts),
			len(utxos))
	}

	sort.Slice(utxos, func(i, j int) bool {
		a, b := utxos[i].OutPoint, utxos[j].OutPoint
		if c := bytes.Compare(a.Hash[:], b.Hash[:]); c != 0 {
			return c < 0
		}
		return a.Index < b.Index
	})
	utxos = utxos[:len(req.Amounts)]

	asset := &rgb.Asset{
		Ticker:    req.Ticker,
		Name:      req.Name,
		Precision: req.Precision,
		TotalSupply: fn.Reduce(req.Amounts, func(acc, amt uint64) uint64 {
			return acc + amt
		}),
	}

	// The genesis commits to the asset parameters, the issuance time and
	// the outputs that receive the initial state.
	var genesis bytes.Buffer
	if err := asset.Encode(&genesis); err != nil {
		return nil, err
	}
	var scratch [8]byte
	binary.BigEndian.PutUint64(
		scratch[:], uint64(l.cfg.Clock.Now().UnixNano()),
	)
	genesis.Write(scratch[:])
	for i, utxo := range utxos {
		genesis.Write(utxo.OutPoint.Hash[:])
		binary.BigEndian.PutUint32(scratch[:4], utxo.OutPoint.Index)
		genesis.Write(scratch[:4])
		binary.BigEndian.PutUint64(scratch[:], req.Amounts[i])
		genesis.Write(scratch[:])
	}
	genesisID := chainhash.TaggedHash(contractTag, genesis.Bytes())
	asset.ContractID = rgb.ContractID(*genesisID)

	l.mtx.Lock()
	defer l.mtx.Unlock()

	if err := l.cfg.Assets.AddAsset(ctx, asset); err != nil {
		return nil, err
	}

	ops := make([]rgbdb.Op, 0, len(utxos))
	for i, utxo := range utxos {
		entry := &Entry{
			ContractID: asset.ContractID,
			OutPoint:   utxo.OutPoint,
			Opout: commitment.Opout{
				OpID:           *genesisID,
				AssignmentType: BeneficiaryType,
				Index:          uint16(i),
			},
			Amount: req.Amounts[i],
			Kind:   StateOwned,
		}
		value, err := entry.encode()
		if err != nil {
			return nil, err
		}
		ops = append(ops, rgbdb.PutOp(entryKey(entry), value))
	}

	prefix := contractPrefix(asset.ContractID)
	if err := l.cfg.Store.WriteBatch(ctx, ops); err != nil {
		return nil, storageErr(prefix, err)
	}

	if err := l.cfg.Assets.ListenFor(ctx, asset.ContractID); err != nil {
		return nil, err
	}

	log.Infof("Issued asset %v (%v) with supply %d on %d outputs",
		asset.Ticker, asset.ContractID, asset.TotalSupply, len(utxos))

	return asset, nil
}

// AssetBalance returns the settled and future balance of the contract held
// by wallet outputs. Channel state isn't part of either.
func (l *Ledger) AssetBalance(ctx context.Context,
	contractID rgb.ContractID) (*rgb.Balance, error) {

	if _, err := l.knownContract(ctx, contractID); err != nil {
		return nil, err
	}

	entries, err := l.Entries(ctx, contractID)
	if err != nil {
		return nil, err
	}

	balance := &rgb.Balance{}
	for _, e := range entries {
		switch e.Kind {
		case StateOwned:
			balance.Settled += e.Amount
			balance.Future += e.Amount

		case StatePending:
			balance.Future += e.Amount
		}
	}

	return balance, nil
}

// ApplyTransition records a broadcast funding transaction: the consumed
// wallet state is removed, the local side of the allocation is locked to
// the channel and any change becomes pending wallet state.
func (l *Ledger) ApplyTransition(ctx context.Context, channelID string,
	c *commitment.Commitment) error {

	if err := rgb.ValidateChannelID(channelID); err != nil {
		return err
	}

	tx := c.Packet.UnsignedTx
	if err := commitment.VerifyAnchor(
		tx, c.MarkerVout, c.Transition,
	); err != nil {
		return &rgb.CommitmentError{Err: err}
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	contractID := c.Transition.ContractID
	var ops []rgbdb.Op
	for _, op := range c.Consumed {
		spent, err := l.entries(
			ctx, contractID, outpointPrefix(contractID, op),
		)
		if err != nil {
			return err
		}
		for _, e := range spent {
			ops = append(ops, rgbdb.DeleteOp(entryKey(e)))
		}
	}

	isSeal := func(s *commitment.GraphSeal, a commitment.Assignment,
		done bool) bool {

		return s != nil && !done && a.Seal == *s
	}

	var (
		txid                               = tx.TxHash()
		indices                            = make(map[uint16]uint16)
		holderDone, remoteDone, changeDone bool
	)
	for _, a := range c.Transition.Assignments {
		idx := indices[a.Type]
		indices[a.Type]++

		entry := &Entry{
			ContractID: contractID,
			OutPoint:   wire.OutPoint{Hash: txid, Index: a.Seal.Vout},
			Opout: commitment.Opout{
				OpID:           c.TransitionID,
				AssignmentType: a.Type,
				Index:          idx,
			},
			Amount: a.Amount,
		}

		switch {
		case isSeal(c.HolderSeal, a, holderDone):
			holderDone = true
			entry.Kind = StateChannel
			entry.ChannelID = channelID

		case isSeal(c.CounterpartySeal, a, remoteDone):
			// The remote side is owned by the counterparty.
			remoteDone = true
			continue

		case isSeal(c.ChangeSeal, a, changeDone):
			changeDone = true
			entry.Kind = StatePending

		default:
			continue
		}

		value, err := entry.encode()
		if err != nil {
			return err
		}
		ops = append(ops, rgbdb.PutOp(entryKey(entry), value))
	}

	if err := l.cfg.Store.WriteBatch(ctx, ops); err != nil {
		return storageErr(contractPrefix(contractID), err)
	}

	log.Debugf("Applied transition %v of contract %v for channel %v",
		c.TransitionID, contractID, channelID)

	return nil
}

// Settle releases the local amount of a closed channel back into the wallet.
// The funding output is spent by the closing transaction, so the amount is
// sealed to the wallet's output of that transaction and stays pending until
// Refresh sees it confirmed.
func (l *Ledger) Settle(ctx context.Context, channelID string,
	contractID rgb.ContractID, localAmount uint64,
	closeOutpoint wire.OutPoint) error {

	if localAmount > 0 && closeOutpoint == (wire.OutPoint{}) {
		return rgb.NewValidationError("closing outpoint of channel %v "+
			"must be set", channelID)
	}

	l.mtx.Lock()
	defer l.mtx.Unlock()

	entries, err := l.entries(ctx, contractID, contractPrefix(contractID))
	if err != nil {
		return err
	}

	channelEntries := fn.Filter(entries, func(e *Entry) bool {
		return e.Kind == StateChannel && e.ChannelID == channelID
	})
	if len(channelEntries) == 0 {
		return fmt.Errorf("%w: channel %v, contract %v",
			ErrNoChannelState, channelID, contractID)
	}

	ops := fn.Map(channelEntries, func(e *Entry) rgbdb.Op {
		return rgbdb.DeleteOp(entryKey(e))
	})

	if localAmount > 0 {
		for _, e := range channelEntries {
			if e.OutPoint == closeOutpoint {
				return rgb.NewValidationError("closing outpoint "+
					"%v is the funding output of channel %v",
					closeOutpoint, channelID)
			}
		}

		settled := *channelEntries[0]
		settled.OutPoint = closeOutpoint
		settled.Kind = StatePending
		settled.ChannelID = ""
		settled.Amount = localAmount

		value, err := settled.encode()
		if err != nil {
			return err
		}
		ops = append(ops, rgbdb.PutOp(entryKey(&settled), value))
	}

	if err := l.cfg.Store.WriteBatch(ctx, ops); err != nil {
		return storageErr(contractPrefix(contractID), err)
	}

	log.Infof("Settled %d of contract %v from channel %v to %v",
		localAmount, contractID, channelID, closeOutpoint)

	return nil
}

// Refresh settles pending state whose output confirmed. It returns the
// number of settled entries.
func (l *Ledger) Refresh(ctx context.Context,
	contractID rgb.ContractID) (int, error) {

	confirmed, err := l.cfg.Wallet.ListUnspent(ctx, 1)
	if err != nil {
		return 0, fmt.Errorf("unable to list unspent outputs: %w",
			err)
	}
	confirmedSet := fn.NewSet(fn.Map(confirmed, func(u *Utxo) wire.OutPoint {
		return u.OutPoint
	})...)

	l.mtx.Lock()
	defer l.mtx.Unlock()

	entries, err := l.entries(ctx, contractID, contractPrefix(contractID))
	if err != nil {
		return 0, err
	}

	var ops []rgbdb.Op
	for _, e := range entries {
		if e.Kind != StatePending || !confirmedSet.Contains(e.OutPoint) {
			continue
		}

		e.Kind = StateOwned
		value, err := e.encode()
		if err != nil {
			return 0, err
		}
		ops = append(ops, rgbdb.PutOp(entryKey(e), value))
	}

	if len(ops) == 0 {
		return 0, nil
	}

	if err := l.cfg.Store.WriteBatch(ctx, ops); err != nil {
		return 0, storageErr(contractPrefix(contractID), err)
	}

	log.Debugf("Settled %d pending outputs of contract %v", len(ops),
		contractID)

	return len(ops), nil
}

// OnchainBalance returns the bitcoin balance of the wallet.
func (l *Ledger) OnchainBalance(ctx context.Context) (*OnchainBalance,
	error) {

	return l.cfg.Wallet.OnchainBalance(ctx)
}

// FetchAsset returns the record of a known asset. ErrUnknownContract is
// returned for contracts that were never issued or imported.
func (l *Ledger) FetchAsset(ctx context.Context,
	contractID rgb.ContractID) (*rgb.Asset, error) {

	return l.knownContract(ctx, contractID)
}

// ListAssets returns all known assets.
func (l *Ledger) ListAssets(ctx context.Context) ([]*rgb.Asset, error) {
	return l.cfg.Assets.ListAssets(ctx)
}

// A compile-time assertion to ensure Ledger meets the ContractRuntime
// interface.
var _ commitment.ContractRuntime = (*Ledger)(nil)
