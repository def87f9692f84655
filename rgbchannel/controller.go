package rgbchannel

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/lightninglabs/rgb-lightning/commitment"
	"github.com/lightninglabs/rgb-lightning/fn"
	"github.com/lightninglabs/rgb-lightning/proxy"
	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightninglabs/rgb-lightning/rgbdb"
	"github.com/lightninglabs/rgb-lightning/rgbwallet"
)

const (
	// DefaultTimeout is the timeout of the compensation of a failed
	// funding attempt.
	DefaultTimeout = 30 * time.Second

	// DefaultChannelCapacity is the bitcoin capacity of a channel if the
	// request doesn't name one.
	DefaultChannelCapacity btcutil.Amount = 100_000
)

var (
	// ErrFundingOutputNotFound is returned if the host's skeleton doesn't
	// pay to the funding script exactly once.
	ErrFundingOutputNotFound = errors.New("funding output not found")

	// ErrInvalidStateTransition is returned if a funding attempt is moved
	// to a state the state machine doesn't allow.
	ErrInvalidStateTransition = errors.New("invalid state transition")
)

// Cfg holds the capabilities of the funding controller.
type Cfg struct {
	// ChannelFunder is the host's funding capability.
	ChannelFunder ChannelFunder

	// Registry stores the channel allocations.
	Registry *rgbdb.Registry

	// Oracle reports the spendable balance of a contract.
	Oracle BalanceOracle

	// Colorer embeds the allocation into the funding transaction.
	Colorer Colorer

	// Wallet holds the asset state.
	Wallet AssetWallet

	// Deliverer hands consignments to the counterparty.
	Deliverer ConsignmentDeliverer

	// Observer is notified about finished funding attempts. It is
	// optional.
	Observer FundingObserver

	// DefaultCapacity is used for requests without a capacity.
	DefaultCapacity btcutil.Amount
}

// validate makes sure all required capabilities are set.
func (c *Cfg) validate() error {
	switch {
	case c.ChannelFunder == nil:
		return fmt.Errorf("channel funder must be set")

	case c.Registry == nil:
		return fmt.Errorf("registry must be set")

	case c.Oracle == nil:
		return fmt.Errorf("balance oracle must be set")

	case c.Colorer == nil:
		return fmt.Errorf("commitment builder must be set")

	case c.Wallet == nil:
		return fmt.Errorf("asset wallet must be set")

	case c.Deliverer == nil:
		return fmt.Errorf("consignment deliverer must be set")
	}

	return nil
}

// FundReq is a request to open a channel that carries assets.
type FundReq struct {
	// PeerPub is the identity key of the counterparty.
	PeerPub *btcec.PublicKey

	// ContractID is the asset to commit to the channel.
	ContractID rgb.ContractID

	// Amount is the asset amount of the local side.
	Amount uint64

	// Capacity is the bitcoin capacity of the channel, the configured
	// default is used if zero.
	Capacity btcutil.Amount
}

// FundingInfo is the result of a successful funding.
type FundingInfo struct {
	// TempChannelID is the ID the channel was negotiated under.
	TempChannelID string

	// ChannelID is the final ID of the channel.
	ChannelID string

	// FundingOutpoint is the channel's funding output.
	FundingOutpoint rgb.FundingOutpoint

	// Allocation is the confirmed allocation of the channel.
	Allocation *rgb.Allocation

	// TransitionID is the ID of the state transition the funding
	// transaction commits to.
	TransitionID chainhash.Hash

	// DeliveryID identifies the consignment delivery. It is uuid.Nil if
	// the consignment couldn't be queued.
	DeliveryID uuid.UUID
}

// fundingAttempt tracks a single run of the funding state machine.
type fundingAttempt struct {
	req *FundReq

	state FundingState

	reservation *Reservation

	cancelOnce sync.Once
}

// advance moves the attempt to the next state.
func (a *fundingAttempt) advance(to FundingState) error {
	if !canTransition(a.state, to) {
		return fmt.Errorf("%w: %v -> %v", ErrInvalidStateTransition,
			a.state, to)
	}

	log.Debugf("Funding attempt for contract %v: %v -> %v",
		a.req.ContractID, a.state, to)

	a.state = to

	return nil
}

// FundingController drives funding attempts from the request to the
// confirmed allocation and compensates attempts that fail half way.
type FundingController struct {
	cfg *Cfg

	locks *contractLocks

	// ContextGuard provides the contexts compensation runs in. They are
	// detached from the request, which might be canceled already.
	*fn.ContextGuard
}

// NewFundingController creates a new funding controller.
func NewFundingController(cfg *Cfg) (*FundingController, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	if cfg.DefaultCapacity == 0 {
		cfg.DefaultCapacity = DefaultChannelCapacity
	}

	return &FundingController{
		cfg:          cfg,
		locks:        newContractLocks(),
		ContextGuard: fn.NewContextGuard(DefaultTimeout),
	}, nil
}

// validateFundReq checks the request before anything is reserved.
func (f *FundingController) validateFundReq(ctx context.Context,
	req *FundReq) error {

	switch {
	case req.PeerPub == nil:
		return rgb.NewValidationError("peer must be set")

	case req.Amount == 0:
		return rgb.NewValidationError("amount must be positive")

	case req.ContractID.IsZero():
		return rgb.NewValidationError("asset id must be set")
	}

	_, err := f.cfg.Wallet.FetchAsset(ctx, req.ContractID)
	switch {
	case errors.Is(err, rgbwallet.ErrUnknownContract):
		return rgb.NewValidationError("unknown asset %v",
			req.ContractID)

	case err != nil:
		return err
	}

	return nil
}

// FundChannel opens a channel with the peer and commits the requested asset
// amount to the local side of its funding output. If the attempt fails after
// capacity was reserved, the reservation is canceled exactly once before the
// error is returned.
func (f *FundingController) FundChannel(ctx context.Context,
	req *FundReq) (*FundingInfo, error) {

	if err := f.validateFundReq(ctx, req); err != nil {
		return nil, err
	}
	if req.Capacity == 0 {
		req.Capacity = f.cfg.DefaultCapacity
	}

	attempt := &fundingAttempt{
		req:   req,
		state: StateRequested,
	}

	if err := f.reserve(ctx, attempt); err != nil {
		return nil, err
	}

	c, err := f.color(ctx, attempt)
	if err != nil {
		f.compensate(attempt)
		return nil, err
	}

	info, err := f.finalize(ctx, attempt, c)
	if err != nil {
		return nil, err
	}

	f.deliver(ctx, info, c)

	return info, nil
}

// reserve runs the Requested→Reserved transition. The balance check, the
// reservation and the pending allocation that makes the amount in flight all
// happen under the contract's lock.
func (f *FundingController) reserve(ctx context.Context,
	attempt *fundingAttempt) error {

	req := attempt.req

	unlock := f.locks.lock(req.ContractID)
	defer unlock()

	balance, err := f.cfg.Oracle.Spendable(ctx, req.ContractID)
	if err != nil {
		return err
	}
	if req.Amount > balance.Spendable {
		return &rgb.InsufficientBalanceError{
			ContractID: req.ContractID,
			Requested:  req.Amount,
			Available:  balance.Spendable,
		}
	}

	inputs, err := f.cfg.Wallet.SelectInputs(
		ctx, req.ContractID, req.Amount,
	)
	if err != nil {
		return err
	}

	reservation, err := f.cfg.ChannelFunder.StartFunding(
		ctx, &FundingRequest{
			PeerPub:  req.PeerPub,
			Capacity: req.Capacity,
			Inputs:   inputs,
		},
	)
	if err != nil {
		return &rgb.HostNegotiationError{Op: "start funding", Err: err}
	}

	attempt.reservation = reservation
	if err := attempt.advance(StateReserved); err != nil {
		return err
	}

	// The oracle counts the pending partition as in flight, so the next
	// attempt on this contract sees the reduced balance.
	alloc := &rgb.Allocation{
		ChannelID:   reservation.TempChannelID,
		ContractID:  req.ContractID,
		LocalAmount: req.Amount,
	}
	err = f.cfg.Registry.Write(
		ctx, reservation.TempChannelID, rgbdb.PartitionPending, alloc,
	)
	if err != nil {
		f.compensate(attempt)
		return err
	}

	return nil
}

// fundingVout returns the index of the only output that pays to pkScript.
func fundingVout(tx *wire.MsgTx, pkScript []byte) (uint32, error) {
	var (
		vout  uint32
		found int
	)
	for idx, txOut := range tx.TxOut {
		if bytes.Equal(txOut.PkScript, pkScript) {
			vout = uint32(idx)
			found++
		}
	}

	if found != 1 {
		return 0, fmt.Errorf("%w: %d outputs pay to the funding "+
			"script", ErrFundingOutputNotFound, found)
	}

	return vout, nil
}

// color runs the Reserved→Colored transition: the skeleton is colored with
// the allocation that reserve wrote to the pending partition.
func (f *FundingController) color(ctx context.Context,
	attempt *fundingAttempt) (*commitment.Commitment, error) {

	var (
		req         = attempt.req
		reservation = attempt.reservation
	)
	if reservation.Packet == nil || reservation.Packet.UnsignedTx == nil {
		return nil, &rgb.HostNegotiationError{
			Op:  "start funding",
			Err: fmt.Errorf("reservation has no funding packet"),
		}
	}

	holderVout, err := fundingVout(
		reservation.Packet.UnsignedTx, reservation.PkScript,
	)
	if err != nil {
		return nil, &rgb.HostNegotiationError{
			Op: "start funding", Err: err,
		}
	}

	alloc := &rgb.Allocation{
		ChannelID:   reservation.TempChannelID,
		ContractID:  req.ContractID,
		LocalAmount: req.Amount,
	}

	var opts []commitment.ColorOption
	if reservation.ChangeVout >= 0 {
		opts = append(opts, commitment.WithChangeVout(
			uint32(reservation.ChangeVout),
		))
	}

	c, err := f.cfg.Colorer.Color(
		ctx, reservation.Packet, alloc, holderVout, opts...,
	)
	if err != nil {
		return nil, err
	}

	log.Tracef("Colored funding packet of %v: %v",
		reservation.TempChannelID, spew.Sdump(c.Packet))

	return c, attempt.advance(StateColored)
}

// finalize runs the Colored→Finalized transition. Once the host accepted
// the funding transaction, nothing is compensated anymore.
func (f *FundingController) finalize(ctx context.Context,
	attempt *fundingAttempt, c *commitment.Commitment) (*FundingInfo,
	error) {

	tempID := attempt.reservation.TempChannelID

	completed, err := f.cfg.ChannelFunder.CompleteFunding(
		ctx, tempID, c.Packet,
	)
	if err != nil {
		f.compensate(attempt)
		return nil, &rgb.HostNegotiationError{
			Op: "complete funding", Err: err,
		}
	}

	if err := attempt.advance(StateFinalized); err != nil {
		return nil, err
	}
	f.observe(attempt)

	log.Infof("Funded channel %v (temp_id=%v, outpoint=%v) with %d of "+
		"contract %v", completed.ChannelID, tempID,
		completed.FundingOutpoint, attempt.req.Amount,
		attempt.req.ContractID)

	// The funding transaction is out, so a failure to record the
	// transition doesn't stop the promotion.
	var ledgerErr error
	err = f.cfg.Wallet.ApplyTransition(ctx, completed.ChannelID, c)
	if err != nil {
		log.Errorf("Unable to apply transition %v of channel %v: %v",
			c.TransitionID, completed.ChannelID, err)

		ledgerErr = fmt.Errorf("unable to apply transition: %w", err)
	}

	err = f.cfg.Registry.Promote(ctx, tempID, completed.ChannelID)
	if err != nil {
		return nil, fmt.Errorf("unable to promote channel %v: %w",
			tempID, err)
	}
	if ledgerErr != nil {
		return nil, ledgerErr
	}

	alloc, err := f.cfg.Registry.Read(
		ctx, completed.ChannelID, rgbdb.PartitionConfirmed,
	)
	if err != nil {
		return nil, err
	}

	return &FundingInfo{
		TempChannelID:   tempID,
		ChannelID:       completed.ChannelID,
		FundingOutpoint: completed.FundingOutpoint,
		Allocation:      alloc,
		TransitionID:    c.TransitionID,
	}, nil
}

// deliver queues the consignment of a funded channel. Failures are logged
// and never unwind the funding.
func (f *FundingController) deliver(ctx context.Context, info *FundingInfo,
	c *commitment.Commitment) {

	blob, err := c.Consignment()
	if err != nil {
		log.Errorf("Unable to build consignment of channel %v: %v",
			info.ChannelID, err)
		return
	}

	id, err := f.cfg.Deliverer.Deliver(ctx, info.ChannelID,
		proxy.Consignment{
			Txid: c.Packet.UnsignedTx.TxHash(),
			Vout: uint32(info.FundingOutpoint.Index),
			Blob: blob,
		},
	)
	if err != nil {
		log.Errorf("Unable to queue consignment of channel %v: %v",
			info.ChannelID, err)
		return
	}

	info.DeliveryID = id
}

// compensate releases the reservation of a failed attempt and removes its
// pending allocation. It runs at most once per attempt, in a context that
// doesn't depend on the request.
func (f *FundingController) compensate(attempt *fundingAttempt) {
	attempt.cancelOnce.Do(func() {
		ctx, cancel := f.CtxBlocking()
		defer cancel()

		tempID := attempt.reservation.TempChannelID
		log.Warnf("Cancelling funding of %v in state %v", tempID,
			attempt.state)

		err := f.cfg.ChannelFunder.CancelFunding(
			ctx, attempt.req.PeerPub, tempID,
		)
		if err != nil {
			log.Errorf("Unable to cancel funding of %v: %v",
				tempID, err)
		}

		err = f.cfg.Registry.Delete(ctx, tempID, rgbdb.PartitionPending)
		if err != nil {
			log.Errorf("Unable to remove pending allocation of "+
				"%v: %v", tempID, err)
		}

		if err := attempt.advance(StateCancelled); err != nil {
			log.Errorf("Funding attempt of %v: %v", tempID, err)
			return
		}
		f.observe(attempt)
	})
}

// observe reports a terminal attempt to the observer.
func (f *FundingController) observe(attempt *fundingAttempt) {
	if f.cfg.Observer == nil || !attempt.state.IsTerminal() {
		return
	}

	f.cfg.Observer.FundingDone(attempt.req.ContractID, attempt.state)
}

// HookRequest is an unsigned funding transaction handed in by the host.
type HookRequest struct {
	// Tx is the unsigned funding transaction.
	Tx *wire.MsgTx

	// Txid is the declared ID of the transaction.
	Txid chainhash.Hash

	// Packet is the funding transaction as PSBT.
	Packet *psbt.Packet

	// ChannelID is the ID the allocation was recorded under.
	ChannelID string

	// HolderVout is the funding output of the local side.
	HolderVout uint32
}

// HookResponse is the possibly colored funding transaction.
type HookResponse struct {
	// Tx is the funding transaction.
	Tx *wire.MsgTx

	// Packet is the funding transaction as PSBT.
	Packet *psbt.Packet

	// Commitment is set if the transaction was colored.
	Commitment *commitment.Commitment
}

// ColorHostFunding colors a funding transaction the host built on its own if
// a pending allocation exists for the channel. Otherwise the request is
// returned unchanged.
func (f *FundingController) ColorHostFunding(ctx context.Context,
	req *HookRequest) (*HookResponse, error) {

	if req.Tx == nil || req.Packet == nil || req.Packet.UnsignedTx == nil {
		return nil, rgb.NewValidationError("funding hook needs a " +
			"transaction and a packet")
	}
	if txid := req.Tx.TxHash(); txid != req.Txid {
		return nil, rgb.NewValidationError("declared txid %v doesn't "+
			"match transaction %v", req.Txid, txid)
	}
	if txid := req.Packet.UnsignedTx.TxHash(); txid != req.Txid {
		return nil, rgb.NewValidationError("declared txid %v doesn't "+
			"match packet %v", req.Txid, txid)
	}

	alloc, err := f.cfg.Registry.Read(
		ctx, req.ChannelID, rgbdb.PartitionPending,
	)
	switch {
	case errors.Is(err, rgbdb.ErrNotFound):
		log.Debugf("No pending allocation for channel %v, leaving "+
			"funding tx %v unchanged", req.ChannelID, req.Txid)

		return &HookResponse{
			Tx:     req.Tx,
			Packet: req.Packet,
		}, nil

	case err != nil:
		return nil, err
	}

	c, err := f.cfg.Colorer.Color(ctx, req.Packet, alloc, req.HolderVout)
	if err != nil {
		return nil, err
	}

	log.Infof("Colored host funding tx of channel %v, new txid %v",
		req.ChannelID, c.Packet.UnsignedTx.TxHash())

	return &HookResponse{
		Tx:         c.Packet.UnsignedTx,
		Packet:     c.Packet,
		Commitment: c,
	}, nil
}

// UpdateChannelAmount applies an HTLC to the confirmed allocation of the
// channel. The offered amount moves to the remote side, the received amount
// to the local side. The payment is recorded together with the update.
func (f *FundingController) UpdateChannelAmount(ctx context.Context,
	channelID string, offered, received uint64) (*rgb.PaymentInfo, error) {

	var payment *rgb.PaymentInfo
	_, err := f.cfg.Registry.Update(
		ctx, channelID, rgbdb.PartitionConfirmed,
		func(alloc *rgb.Allocation) (*rgb.PaymentInfo, error) {
			if err := alloc.Rebalance(offered, received); err != nil {
				return nil, err
			}

			payment = &rgb.PaymentInfo{
				ChannelID:    channelID,
				ContractID:   alloc.ContractID,
				LocalAmount:  alloc.LocalAmount,
				RemoteAmount: alloc.RemoteAmount,
				Incoming:     received > offered,
			}
			if payment.Incoming {
				payment.Amount = received - offered
			} else {
				payment.Amount = offered - received
			}

			return payment, nil
		},
	)
	switch {
	case errors.Is(err, rgbdb.ErrNotFound):
		return nil, rgb.NewValidationError("unknown channel %v",
			channelID)

	case err != nil:
		return nil, err
	}

	log.Debugf("Updated channel %v: offered=%d, received=%d, local=%d, "+
		"remote=%d", channelID, offered, received, payment.LocalAmount,
		payment.RemoteAmount)

	return payment, nil
}

// CloseChannel settles the local amount of a confirmed channel to the
// wallet's output of the closing transaction and removes the channel from the
// registry. The settled amount stays pending until that output confirms.
func (f *FundingController) CloseChannel(ctx context.Context,
	channelID string, closeOutpoint wire.OutPoint) (*rgb.Allocation,
	error) {

	alloc, err := f.cfg.Registry.Read(
		ctx, channelID, rgbdb.PartitionConfirmed,
	)
	switch {
	case errors.Is(err, rgbdb.ErrNotFound):
		return nil, rgb.NewValidationError("unknown channel %v",
			channelID)

	case err != nil:
		return nil, err
	}

	err = f.cfg.Wallet.Settle(
		ctx, channelID, alloc.ContractID, alloc.LocalAmount,
		closeOutpoint,
	)
	switch {
	// A channel we never had a local side in has nothing to settle.
	case errors.Is(err, rgbwallet.ErrNoChannelState) &&
		alloc.LocalAmount == 0:

	case err != nil:
		return nil, fmt.Errorf("unable to settle channel %v: %w",
			channelID, err)
	}

	err = f.cfg.Registry.Delete(ctx, channelID, rgbdb.PartitionConfirmed)
	if err != nil {
		return nil, err
	}

	log.Infof("Closed channel %v, settled %d of contract %v to %v",
		channelID, alloc.LocalAmount, alloc.ContractID, closeOutpoint)

	return alloc, nil
}

// Channels returns the pending and the confirmed allocations.
func (f *FundingController) Channels(ctx context.Context) ([]*rgb.Allocation,
	[]*rgb.Allocation, error) {

	pending, err := f.cfg.Registry.List(ctx, rgbdb.PartitionPending)
	if err != nil {
		return nil, nil, err
	}

	confirmed, err := f.cfg.Registry.List(ctx, rgbdb.PartitionConfirmed)
	if err != nil {
		return nil, nil, err
	}

	return pending, confirmed, nil
}
