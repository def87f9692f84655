package rgbld

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/lndclient"
	"github.com/lightninglabs/rgb-lightning/fn"
	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/lightninglabs/rgb-lightning/rgbchannel"
	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/lightningnetwork/lnd/lnrpc/walletrpc"
	"github.com/lightningnetwork/lnd/lnwire"
)

const (
	// DefaultFundingFeeRate is the fee rate of funding transactions in
	// sat/vbyte.
	DefaultFundingFeeRate = 10
)

var (
	// ErrUnknownFunding is returned if a temporary channel ID doesn't
	// belong to a funding flow started by this funder.
	ErrUnknownFunding = errors.New("unknown funding flow")
)

// pendingFunding is a PSBT funding flow that was started with lnd and is
// waiting to be completed or canceled.
type pendingFunding struct {
	pendingID [32]byte

	peerPub *btcec.PublicKey

	stream lnrpc.Lightning_OpenChannelClient

	// leased are the wallet outputs FundPsbt locked for the funding
	// transaction.
	leased []wire.OutPoint

	// cancel tears down the open channel stream.
	cancel func()
}

// LndChannelFunder is an implementation of the rgbchannel.ChannelFunder
// interface that uses lnd's PSBT funding flow. The funding transaction is
// funded by lnd's wallet, spending the asset carrying inputs selected by the
// ledger.
type LndChannelFunder struct {
	lnd *lndclient.LndServices

	// feeRate is the fee rate of the funding transaction in sat/vbyte.
	feeRate uint64

	mtx     sync.Mutex
	pending map[string]*pendingFunding
}

// NewLndChannelFunder creates a new LndChannelFunder instance.
func NewLndChannelFunder(lnd *lndclient.LndServices,
	feeRate uint64) *LndChannelFunder {

	if feeRate == 0 {
		feeRate = DefaultFundingFeeRate
	}

	return &LndChannelFunder{
		lnd:     lnd,
		feeRate: feeRate,
		pending: make(map[string]*pendingFunding),
	}
}

// recvUpdate waits for the next update of an open channel stream.
func recvUpdate(ctx context.Context,
	stream lnrpc.Lightning_OpenChannelClient) (*lnrpc.OpenStatusUpdate,
	error) {

	updates := make(chan *lnrpc.OpenStatusUpdate, 1)
	errChan := make(chan error, 1)
	go func() {
		update, err := stream.Recv()
		if err != nil {
			errChan <- err
			return
		}
		updates <- update
	}()

	update, err := fn.RecvResp(updates, errChan, ctx.Done())
	if errors.Is(err, fn.ErrShuttingDown) {
		return nil, ctx.Err()
	}

	return update, err
}

// fundingStep executes a single step of a PSBT funding flow.
func (l *LndChannelFunder) fundingStep(ctx context.Context,
	msg *lnrpc.FundingTransitionMsg) error {

	rawCtx, _, client := l.lnd.Client.RawClientWithMacAuth(ctx)
	_, err := client.FundingStateStep(rawCtx, msg)

	return err
}

// StartFunding opens a channel with the PSBT funding shim, waits for the
// peer to accept it and funds the funding output from the wallet, spending
// the given inputs.
//
// NOTE: This is part of the rgbchannel.ChannelFunder interface.
func (l *LndChannelFunder) StartFunding(ctx context.Context,
	req *rgbchannel.FundingRequest) (*rgbchannel.Reservation, error) {

	var pendingID [32]byte
	if _, err := rand.Read(pendingID[:]); err != nil {
		return nil, err
	}
	tempID := hex.EncodeToString(pendingID[:])

	// The stream has to survive the request, it is only torn down once
	// the funding completed or was canceled.
	macCtx, _, client := l.lnd.Client.RawClientWithMacAuth(
		context.Background(),
	)
	streamCtx, cancel := context.WithCancel(macCtx)

	stream, err := client.OpenChannel(streamCtx, &lnrpc.OpenChannelRequest{
		NodePubkey:         req.PeerPub.SerializeCompressed(),
		LocalFundingAmount: int64(req.Capacity),
		Private:            true,
		FundingShim: &lnrpc.FundingShim{
			Shim: &lnrpc.FundingShim_PsbtShim{
				PsbtShim: &lnrpc.PsbtShim{
					PendingChanId: pendingID[:],
				},
			},
		},
	})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("unable to open channel with lnd: %w",
			err)
	}

	funding := &pendingFunding{
		pendingID: pendingID,
		peerPub:   req.PeerPub,
		stream:    stream,
		cancel:    cancel,
	}

	reservation, err := l.fundOutput(ctx, funding, req.Inputs)
	if err != nil {
		l.abort(funding)
		return nil, err
	}
	reservation.TempChannelID = tempID

	l.mtx.Lock()
	l.pending[tempID] = funding
	l.mtx.Unlock()

	rgbdLog.Debugf("Started funding flow %v with peer %x", tempID,
		req.PeerPub.SerializeCompressed())

	return reservation, nil
}

// fundOutput waits for the funding address of the flow and lets the wallet
// fund it.
func (l *LndChannelFunder) fundOutput(ctx context.Context,
	funding *pendingFunding,
	inputs []wire.OutPoint) (*rgbchannel.Reservation, error) {

	// With our request extended, we'll now wait for the initial response
	// sent after the responder sends AcceptChannel.
	update, err := recvUpdate(ctx, funding.stream)
	if err != nil {
		return nil, fmt.Errorf("channel not accepted: %w", err)
	}
	ready := update.GetPsbtFund()
	if ready == nil {
		return nil, fmt.Errorf("expected PSBT funding response")
	}

	addr, err := btcutil.DecodeAddress(
		ready.FundingAddress, l.lnd.ChainParams,
	)
	if err != nil {
		return nil, fmt.Errorf("invalid funding address: %w", err)
	}
	pkScript, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, err
	}

	rpcInputs := make([]*lnrpc.OutPoint, 0, len(inputs))
	for _, input := range inputs {
		input := input
		rpcInputs = append(rpcInputs, &lnrpc.OutPoint{
			TxidBytes:   input.Hash[:],
			OutputIndex: input.Index,
		})
	}

	packet, changeIdx, leases, err := l.lnd.WalletKit.FundPsbt(
		ctx, &walletrpc.FundPsbtRequest{
			Template: &walletrpc.FundPsbtRequest_Raw{
				Raw: &walletrpc.TxTemplate{
					Inputs: rpcInputs,
					Outputs: map[string]uint64{
						ready.FundingAddress: uint64(
							ready.FundingAmount,
						),
					},
				},
			},
			Fees: &walletrpc.FundPsbtRequest_SatPerVbyte{
				SatPerVbyte: l.feeRate,
			},
		},
	)
	if err != nil {
		return nil, fmt.Errorf("unable to fund PSBT: %w", err)
	}

	for _, lease := range leases {
		txid, err := chainhash.NewHash(lease.Outpoint.TxidBytes)
		if err != nil {
			return nil, err
		}
		funding.leased = append(funding.leased, wire.OutPoint{
			Hash:  *txid,
			Index: lease.Outpoint.OutputIndex,
		})
	}

	return &rgbchannel.Reservation{
		PkScript:   pkScript,
		Packet:     packet,
		ChangeVout: changeIdx,
	}, nil
}

// CompleteFunding verifies the colored funding transaction with lnd, signs
// the wallet inputs and hands the signed transaction to lnd, which publishes
// it once the peer sent its signature.
//
// NOTE: This is part of the rgbchannel.ChannelFunder interface.
func (l *LndChannelFunder) CompleteFunding(ctx context.Context, tempID string,
	packet *psbt.Packet) (*rgbchannel.CompletedFunding, error) {

	l.mtx.Lock()
	funding, ok := l.pending[tempID]
	l.mtx.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnknownFunding, tempID)
	}

	var psbtBuf bytes.Buffer
	if err := packet.Serialize(&psbtBuf); err != nil {
		return nil, fmt.Errorf("unable to serialize PSBT: %w", err)
	}

	err := l.fundingStep(ctx, &lnrpc.FundingTransitionMsg{
		Trigger: &lnrpc.FundingTransitionMsg_PsbtVerify{
			PsbtVerify: &lnrpc.FundingPsbtVerify{
				PendingChanId: funding.pendingID[:],
				FundedPsbt:    psbtBuf.Bytes(),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("PSBT verification failed: %w", err)
	}

	signed, _, err := l.lnd.WalletKit.FinalizePsbt(ctx, packet, "")
	if err != nil {
		return nil, fmt.Errorf("unable to sign PSBT: %w", err)
	}

	psbtBuf.Reset()
	if err := signed.Serialize(&psbtBuf); err != nil {
		return nil, fmt.Errorf("unable to serialize PSBT: %w", err)
	}

	err = l.fundingStep(ctx, &lnrpc.FundingTransitionMsg{
		Trigger: &lnrpc.FundingTransitionMsg_PsbtFinalize{
			PsbtFinalize: &lnrpc.FundingPsbtFinalize{
				PendingChanId: funding.pendingID[:],
				SignedPsbt:    psbtBuf.Bytes(),
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("PSBT finalization failed: %w", err)
	}

	// lnd reports the pending channel once the funding transaction was
	// published.
	var chanPending *lnrpc.PendingUpdate
	for chanPending == nil {
		update, err := recvUpdate(ctx, funding.stream)
		if err != nil {
			return nil, fmt.Errorf("channel not pending: %w", err)
		}
		chanPending = update.GetChanPending()
	}

	txid, err := chainhash.NewHash(chanPending.Txid)
	if err != nil {
		return nil, err
	}
	outPoint := wire.OutPoint{
		Hash:  *txid,
		Index: chanPending.OutputIndex,
	}
	fundingOutpoint, err := rgb.NewFundingOutpoint(outPoint)
	if err != nil {
		return nil, err
	}

	l.remove(tempID)

	return &rgbchannel.CompletedFunding{
		ChannelID:       lnwire.NewChanIDFromOutPoint(&outPoint).String(),
		FundingOutpoint: fundingOutpoint,
	}, nil
}

// CancelFunding aborts the funding flow, which releases the reservation of
// the peer and the wallet's inputs.
//
// NOTE: This is part of the rgbchannel.ChannelFunder interface.
func (l *LndChannelFunder) CancelFunding(ctx context.Context,
	peerPub *btcec.PublicKey, tempID string) error {

	l.mtx.Lock()
	funding, ok := l.pending[tempID]
	l.mtx.Unlock()
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnknownFunding, tempID)
	}

	if !funding.peerPub.IsEqual(peerPub) {
		return fmt.Errorf("funding flow %v belongs to peer %x", tempID,
			funding.peerPub.SerializeCompressed())
	}

	defer l.remove(tempID)

	shimErr := l.fundingStep(ctx, &lnrpc.FundingTransitionMsg{
		Trigger: &lnrpc.FundingTransitionMsg_ShimCancel{
			ShimCancel: &lnrpc.FundingShimCancel{
				PendingChanId: funding.pendingID[:],
			},
		},
	})
	if shimErr != nil {
		shimErr = fmt.Errorf("unable to cancel funding shim: %w",
			shimErr)
	}

	// The inputs are released even if lnd already forgot the shim.
	leaseErr := releaseLeases(ctx, l.lnd.WalletKit, funding.leased)

	return errors.Join(shimErr, leaseErr)
}

// abort cancels a funding flow that never got a reservation.
func (l *LndChannelFunder) abort(funding *pendingFunding) {
	defer funding.cancel()

	ctx, cancel := context.WithTimeout(
		context.Background(), rgbchannel.DefaultTimeout,
	)
	defer cancel()

	err := l.fundingStep(ctx, &lnrpc.FundingTransitionMsg{
		Trigger: &lnrpc.FundingTransitionMsg_ShimCancel{
			ShimCancel: &lnrpc.FundingShimCancel{
				PendingChanId: funding.pendingID[:],
			},
		},
	})
	if err != nil {
		rgbdLog.Warnf("Unable to cancel funding shim %x: %v",
			funding.pendingID[:], err)
	}

	err = releaseLeases(ctx, l.lnd.WalletKit, funding.leased)
	if err != nil {
		rgbdLog.Warnf("Unable to release inputs of funding %x: %v",
			funding.pendingID[:], err)
	}
}

// releaseLeases unlocks the wallet outputs leased for a funding flow. Leases
// of other outputs are left alone.
func releaseLeases(ctx context.Context, wallet lndclient.WalletKitClient,
	leased []wire.OutPoint) error {

	if len(leased) == 0 {
		return nil
	}

	ours := make(map[wire.OutPoint]struct{}, len(leased))
	for _, op := range leased {
		ours[op] = struct{}{}
	}

	leases, err := wallet.ListLeases(ctx)
	if err != nil {
		return fmt.Errorf("error listing existing leases: %w", err)
	}

	var errs []error
	for _, lease := range leases {
		if _, ok := ours[lease.Outpoint]; !ok {
			continue
		}

		err := wallet.ReleaseOutput(ctx, lease.LockID, lease.Outpoint)
		if err != nil {
			errs = append(errs, fmt.Errorf("error releasing lease "+
				"of %v: %w", lease.Outpoint, err))
			continue
		}

		rgbdLog.Debugf("Released funding input %v", lease.Outpoint)
	}

	return errors.Join(errs...)
}

// remove tears down the stream of a funding flow and forgets it.
func (l *LndChannelFunder) remove(tempID string) {
	l.mtx.Lock()
	defer l.mtx.Unlock()

	if funding, ok := l.pending[tempID]; ok {
		funding.cancel()
		delete(l.pending, tempID)
	}
}

// A compile-time check to ensure that LndChannelFunder fully implements the
// rgbchannel.ChannelFunder interface.
var _ rgbchannel.ChannelFunder = (*LndChannelFunder)(nil)
