package rgbld

import (
	"context"
	"fmt"
	"math"

	"github.com/lightninglabs/lndclient"
	"github.com/lightninglabs/rgb-lightning/rgbwallet"
)

// LndChainWallet is an implementation of the rgbwallet.ChainWallet interface
// backed by the wallet of the connected lnd node.
type LndChainWallet struct {
	lnd *lndclient.LndServices
}

// NewLndChainWallet creates a new chain wallet on top of lnd.
func NewLndChainWallet(lnd *lndclient.LndServices) *LndChainWallet {
	return &LndChainWallet{
		lnd: lnd,
	}
}

// ListUnspent returns the wallet's unspent outputs with at least minConfs
// confirmations.
//
// NOTE: This is part of the rgbwallet.ChainWallet interface.
func (l *LndChainWallet) ListUnspent(ctx context.Context,
	minConfs int32) ([]*rgbwallet.Utxo, error) {

	utxos, err := l.lnd.WalletKit.ListUnspent(ctx, minConfs, math.MaxInt32)
	if err != nil {
		return nil, fmt.Errorf("unable to list unspent outputs: %w",
			err)
	}

	result := make([]*rgbwallet.Utxo, 0, len(utxos))
	for _, utxo := range utxos {
		result = append(result, &rgbwallet.Utxo{
			OutPoint:      utxo.OutPoint,
			Value:         utxo.Value,
			PkScript:      utxo.PkScript,
			Confirmations: utxo.Confirmations,
		})
	}

	return result, nil
}

// OnchainBalance returns the confirmed and unconfirmed balance of the
// wallet.
//
// NOTE: This is part of the rgbwallet.ChainWallet interface.
func (l *LndChainWallet) OnchainBalance(
	ctx context.Context) (*rgbwallet.OnchainBalance, error) {

	balance, err := l.lnd.Client.WalletBalance(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to fetch wallet balance: %w",
			err)
	}

	return &rgbwallet.OnchainBalance{
		Confirmed:   balance.Confirmed,
		Unconfirmed: balance.Unconfirmed,
	}, nil
}

// A compile-time check to ensure that LndChainWallet fully implements the
// rgbwallet.ChainWallet interface.
var _ rgbwallet.ChainWallet = (*LndChainWallet)(nil)
