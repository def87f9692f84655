package test

import (
	"math/rand"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightninglabs/rgb-lightning/rgb"
	"github.com/stretchr/testify/require"
)

// RandBool rolls a random boolean.
func RandBool() bool {
	return rand.Int()%2 == 0
}

func RandPrivKey(t *testing.T) *btcec.PrivateKey {
	privKey, err := btcec.NewPrivateKey()
	require.NoError(t, err)
	return privKey
}

func RandPubKey(t *testing.T) *btcec.PublicKey {
	return RandPrivKey(t).PubKey()
}

func RandBytes(num int) []byte {
	randBytes := make([]byte, num)
	_, _ = rand.Read(randBytes)
	return randBytes
}

func RandHash() chainhash.Hash {
	var h chainhash.Hash
	copy(h[:], RandBytes(chainhash.HashSize))
	return h
}

func RandOutPoint() wire.OutPoint {
	return wire.OutPoint{
		Hash:  RandHash(),
		Index: uint32(rand.Int31n(10)),
	}
}

func RandContractID() rgb.ContractID {
	var id rgb.ContractID
	copy(id[:], RandBytes(len(id)))
	return id
}

// P2WKHScript returns a random pay-to-witness-key-hash script.
func P2WKHScript(t *testing.T) []byte {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(RandBytes(20)).
		Script()
	require.NoError(t, err)

	return script
}

// P2WSHScript returns a random pay-to-witness-script-hash script, which is
// what a channel funding output looks like.
func P2WSHScript(t *testing.T) []byte {
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(RandBytes(32)).
		Script()
	require.NoError(t, err)

	return script
}

// FundingPacket creates an unsigned funding packet that spends the given
// inputs to the funding output and a change output. The funding output is
// the first output if fundingFirst is set.
func FundingPacket(t *testing.T, inputs []wire.OutPoint,
	fundingPkScript []byte, capacity int64, fundingFirst bool) *psbt.Packet {

	tx := wire.NewMsgTx(2)
	for _, in := range inputs {
		tx.AddTxIn(wire.NewTxIn(&in, nil, nil))
	}

	funding := wire.NewTxOut(capacity, fundingPkScript)
	change := wire.NewTxOut(50_000, P2WKHScript(t))
	if fundingFirst {
		tx.AddTxOut(funding)
		tx.AddTxOut(change)
	} else {
		tx.AddTxOut(change)
		tx.AddTxOut(funding)
	}

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)

	return packet
}
