package proxy

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/tlv"
)

// TransferType is the direction of a consignment transfer.
type TransferType string

const (
	// SendTransferType is the type of an outgoing consignment delivery.
	SendTransferType TransferType = "send"

	// ReceiveTransferType is the type of an incoming consignment
	// retrieval.
	ReceiveTransferType TransferType = "receive"
)

// DeliveryTlvType is the TLV type of the fields of an encoded delivery.
type DeliveryTlvType = tlv.Type

const (
	DeliveryID          DeliveryTlvType = 0
	DeliveryRecipientID DeliveryTlvType = 2
	DeliveryTxid        DeliveryTlvType = 4
	DeliveryVout        DeliveryTlvType = 6
	DeliveryBlob        DeliveryTlvType = 8
	DeliveryCreatedAt   DeliveryTlvType = 10
)

// Delivery is a consignment that still has to be handed to the proxy.
type Delivery struct {
	// ID uniquely identifies the delivery.
	ID uuid.UUID

	// RecipientID is the ID the counterparty fetches the consignment
	// with.
	RecipientID string

	// Consignment is the payload to deliver.
	Consignment Consignment

	// CreatedAt is the time the delivery was queued.
	CreatedAt time.Time
}

// NewDelivery creates a new delivery with a fresh random ID.
func NewDelivery(recipientID string, consignment Consignment,
	now time.Time) *Delivery {

	return &Delivery{
		ID:          uuid.New(),
		RecipientID: recipientID,
		Consignment: consignment,
		CreatedAt:   now,
	}
}

// Encode serializes the delivery as a TLV stream.
func (d *Delivery) Encode() ([]byte, error) {
	var (
		id          = d.ID[:]
		recipientID = []byte(d.RecipientID)
		txid        = [32]byte(d.Consignment.Txid)
		vout        = d.Consignment.Vout
		blob        = d.Consignment.Blob
		createdAt   = uint64(d.CreatedAt.Unix())
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(DeliveryID, &id),
		tlv.MakePrimitiveRecord(DeliveryRecipientID, &recipientID),
		tlv.MakePrimitiveRecord(DeliveryTxid, &txid),
		tlv.MakePrimitiveRecord(DeliveryVout, &vout),
		tlv.MakePrimitiveRecord(DeliveryBlob, &blob),
		tlv.MakePrimitiveRecord(DeliveryCreatedAt, &createdAt),
	)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer
	if err := stream.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodeDelivery deserializes a delivery from a TLV stream.
func DecodeDelivery(b []byte) (*Delivery, error) {
	var (
		id          []byte
		recipientID []byte
		txid        [32]byte
		vout        uint32
		blob        []byte
		createdAt   uint64
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(DeliveryID, &id),
		tlv.MakePrimitiveRecord(DeliveryRecipientID, &recipientID),
		tlv.MakePrimitiveRecord(DeliveryTxid, &txid),
		tlv.MakePrimitiveRecord(DeliveryVout, &vout),
		tlv.MakePrimitiveRecord(DeliveryBlob, &blob),
		tlv.MakePrimitiveRecord(DeliveryCreatedAt, &createdAt),
	)
	if err != nil {
		return nil, err
	}
	if err := stream.Decode(bytes.NewReader(b)); err != nil {
		return nil, err
	}

	deliveryID, err := uuid.FromBytes(id)
	if err != nil {
		return nil, fmt.Errorf("invalid delivery id: %w", err)
	}

	return &Delivery{
		ID:          deliveryID,
		RecipientID: string(recipientID),
		Consignment: Consignment{
			Txid: chainhash.Hash(txid),
			Vout: vout,
			Blob: blob,
		},
		CreatedAt: time.Unix(int64(createdAt), 0),
	}, nil
}

// DeliveryStore persists deliveries until the proxy accepted them, so they
// survive restarts.
type DeliveryStore interface {
	// StoreDelivery persists a new delivery.
	StoreDelivery(ctx context.Context, d *Delivery) error

	// PendingDeliveries returns all deliveries that weren't completed.
	PendingDeliveries(ctx context.Context) ([]*Delivery, error)

	// DeleteDelivery removes a completed delivery.
	DeleteDelivery(ctx context.Context, id uuid.UUID) error
}

// TransferLog is a log for recording consignment delivery and retrieval
// attempts.
type TransferLog interface {
	// LogTransferAttempt logs a new transfer attempt.
	LogTransferAttempt(ctx context.Context, transferID string,
		transferType TransferType) error

	// QueryTransferLog returns timestamps which correspond to logged
	// transfer attempts.
	QueryTransferLog(ctx context.Context, transferID string,
		transferType TransferType) ([]time.Time, error)
}
