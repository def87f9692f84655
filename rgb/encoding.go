package rgb

import (
	"bytes"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

// AllocationTlvType is the TLV type of the fields of an encoded allocation.
type AllocationTlvType = tlv.Type

const (
	AllocationChannelID    AllocationTlvType = 0
	AllocationContractID   AllocationTlvType = 2
	AllocationLocalAmount  AllocationTlvType = 4
	AllocationRemoteAmount AllocationTlvType = 6
)

// AssetTlvType is the TLV type of the fields of an encoded asset record.
type AssetTlvType = tlv.Type

const (
	AssetContractID  AssetTlvType = 0
	AssetTicker      AssetTlvType = 2
	AssetName        AssetTlvType = 4
	AssetPrecision   AssetTlvType = 6
	AssetTotalSupply AssetTlvType = 8
)

// PaymentTlvType is the TLV type of the fields of an encoded payment info.
type PaymentTlvType = tlv.Type

const (
	PaymentChannelID    PaymentTlvType = 0
	PaymentContractID   PaymentTlvType = 2
	PaymentAmount       PaymentTlvType = 4
	PaymentLocalAmount  PaymentTlvType = 6
	PaymentRemoteAmount PaymentTlvType = 8
	PaymentIncoming     PaymentTlvType = 10
)

// MarshalText encodes the contract ID in its string form.
func (c ContractID) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

// UnmarshalText decodes a contract ID from its string form.
func (c *ContractID) UnmarshalText(text []byte) error {
	id, err := NewContractIDFromStr(string(text))
	if err != nil {
		return err
	}

	*c = id
	return nil
}

// Encode serializes the allocation as a TLV stream.
func (a *Allocation) Encode(w io.Writer) error {
	channelID := []byte(a.ChannelID)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(AllocationChannelID, &channelID),
		tlv.MakePrimitiveRecord(
			AllocationContractID, (*[32]byte)(&a.ContractID),
		),
		tlv.MakePrimitiveRecord(AllocationLocalAmount, &a.LocalAmount),
		tlv.MakePrimitiveRecord(
			AllocationRemoteAmount, &a.RemoteAmount,
		),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Decode deserializes an allocation from a TLV stream.
func (a *Allocation) Decode(r io.Reader) error {
	var channelID []byte
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(AllocationChannelID, &channelID),
		tlv.MakePrimitiveRecord(
			AllocationContractID, (*[32]byte)(&a.ContractID),
		),
		tlv.MakePrimitiveRecord(AllocationLocalAmount, &a.LocalAmount),
		tlv.MakePrimitiveRecord(
			AllocationRemoteAmount, &a.RemoteAmount,
		),
	)
	if err != nil {
		return err
	}

	if err := stream.Decode(r); err != nil {
		return err
	}

	a.ChannelID = string(channelID)
	return nil
}

// Encode serializes the asset record as a TLV stream.
func (a *Asset) Encode(w io.Writer) error {
	ticker, name := []byte(a.Ticker), []byte(a.Name)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(
			AssetContractID, (*[32]byte)(&a.ContractID),
		),
		tlv.MakePrimitiveRecord(AssetTicker, &ticker),
		tlv.MakePrimitiveRecord(AssetName, &name),
		tlv.MakePrimitiveRecord(AssetPrecision, &a.Precision),
		tlv.MakePrimitiveRecord(AssetTotalSupply, &a.TotalSupply),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Decode deserializes an asset record from a TLV stream.
func (a *Asset) Decode(r io.Reader) error {
	var ticker, name []byte
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(
			AssetContractID, (*[32]byte)(&a.ContractID),
		),
		tlv.MakePrimitiveRecord(AssetTicker, &ticker),
		tlv.MakePrimitiveRecord(AssetName, &name),
		tlv.MakePrimitiveRecord(AssetPrecision, &a.Precision),
		tlv.MakePrimitiveRecord(AssetTotalSupply, &a.TotalSupply),
	)
	if err != nil {
		return err
	}

	if err := stream.Decode(r); err != nil {
		return err
	}

	a.Ticker, a.Name = string(ticker), string(name)
	return nil
}

// Encode serializes the payment info as a TLV stream.
func (p *PaymentInfo) Encode(w io.Writer) error {
	channelID := []byte(p.ChannelID)

	var incoming uint8
	if p.Incoming {
		incoming = 1
	}

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(PaymentChannelID, &channelID),
		tlv.MakePrimitiveRecord(
			PaymentContractID, (*[32]byte)(&p.ContractID),
		),
		tlv.MakePrimitiveRecord(PaymentAmount, &p.Amount),
		tlv.MakePrimitiveRecord(PaymentLocalAmount, &p.LocalAmount),
		tlv.MakePrimitiveRecord(PaymentRemoteAmount, &p.RemoteAmount),
		tlv.MakePrimitiveRecord(PaymentIncoming, &incoming),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Decode deserializes a payment info from a TLV stream.
func (p *PaymentInfo) Decode(r io.Reader) error {
	var (
		channelID []byte
		incoming  uint8
	)
	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(PaymentChannelID, &channelID),
		tlv.MakePrimitiveRecord(
			PaymentContractID, (*[32]byte)(&p.ContractID),
		),
		tlv.MakePrimitiveRecord(PaymentAmount, &p.Amount),
		tlv.MakePrimitiveRecord(PaymentLocalAmount, &p.LocalAmount),
		tlv.MakePrimitiveRecord(PaymentRemoteAmount, &p.RemoteAmount),
		tlv.MakePrimitiveRecord(PaymentIncoming, &incoming),
	)
	if err != nil {
		return err
	}

	if err := stream.Decode(r); err != nil {
		return err
	}

	p.ChannelID = string(channelID)
	p.Incoming = incoming == 1
	return nil
}

// encoder is implemented by all records that can be serialized.
type encoder interface {
	Encode(w io.Writer) error
}

// decoder is implemented by all records that can be deserialized.
type decoder interface {
	Decode(r io.Reader) error
}

// EncodeToBytes serializes a record into a new byte slice.
func EncodeToBytes(e encoder) ([]byte, error) {
	var b bytes.Buffer
	if err := e.Encode(&b); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

// DecodeFromBytes deserializes a record from the given bytes.
func DecodeFromBytes(d decoder, b []byte) error {
	return d.Decode(bytes.NewReader(b))
}
