// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package recovery

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/msigrecovery/batch"
	"github.com/lightningnetwork/lnd/tlv"
)

const (
	typeOriginFound   tlv.Type = 1
	typeOriginPubKeys tlv.Type = 2
	typeOriginBalance tlv.Type = 3
	typeOriginLeaves  tlv.Type = 4

	typeDestPubKeys tlv.Type = 1
	typeDestAddress tlv.Type = 2
	typeDestPath    tlv.Type = 3

	typeTxEmpty       tlv.Type = 1
	typeTxBalance     tlv.Type = 2
	typeTxBytes       tlv.Type = 3
	typeTxInputPaths  tlv.Type = 4
	typeTxOutputPaths tlv.Type = 5
	typeTxFee         tlv.Type = 6
)

// leafRecord is one scanned address of an origin account.
type leafRecord struct {
	Chain   uint32
	Index   uint32
	Address string
	Balance btcutil.Amount
}

// originRecord is the cached discovery result of an origin account.  A
// record with Found unset is a tombstone.
type originRecord struct {
	Found bool

	// PubKeys are the member account keys, so the account can be
	// rebuilt without contacting an oracle.
	PubKeys []string

	Balance btcutil.Amount
	Leaves  []leafRecord
}

// destinationRecord is the cached sweep target of an account.
type destinationRecord struct {
	PubKeys []string
	Address string

	// Path is the path of Address relative to the destination's backup
	// master key.
	Path string
}

// txRecord is the cached sweep of an account.  Tx is nil when the account
// had nothing to send.
type txRecord struct {
	Balance btcutil.Amount
	Fee     btcutil.Amount
	Tx      *batch.Transaction
}

func boolByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}

func encodeStream(records ...tlv.Record) ([]byte, error) {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := stream.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeStream(b []byte, records ...tlv.Record) error {
	stream, err := tlv.NewStream(records...)
	if err != nil {
		return err
	}
	return stream.Decode(bytes.NewReader(b))
}

func stringsRecord(typ tlv.Type, strs *[]string) tlv.Record {
	return tlv.MakeDynamicRecord(
		typ, strs, func() uint64 {
			return recordSize(stringsEncoder, strs)
		}, stringsEncoder, stringsDecoder,
	)
}

func (r *originRecord) encode() ([]byte, error) {
	found := boolByte(r.Found)
	balance := uint64(r.Balance)
	return encodeStream(
		tlv.MakePrimitiveRecord(typeOriginFound, &found),
		stringsRecord(typeOriginPubKeys, &r.PubKeys),
		tlv.MakePrimitiveRecord(typeOriginBalance, &balance),
		tlv.MakeDynamicRecord(
			typeOriginLeaves, &r.Leaves, func() uint64 {
				return recordSize(leavesEncoder, &r.Leaves)
			}, leavesEncoder, leavesDecoder,
		),
	)
}

func decodeOriginRecord(b []byte) (*originRecord, error) {
	var (
		r       originRecord
		found   uint8
		balance uint64
	)
	err := decodeStream(b,
		tlv.MakePrimitiveRecord(typeOriginFound, &found),
		stringsRecord(typeOriginPubKeys, &r.PubKeys),
		tlv.MakePrimitiveRecord(typeOriginBalance, &balance),
		tlv.MakeDynamicRecord(
			typeOriginLeaves, &r.Leaves, func() uint64 {
				return recordSize(leavesEncoder, &r.Leaves)
			}, leavesEncoder, leavesDecoder,
		),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid origin account record: %w", err)
	}
	r.Found = found != 0
	r.Balance = btcutil.Amount(balance)
	return &r, nil
}

func (r *destinationRecord) encode() ([]byte, error) {
	addr, path := []byte(r.Address), []byte(r.Path)
	return encodeStream(
		stringsRecord(typeDestPubKeys, &r.PubKeys),
		tlv.MakePrimitiveRecord(typeDestAddress, &addr),
		tlv.MakePrimitiveRecord(typeDestPath, &path),
	)
}

func decodeDestinationRecord(b []byte) (*destinationRecord, error) {
	var (
		r          destinationRecord
		addr, path []byte
	)
	err := decodeStream(b,
		stringsRecord(typeDestPubKeys, &r.PubKeys),
		tlv.MakePrimitiveRecord(typeDestAddress, &addr),
		tlv.MakePrimitiveRecord(typeDestPath, &path),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid destination account record: %w",
			err)
	}
	r.Address, r.Path = string(addr), string(path)
	return &r, nil
}

func (r *txRecord) encode() ([]byte, error) {
	var (
		empty       = boolByte(r.Tx == nil)
		balance     = uint64(r.Balance)
		fee         = uint64(r.Fee)
		txBytes     []byte
		inputPaths  []string
		outputPaths []string
	)
	if r.Tx != nil {
		var err error
		txBytes, err = r.Tx.Serialize()
		if err != nil {
			return nil, err
		}
		inputPaths, outputPaths = r.Tx.InputPaths, r.Tx.OutputPaths
	}
	return encodeStream(
		tlv.MakePrimitiveRecord(typeTxEmpty, &empty),
		tlv.MakePrimitiveRecord(typeTxBalance, &balance),
		tlv.MakePrimitiveRecord(typeTxBytes, &txBytes),
		stringsRecord(typeTxInputPaths, &inputPaths),
		stringsRecord(typeTxOutputPaths, &outputPaths),
		tlv.MakePrimitiveRecord(typeTxFee, &fee),
	)
}

func decodeTxRecord(b []byte) (*txRecord, error) {
	var (
		empty       uint8
		balance     uint64
		fee         uint64
		txBytes     []byte
		inputPaths  []string
		outputPaths []string
	)
	err := decodeStream(b,
		tlv.MakePrimitiveRecord(typeTxEmpty, &empty),
		tlv.MakePrimitiveRecord(typeTxBalance, &balance),
		tlv.MakePrimitiveRecord(typeTxBytes, &txBytes),
		stringsRecord(typeTxInputPaths, &inputPaths),
		stringsRecord(typeTxOutputPaths, &outputPaths),
		tlv.MakePrimitiveRecord(typeTxFee, &fee),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid transaction record: %w", err)
	}

	r := &txRecord{
		Balance: btcutil.Amount(balance),
		Fee:     btcutil.Amount(fee),
	}
	if empty != 0 {
		return r, nil
	}

	var tx batch.Transaction
	if err := tx.Deserialize(txBytes); err != nil {
		return nil, err
	}
	r.Tx, err = batch.NewTransaction(tx.Tx, tx.PrevOuts, inputPaths,
		outputPaths)
	if err != nil {
		return nil, err
	}
	return r, nil
}

// recordSize returns the encoded size of v.
func recordSize(encoder tlv.Encoder, v interface{}) uint64 {
	var (
		b   bytes.Buffer
		buf [8]byte
	)
	if err := encoder(&b, v, &buf); err != nil {
		panic(err)
	}
	return uint64(b.Len())
}

// writeString writes a varint length prefixed string.
func writeString(w io.Writer, s string, buf *[8]byte) error {
	if err := tlv.WriteVarInt(w, uint64(len(s)), buf); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r *io.LimitedReader, buf *[8]byte) (string, error) {
	n, err := tlv.ReadVarInt(r, buf)
	if err != nil {
		return "", err
	}
	if n > uint64(r.N) {
		return "", fmt.Errorf("string of %d bytes exceeds record", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

// stringsEncoder is a TLV encoder for a slice of strings.
func stringsEncoder(w io.Writer, val interface{}, buf *[8]byte) error {
	if v, ok := val.(*[]string); ok {
		for _, s := range *v {
			if err := writeString(w, s, buf); err != nil {
				return err
			}
		}
		return nil
	}
	return tlv.NewTypeForEncodingErr(val, "[]string")
}

// stringsDecoder is a TLV decoder for a slice of strings.
func stringsDecoder(r io.Reader, val interface{}, buf *[8]byte,
	l uint64) error {

	if v, ok := val.(*[]string); ok {
		lr := &io.LimitedReader{R: r, N: int64(l)}
		var strs []string
		for lr.N > 0 {
			s, err := readString(lr, buf)
			if err != nil {
				return err
			}
			strs = append(strs, s)
		}
		*v = strs
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "[]string", l, l)
}

// leavesEncoder is a TLV encoder for a slice of leaf records.
func leavesEncoder(w io.Writer, val interface{}, buf *[8]byte) error {
	if v, ok := val.(*[]leafRecord); ok {
		for _, leaf := range *v {
			if err := tlv.EUint32T(w, leaf.Chain, buf); err != nil {
				return err
			}
			if err := tlv.EUint32T(w, leaf.Index, buf); err != nil {
				return err
			}
			err := tlv.EUint64T(w, uint64(leaf.Balance), buf)
			if err != nil {
				return err
			}
			if err := writeString(w, leaf.Address, buf); err != nil {
				return err
			}
		}
		return nil
	}
	return tlv.NewTypeForEncodingErr(val, "[]leafRecord")
}

// leavesDecoder is a TLV decoder for a slice of leaf records.
func leavesDecoder(r io.Reader, val interface{}, buf *[8]byte,
	l uint64) error {

	if v, ok := val.(*[]leafRecord); ok {
		lr := &io.LimitedReader{R: r, N: int64(l)}
		var leaves []leafRecord
		for lr.N > 0 {
			var (
				leaf    leafRecord
				balance uint64
			)
			if err := tlv.DUint32(lr, &leaf.Chain, buf, 4); err != nil {
				return err
			}
			if err := tlv.DUint32(lr, &leaf.Index, buf, 4); err != nil {
				return err
			}
			if err := tlv.DUint64(lr, &balance, buf, 8); err != nil {
				return err
			}
			addr, err := readString(lr, buf)
			if err != nil {
				return err
			}
			leaf.Address = addr
			leaf.Balance = btcutil.Amount(balance)
			leaves = append(leaves, leaf)
		}
		*v = leaves
		return nil
	}
	return tlv.NewTypeForDecodingErr(val, "[]leafRecord", l, l)
}
