package wal

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// Row payload tags, one per types.Kind, used to self-describe each
// column's on-disk shape within a row's op_data (§4.14 leaves row
// encoding to the implementer beyond "op_data: var").
const (
	tagNull byte = iota
	tagInteger
	tagFloat
	tagBoolean
	tagText
	tagTimestamp
	tagJSON
)

// EncodeRow serializes a row as a tag byte plus a fixed or
// length-prefixed payload per value, concatenated in column order.
func EncodeRow(row types.Row) []byte {
	var buf bytes.Buffer
	var scratch [8]byte
	buf.WriteByte(byte(len(row)))
	if len(row) > 255 {
		// Extremely wide rows: fall back to a 4-byte count prefix after
		// the sentinel 0xFF, rare enough not to cost normal rows a byte.
		buf.Reset()
		buf.WriteByte(0xFF)
		binary.LittleEndian.PutUint32(scratch[:4], uint32(len(row)))
		buf.Write(scratch[:4])
	}
	for _, v := range row {
		encodeValue(&buf, v, scratch[:])
	}
	return buf.Bytes()
}

func encodeValue(buf *bytes.Buffer, v types.Value, scratch []byte) {
	switch v.Kind() {
	case types.KindNull:
		buf.WriteByte(tagNull)
	case types.KindInteger:
		buf.WriteByte(tagInteger)
		binary.LittleEndian.PutUint64(scratch[:8], uint64(v.Int()))
		buf.Write(scratch[:8])
	case types.KindFloat:
		buf.WriteByte(tagFloat)
		binary.LittleEndian.PutUint64(scratch[:8], math.Float64bits(v.Float()))
		buf.Write(scratch[:8])
	case types.KindBoolean:
		buf.WriteByte(tagBoolean)
		if v.Bool() {
			buf.WriteByte(1)
		} else {
			buf.WriteByte(0)
		}
	case types.KindTimestamp:
		buf.WriteByte(tagTimestamp)
		binary.LittleEndian.PutUint64(scratch[:8], uint64(v.Int()))
		buf.Write(scratch[:8])
	case types.KindText, types.KindJSON:
		if v.Kind() == types.KindText {
			buf.WriteByte(tagText)
		} else {
			buf.WriteByte(tagJSON)
		}
		s := v.Text()
		if v.Kind() == types.KindJSON {
			s = v.JSONRaw()
		}
		var lb [binary.MaxVarintLen64]byte
		n := binary.PutUvarint(lb[:], uint64(len(s)))
		buf.Write(lb[:n])
		buf.WriteString(s)
	}
}

// DecodeRow is EncodeRow's inverse.
func DecodeRow(data []byte) (types.Row, error) {
	r := bytes.NewReader(data)
	countByte, err := r.ReadByte()
	if err != nil {
		return nil, dberr.Wrap(dberr.KindIOCorruption, err, "truncated row payload")
	}
	n := int(countByte)
	if countByte == 0xFF {
		var cb [4]byte
		if _, err := r.Read(cb[:]); err != nil {
			return nil, dberr.Wrap(dberr.KindIOCorruption, err, "truncated wide-row count")
		}
		n = int(binary.LittleEndian.Uint32(cb[:]))
	}
	row := make(types.Row, n)
	for i := 0; i < n; i++ {
		v, err := decodeValue(r)
		if err != nil {
			return nil, err
		}
		row[i] = v
	}
	return row, nil
}

func decodeValue(r *bytes.Reader) (types.Value, error) {
	tag, err := r.ReadByte()
	if err != nil {
		return types.Null, dberr.Wrap(dberr.KindIOCorruption, err, "truncated value tag")
	}
	switch tag {
	case tagNull:
		return types.Null, nil
	case tagInteger:
		var b [8]byte
		if _, err := r.Read(b[:]); err != nil {
			return types.Null, dberr.Wrap(dberr.KindIOCorruption, err, "truncated integer value")
		}
		return types.NewInteger(int64(binary.LittleEndian.Uint64(b[:]))), nil
	case tagFloat:
		var b [8]byte
		if _, err := r.Read(b[:]); err != nil {
			return types.Null, dberr.Wrap(dberr.KindIOCorruption, err, "truncated float value")
		}
		return types.NewFloat(math.Float64frombits(binary.LittleEndian.Uint64(b[:]))), nil
	case tagBoolean:
		b, err := r.ReadByte()
		if err != nil {
			return types.Null, dberr.Wrap(dberr.KindIOCorruption, err, "truncated boolean value")
		}
		return types.NewBoolean(b != 0), nil
	case tagTimestamp:
		var b [8]byte
		if _, err := r.Read(b[:]); err != nil {
			return types.Null, dberr.Wrap(dberr.KindIOCorruption, err, "truncated timestamp value")
		}
		return types.NewTimestamp(int64(binary.LittleEndian.Uint64(b[:]))), nil
	case tagText, tagJSON:
		l, err := binary.ReadUvarint(r)
		if err != nil {
			return types.Null, dberr.Wrap(dberr.KindIOCorruption, err, "truncated string length")
		}
		sb := make([]byte, l)
		if _, err := r.Read(sb); err != nil {
			return types.Null, dberr.Wrap(dberr.KindIOCorruption, err, "truncated string payload")
		}
		if tag == tagJSON {
			return types.NewJSON(string(sb)), nil
		}
		return types.NewText(string(sb)), nil
	default:
		return types.Null, dberr.New(dberr.KindIOCorruption, "unknown value tag %d", tag)
	}
}

// EncodeBody serializes an Entry's body (§4.14: "txn_id: 8][row_id: 8]
// [timestamp: 8][table_name_len: 2][table_name][op: 1][op_data: var]").
// The LSN itself is not part of the body; Writer prepends it separately
// as the record's own 8-byte header field.
func EncodeBody(e Entry) []byte {
	var buf bytes.Buffer
	var b8 [8]byte

	binary.LittleEndian.PutUint64(b8[:], uint64(e.TxnID))
	buf.Write(b8[:])
	binary.LittleEndian.PutUint64(b8[:], uint64(e.RowID))
	buf.Write(b8[:])
	binary.LittleEndian.PutUint64(b8[:], uint64(e.TimeUS))
	buf.Write(b8[:])

	var b2 [2]byte
	binary.LittleEndian.PutUint16(b2[:], uint16(len(e.TableName)))
	buf.Write(b2[:])
	buf.WriteString(e.TableName)

	buf.WriteByte(byte(e.Op))
	buf.Write(e.OpData)
	return buf.Bytes()
}

// DecodeBody is EncodeBody's inverse; lsn is supplied by the caller
// (Writer/Reader already parsed it from the record header).
func DecodeBody(lsn LSN, body []byte) (Entry, error) {
	r := bytes.NewReader(body)
	var b8 [8]byte

	if _, err := r.Read(b8[:]); err != nil {
		return Entry{}, dberr.Wrap(dberr.KindIOCorruption, err, "truncated txn_id")
	}
	txnID := txn.ID(binary.LittleEndian.Uint64(b8[:]))

	if _, err := r.Read(b8[:]); err != nil {
		return Entry{}, dberr.Wrap(dberr.KindIOCorruption, err, "truncated row_id")
	}
	rowID := int64(binary.LittleEndian.Uint64(b8[:]))

	if _, err := r.Read(b8[:]); err != nil {
		return Entry{}, dberr.Wrap(dberr.KindIOCorruption, err, "truncated timestamp")
	}
	timeUS := int64(binary.LittleEndian.Uint64(b8[:]))

	var b2 [2]byte
	if _, err := r.Read(b2[:]); err != nil {
		return Entry{}, dberr.Wrap(dberr.KindIOCorruption, err, "truncated table_name_len")
	}
	nameLen := binary.LittleEndian.Uint16(b2[:])
	nameBytes := make([]byte, nameLen)
	if nameLen > 0 {
		if _, err := r.Read(nameBytes); err != nil {
			return Entry{}, dberr.Wrap(dberr.KindIOCorruption, err, "truncated table_name")
		}
	}

	opByte, err := r.ReadByte()
	if err != nil {
		return Entry{}, dberr.Wrap(dberr.KindIOCorruption, err, "truncated op")
	}

	opData := make([]byte, r.Len())
	if _, err := r.Read(opData); err != nil && r.Len() > 0 {
		return Entry{}, dberr.Wrap(dberr.KindIOCorruption, err, "truncated op_data")
	}

	return Entry{
		LSN:       lsn,
		TxnID:     txnID,
		RowID:     rowID,
		TimeUS:    timeUS,
		TableName: string(nameBytes),
		Op:        Op(opByte),
		OpData:    opData,
	}, nil
}
