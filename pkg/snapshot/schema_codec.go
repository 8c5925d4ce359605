package snapshot

import (
	"bytes"
	"encoding/binary"

	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/types"
)

// EncodeSchema serializes a Schema's column list for the per-table
// snapshot header (§4.14: "serialized schema"). Index definitions are not
// encoded here, and recovery does not restore them from anywhere else, so
// a recovered table has no indexes.
// pkg/engine reuses the same encoding for a CreateTable WAL entry's
// op_data, so both a snapshot and a replayed WAL agree on one schema
// wire format.
func EncodeSchema(schema *types.Schema) []byte {
	var buf bytes.Buffer
	writeString(&buf, schema.TableName)
	binary.Write(&buf, binary.LittleEndian, uint16(len(schema.Columns)))
	for _, c := range schema.Columns {
		writeString(&buf, c.Name)
		buf.WriteByte(byte(c.Type))
		flags := byte(0)
		if c.Nullable {
			flags |= 1
		}
		if c.PrimaryKey {
			flags |= 2
		}
		buf.WriteByte(flags)
	}
	return buf.Bytes()
}

// DecodeSchema is EncodeSchema's inverse.
func DecodeSchema(data []byte) (*types.Schema, error) {
	r := bytes.NewReader(data)
	name, err := readString(r)
	if err != nil {
		return nil, err
	}
	var ncols uint16
	if err := binary.Read(r, binary.LittleEndian, &ncols); err != nil {
		return nil, dberr.Wrap(dberr.KindIOCorruption, err, "truncated snapshot schema column count")
	}
	cols := make([]types.ColumnDef, ncols)
	for i := range cols {
		cname, err := readString(r)
		if err != nil {
			return nil, err
		}
		typByte, err := r.ReadByte()
		if err != nil {
			return nil, dberr.Wrap(dberr.KindIOCorruption, err, "truncated snapshot column type")
		}
		flags, err := r.ReadByte()
		if err != nil {
			return nil, dberr.Wrap(dberr.KindIOCorruption, err, "truncated snapshot column flags")
		}
		cols[i] = types.ColumnDef{
			Name:       cname,
			Type:       types.DataType(typByte),
			Nullable:   flags&1 != 0,
			PrimaryKey: flags&2 != 0,
		}
	}
	return types.NewSchema(name, cols), nil
}

func writeString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.LittleEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return "", dberr.Wrap(dberr.KindIOCorruption, err, "truncated snapshot string length")
	}
	b := make([]byte, n)
	if n > 0 {
		if _, err := r.Read(b); err != nil {
			return "", dberr.Wrap(dberr.KindIOCorruption, err, "truncated snapshot string payload")
		}
	}
	return string(b), nil
}
