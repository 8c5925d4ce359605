// Package snapshot implements §4.14's snapshot subsystem: the metadata
// file, the versioned per-table payload, and the two-phase crash
// recovery protocol that replays the WAL on top of the newest snapshot.
package snapshot

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"

	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/types"
	"github.com/nexusdb/nexusdb/pkg/wal"
)

// metadataMagic and tableMagic are §4.14's fixed format identifiers.
const (
	metadataMagic   uint32 = 0x50414E53 // "SNAP" little-endian-read back out
	metadataVersion uint32 = 1
	tableMagic      uint32 = 0x50414E53
	tableVersion    uint32 = 3
)

// Metadata is the top-level snapshot metadata file's content: which LSN
// the snapshot set is consistent as of, and when it was taken.
type Metadata struct {
	LSN         wal.LSN
	TimestampMS int64
}

// WriteMetadata persists the metadata file via write-temp -> fsync ->
// atomic-rename -> fsync-parent-directory (§4.14), so a crash mid-write
// never leaves a half-written metadata file visible at the final path.
func WriteMetadata(dir string, m Metadata) error {
	var buf bytes.Buffer
	binary.Write(&buf, binary.LittleEndian, metadataMagic)
	binary.Write(&buf, binary.LittleEndian, metadataVersion)
	binary.Write(&buf, binary.LittleEndian, uint64(m.LSN))
	binary.Write(&buf, binary.LittleEndian, uint64(m.TimestampMS))
	crc := crc32.ChecksumIEEE(buf.Bytes())
	binary.Write(&buf, binary.LittleEndian, crc)

	return writeAtomic(dir, "snapshot.meta", buf.Bytes())
}

// ReadMetadata loads the metadata file, or (false, nil) if none exists
// yet (a brand new on-disk database).
func ReadMetadata(dir string) (Metadata, bool, error) {
	path := filepath.Join(dir, "snapshot.meta")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, dberr.Wrap(dberr.KindResource, err, "reading snapshot metadata")
	}
	if len(data) < 24 {
		return Metadata{}, false, dberr.New(dberr.KindIOCorruption, "truncated snapshot metadata file")
	}
	body, crcBytes := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(crcBytes) {
		return Metadata{}, false, dberr.New(dberr.KindIOCorruption, "snapshot metadata checksum mismatch")
	}
	magic := binary.LittleEndian.Uint32(body[0:4])
	if magic != metadataMagic {
		return Metadata{}, false, dberr.New(dberr.KindIOCorruption, "unrecognized snapshot metadata magic")
	}
	lsn := binary.LittleEndian.Uint64(body[8:16])
	ts := binary.LittleEndian.Uint64(body[16:24])
	return Metadata{LSN: wal.LSN(lsn), TimestampMS: int64(ts)}, true, nil
}

// writeAtomic implements the write-temp/fsync/rename/fsync-parent
// sequence shared by metadata and per-table snapshot writes.
func writeAtomic(dir, finalName string, data []byte) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return dberr.Wrap(dberr.KindResource, err, "creating snapshot directory %q", dir)
	}
	tmpName := finalName + "." + uuid.NewString() + ".tmp"
	tmpPath := filepath.Join(dir, tmpName)
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return dberr.Wrap(dberr.KindResource, err, "creating temp snapshot file %q", tmpPath)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return dberr.Wrap(dberr.KindResource, err, "writing temp snapshot file %q", tmpPath)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return dberr.Wrap(dberr.KindResource, err, "fsyncing temp snapshot file %q", tmpPath)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return dberr.Wrap(dberr.KindResource, err, "closing temp snapshot file %q", tmpPath)
	}
	finalPath := filepath.Join(dir, finalName)
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return dberr.Wrap(dberr.KindResource, err, "renaming snapshot file into place")
	}
	dirHandle, err := os.Open(dir)
	if err != nil {
		return dberr.Wrap(dberr.KindResource, err, "opening snapshot directory for fsync")
	}
	defer dirHandle.Close()
	if err := dirHandle.Sync(); err != nil {
		return dberr.Wrap(dberr.KindResource, err, "fsyncing snapshot directory")
	}
	return nil
}

// TableRow is one row payload plus the row id it belongs to, the unit a
// per-table snapshot file stores and recovery re-applies.
type TableRow struct {
	RowID int64
	Row   types.Row
}

// WriteTableSnapshot writes one table's v3 snapshot file: magic,
// version, source LSN, the serialized schema, the row count, then each
// row's payload, optionally zstd-compressed as a whole above the
// compression_threshold DSN option (§6.3's snapshot_compression).
func WriteTableSnapshot(dir, tableName string, schema *types.Schema, rows []TableRow, sourceLSN wal.LSN, compress bool, threshold int) error {
	var body bytes.Buffer
	schemaBytes := EncodeSchema(schema)
	binary.Write(&body, binary.LittleEndian, uint32(len(schemaBytes)))
	body.Write(schemaBytes)
	binary.Write(&body, binary.LittleEndian, uint64(len(rows)))
	for _, r := range rows {
		binary.Write(&body, binary.LittleEndian, uint64(r.RowID))
		payload := wal.EncodeRow(r.Row)
		binary.Write(&body, binary.LittleEndian, uint32(len(payload)))
		body.Write(payload)
	}

	payload := body.Bytes()
	isCompressed := false
	if compress && len(payload) >= threshold && threshold > 0 {
		enc, err := zstd.NewWriter(nil)
		if err != nil {
			return dberr.Wrap(dberr.KindResource, err, "initializing snapshot compressor")
		}
		payload = enc.EncodeAll(payload, nil)
		enc.Close()
		isCompressed = true
	}

	var out bytes.Buffer
	binary.Write(&out, binary.LittleEndian, tableMagic)
	binary.Write(&out, binary.LittleEndian, tableVersion)
	binary.Write(&out, binary.LittleEndian, uint64(sourceLSN))
	flags := byte(0)
	if isCompressed {
		flags = 1
	}
	out.WriteByte(flags)
	out.Write(payload)
	crc := crc32.ChecksumIEEE(out.Bytes())
	binary.Write(&out, binary.LittleEndian, crc)

	return writeAtomic(dir, tableName+".snap", out.Bytes())
}

// LoadedTable is the result of loading one table's snapshot file.
type LoadedTable struct {
	Schema    *types.Schema
	Rows      []TableRow
	SourceLSN wal.LSN
}

// LoadTableSnapshot is WriteTableSnapshot's inverse. ok is false if no
// snapshot file exists yet for this table (a brand new table created
// entirely after the last snapshot — recovery relies on the WAL alone
// for it).
func LoadTableSnapshot(dir, tableName string) (LoadedTable, bool, error) {
	path := filepath.Join(dir, tableName+".snap")
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return LoadedTable{}, false, nil
	}
	if err != nil {
		return LoadedTable{}, false, dberr.Wrap(dberr.KindResource, err, "reading snapshot file %q", path)
	}
	if len(data) < 21 {
		return LoadedTable{}, false, dberr.New(dberr.KindIOCorruption, "truncated snapshot file %q", path)
	}
	body, crcBytes := data[:len(data)-4], data[len(data)-4:]
	if crc32.ChecksumIEEE(body) != binary.LittleEndian.Uint32(crcBytes) {
		return LoadedTable{}, false, dberr.New(dberr.KindIOCorruption, "snapshot file %q checksum mismatch", path)
	}
	magic := binary.LittleEndian.Uint32(body[0:4])
	version := binary.LittleEndian.Uint32(body[4:8])
	if magic != tableMagic || version != tableVersion {
		return LoadedTable{}, false, dberr.New(dberr.KindIOCorruption, "unrecognized snapshot format in %q", path)
	}
	sourceLSN := wal.LSN(binary.LittleEndian.Uint64(body[8:16]))
	flags := body[16]
	payload := body[17:]

	if flags&1 != 0 {
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return LoadedTable{}, false, dberr.Wrap(dberr.KindResource, err, "initializing snapshot decompressor")
		}
		defer dec.Close()
		decoded, err := dec.DecodeAll(payload, nil)
		if err != nil {
			return LoadedTable{}, false, dberr.Wrap(dberr.KindIOCorruption, err, "decompressing snapshot file %q", path)
		}
		payload = decoded
	}

	r := bytes.NewReader(payload)
	var schemaLen uint32
	if err := binary.Read(r, binary.LittleEndian, &schemaLen); err != nil {
		return LoadedTable{}, false, dberr.Wrap(dberr.KindIOCorruption, err, "truncated snapshot schema length")
	}
	schemaBytes := make([]byte, schemaLen)
	if _, err := r.Read(schemaBytes); err != nil {
		return LoadedTable{}, false, dberr.Wrap(dberr.KindIOCorruption, err, "truncated snapshot schema")
	}
	schema, err := DecodeSchema(schemaBytes)
	if err != nil {
		return LoadedTable{}, false, err
	}

	var rowCount uint64
	if err := binary.Read(r, binary.LittleEndian, &rowCount); err != nil {
		return LoadedTable{}, false, dberr.Wrap(dberr.KindIOCorruption, err, "truncated snapshot row count")
	}
	rows := make([]TableRow, rowCount)
	for i := range rows {
		var rowID uint64
		if err := binary.Read(r, binary.LittleEndian, &rowID); err != nil {
			return LoadedTable{}, false, dberr.Wrap(dberr.KindIOCorruption, err, "truncated snapshot row id")
		}
		var payloadLen uint32
		if err := binary.Read(r, binary.LittleEndian, &payloadLen); err != nil {
			return LoadedTable{}, false, dberr.Wrap(dberr.KindIOCorruption, err, "truncated snapshot row payload length")
		}
		rowPayload := make([]byte, payloadLen)
		if _, err := r.Read(rowPayload); err != nil {
			return LoadedTable{}, false, dberr.Wrap(dberr.KindIOCorruption, err, "truncated snapshot row payload")
		}
		row, err := wal.DecodeRow(rowPayload)
		if err != nil {
			return LoadedTable{}, false, err
		}
		rows[i] = TableRow{RowID: int64(rowID), Row: row}
	}

	return LoadedTable{Schema: schema, Rows: rows, SourceLSN: sourceLSN}, true, nil
}
