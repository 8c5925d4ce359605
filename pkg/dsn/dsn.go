// Package dsn parses the connection strings of §6.3: memory:// for a
// non-durable in-memory database, and file:///path[?k=v&...] for a
// durable on-disk one with tunable WAL/snapshot behavior.
package dsn

import (
	"net/url"
	"strconv"

	"github.com/nexusdb/nexusdb/pkg/dberr"
	"github.com/nexusdb/nexusdb/pkg/wal"
)

// Config is a fully-resolved DSN: every option defaulted per §6.3.
type Config struct {
	InMemory bool
	Path     string

	Durability           wal.Durability
	SnapshotIntervalSec  int
	KeepSnapshots        int
	WALFlushTrigger      int
	WALBufferSize        int
	WALMaxSize           int
	CommitBatchSize      int
	SyncIntervalMS       int
	WALCompression       bool
	SnapshotCompression  bool
	CompressionThreshold int
}

func defaults() Config {
	return Config{
		Durability:           wal.DurabilityNormal,
		SnapshotIntervalSec:  300,
		KeepSnapshots:        5,
		WALFlushTrigger:      32768,
		WALBufferSize:        65536,
		WALMaxSize:           67108864,
		CommitBatchSize:      100,
		SyncIntervalMS:       10,
		CompressionThreshold: 64,
	}
}

// Parse resolves a DSN string into a Config. An unrecognized scheme or
// option value is a Parse-kind error (§7): these are caller mistakes,
// not runtime conditions.
func Parse(raw string) (Config, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Config{}, dberr.Wrap(dberr.KindParse, err, "invalid DSN %q", raw)
	}

	cfg := defaults()
	switch u.Scheme {
	case "memory":
		cfg.InMemory = true
		return cfg, nil
	case "file":
		cfg.Path = u.Path
		if cfg.Path == "" {
			return Config{}, dberr.New(dberr.KindParse, "file:// DSN %q is missing a path", raw)
		}
	default:
		return Config{}, dberr.New(dberr.KindParse, "unrecognized DSN scheme %q", u.Scheme)
	}

	q := u.Query()
	for key := range q {
		val := q.Get(key)
		switch key {
		case "sync", "sync_mode":
			d, ok := wal.ParseDurability(val)
			if !ok {
				return Config{}, dberr.New(dberr.KindParse, "invalid %s value %q", key, val)
			}
			cfg.Durability = d
		case "snapshot_interval":
			n, err := parseIntOption(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.SnapshotIntervalSec = n
		case "keep_snapshots":
			n, err := parseIntOption(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.KeepSnapshots = n
		case "wal_flush_trigger":
			n, err := parseIntOption(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.WALFlushTrigger = n
		case "wal_buffer_size":
			n, err := parseIntOption(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.WALBufferSize = n
		case "wal_max_size":
			n, err := parseIntOption(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.WALMaxSize = n
		case "commit_batch_size":
			n, err := parseIntOption(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.CommitBatchSize = n
		case "sync_interval_ms":
			n, err := parseIntOption(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.SyncIntervalMS = n
		case "wal_compression":
			b, err := parseBoolOption(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.WALCompression = b
		case "snapshot_compression":
			b, err := parseBoolOption(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.SnapshotCompression = b
		case "compression":
			b, err := parseBoolOption(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.WALCompression, cfg.SnapshotCompression = b, b
		case "compression_threshold":
			n, err := parseIntOption(key, val)
			if err != nil {
				return Config{}, err
			}
			cfg.CompressionThreshold = n
		default:
			return Config{}, dberr.New(dberr.KindParse, "unrecognized DSN option %q", key)
		}
	}
	return cfg, nil
}

func parseIntOption(key, val string) (int, error) {
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, dberr.Wrap(dberr.KindParse, err, "invalid %s value %q", key, val)
	}
	return n, nil
}

func parseBoolOption(key, val string) (bool, error) {
	switch val {
	case "on":
		return true, nil
	case "off":
		return false, nil
	default:
		return false, dberr.New(dberr.KindParse, "invalid %s value %q, expected on/off", key, val)
	}
}
