package engine

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/nexusdb/nexusdb/pkg/dsn"
)

// scheduler drives §6.3's snapshot_interval option: a background cron
// job that periodically calls Database.CreateSnapshot. Each run
// overwrites the previous snapshot.meta/*.snap files in place (§4.14
// keeps only the latest generation on disk), so there is nothing for
// keep_snapshots to prune against; it is parsed and validated by
// pkg/dsn but otherwise unused until a multi-generation snapshot
// layout exists.
type scheduler struct {
	cron *cron.Cron
	db   *Database
}

func newScheduler(db *Database, cfg dsn.Config) *scheduler {
	c := cron.New(cron.WithSeconds())
	s := &scheduler{cron: c, db: db}
	spec := fmt.Sprintf("@every %ds", cfg.SnapshotIntervalSec)
	if cfg.SnapshotIntervalSec <= 0 {
		spec = "@every 300s"
	}
	c.AddFunc(spec, func() {
		if err := db.CreateSnapshot(); err != nil {
			db.logger.Warn("scheduled snapshot failed", zap.Error(err))
		}
	})
	return s
}

func (s *scheduler) Start() { s.cron.Start() }

// Stop blocks until any in-flight snapshot job finishes, so Close never
// races a scheduled CreateSnapshot against the WAL file being closed.
func (s *scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}
