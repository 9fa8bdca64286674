package scheduler

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/optifolio/internal/database"
)

// WalCheckpointJob truncates the WAL of every open database. Long-lived
// read connections otherwise keep the WAL files growing.
type WalCheckpointJob struct {
	dbs []*database.DB
	log zerolog.Logger
}

// NewWalCheckpointJob creates the WAL checkpoint job.
func NewWalCheckpointJob(log zerolog.Logger, dbs ...*database.DB) *WalCheckpointJob {
	return &WalCheckpointJob{
		dbs: dbs,
		log: log.With().Str("job", "wal_checkpoint").Logger(),
	}
}

// Name returns the job name
func (j *WalCheckpointJob) Name() string {
	return "wal_checkpoint"
}

// Run checkpoints every database, continuing past individual failures.
func (j *WalCheckpointJob) Run() error {
	var firstErr error
	for _, db := range j.dbs {
		if err := db.Checkpoint(); err != nil {
			j.log.Error().Err(err).Str("database", db.Name()).Msg("WAL checkpoint failed")
			if firstErr == nil {
				firstErr = fmt.Errorf("checkpoint %s: %w", db.Name(), err)
			}
			continue
		}
		j.log.Debug().Str("database", db.Name()).Msg("WAL checkpointed")
	}
	return firstErr
}
