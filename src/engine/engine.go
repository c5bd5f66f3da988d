package engine

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/afero"

	"github.com/siltdb/siltdb/src"
	"github.com/siltdb/siltdb/src/bufferpool"
	"github.com/siltdb/siltdb/src/storage/file"
	"github.com/siltdb/siltdb/src/wal"
)

// Engine is the storage core assembled: block file manager, buffer pool,
// and log manager, built once at startup and handed to every layer that
// needs them. Nothing here is reachable through globals.
type Engine struct {
	ID    string
	Files *file.Manager
	Pool  *bufferpool.Manager
	Log   *wal.Manager

	log src.Logger
}

func New(cfg Config, fs afero.Fs, logger src.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	files, err := file.NewManager(fs, cfg.DataDir, cfg.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open data dir: %w", err)
	}

	pool := bufferpool.New(cfg.PoolSize, bufferpool.NewLRU2(), files)
	pool.SetLogger(logger)

	log, err := wal.New(files, pool, cfg.LogFile)
	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to open log: %w", err), files.Close())
	}

	e := &Engine{
		ID:    uuid.NewString(),
		Files: files,
		Pool:  pool,
		Log:   log,
		log:   logger,
	}

	e.log.Infof(
		"storage engine %s ready: dir=%s block=%d pool=%d new=%t",
		e.ID, cfg.DataDir, cfg.BlockSize, cfg.PoolSize, files.IsNew(),
	)
	return e, nil
}

// Close flushes the log and releases file handles. Dirty data pages stay
// the responsibility of whoever tagged them.
func (e *Engine) Close() error {
	err := e.Pool.FlushLog()
	err = errors.Join(err, e.Files.Close())

	if err != nil {
		e.log.Errorf("engine %s shutdown: %v", e.ID, err)
	} else {
		e.log.Infof("engine %s shut down", e.ID)
	}
	return errors.Join(err, e.log.Sync())
}
