package main

import (
	"fmt"
	"os"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/siltdb/siltdb/src/engine"
	"github.com/siltdb/siltdb/src/pkg/utils"
)

func openEngine() (*engine.Engine, error) {
	cfg, err := engine.LoadConfig()
	if err != nil {
		return nil, err
	}

	logger := utils.Must(zap.NewProduction()).Sugar()
	return engine.New(cfg, afero.NewOsFs(), logger)
}

func main() {
	root := &cobra.Command{
		Use:   "siltdb",
		Short: "Inspect a siltdb storage directory",
	}

	root.AddCommand(&cobra.Command{
		Use:   "logdump",
		Short: "Print every log record, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			it, err := e.Log.Iterator()
			if err != nil {
				return err
			}
			defer it.Close()

			n := 0
			for it.HasNext() {
				rec, err := it.Next()
				if err != nil {
					return err
				}
				fmt.Printf("#%d (%d bytes): % x\n", n, len(rec.Bytes()), rec.Bytes())
				n++
			}
			fmt.Printf("%d records\n", n)
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show pool and log file statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := engine.LoadConfig()
			if err != nil {
				return err
			}

			e, err := openEngine()
			if err != nil {
				return err
			}
			defer e.Close()

			blocks, err := e.Files.Size(cfg.LogFile)
			if err != nil {
				return err
			}

			fmt.Printf("buffers available: %d / %d\n", e.Pool.Available(), cfg.PoolSize)
			fmt.Printf("log blocks:        %d (block size %d)\n", blocks, cfg.BlockSize)
			fmt.Printf("current log lsn:   %d\n", e.Log.CurrentLSN())
			return nil
		},
	})

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
