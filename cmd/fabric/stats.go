package fabric

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	store "github.com/neuroerp/fabric"
	"github.com/neuroerp/fabric/pkg/bus"
	"github.com/neuroerp/fabric/pkg/config"
)

var statsCmd = &cobra.Command{
	Use:   "stats <snapshot>",
	Short: "Print aggregate statistics for a snapshot file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, eventBus, err := loadSnapshot(args[0])
		if err != nil {
			return err
		}
		defer eventBus.Stop(false, time.Second)

		out, err := json.MarshalIndent(f.GetStats(), "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
}

// loadSnapshot builds a throwaway fabric (no embedder, no external index)
// and imports the snapshot into it.
func loadSnapshot(path string) (*store.Fabric, *bus.Bus, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Log)
	if err != nil {
		return nil, nil, err
	}

	eventBus := bus.New(bus.Config{
		QueueSize:     cfg.EventBus.MaxQueueSize,
		Workers:       cfg.EventBus.WorkerThreads,
		RetryAttempts: cfg.EventBus.RetryAttempts,
	}, logger)
	eventBus.Start()

	f, err := store.New(eventBus, nil, nil, nil, logger)
	if err != nil {
		eventBus.Stop(false, time.Second)
		return nil, nil, err
	}

	if _, err := f.ImportFromFile(path); err != nil {
		eventBus.Stop(false, time.Second)
		return nil, nil, fmt.Errorf("failed to import %s: %w", path, err)
	}
	return f, eventBus, nil
}
