package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/oplogtail/oplogtail"
	"github.com/oplogtail/oplogtail/internal/alert"
	"github.com/oplogtail/oplogtail/internal/archive"
	"github.com/oplogtail/oplogtail/internal/config"
	"github.com/oplogtail/oplogtail/internal/stream"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "oplogtail",
	Short: "Oplogtail - MongoDB oplog change capture",
	Long:  `Tails a MongoDB replica set oplog and streams it as typed operations`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "oplogtail.yaml", "config file path")
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(tailCmd)
	rootCmd.AddCommand(insertsCmd)
	rootCmd.AddCommand(captureCmd)
	rootCmd.AddCommand(statusCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("oplogtail v0.1.0")
		fmt.Println("MongoDB oplog change capture")
	},
}

type printHandler struct{}

func (printHandler) HandleOperation(op oplogtail.Operation) error {
	fmt.Println(op)
	return nil
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print every oplog operation as it occurs",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		filter, err := cfg.Tail.Filter()
		if err != nil {
			return err
		}

		return runStream(cfg, filter, printHandler{})
	},
}

var insertsCmd = &cobra.Command{
	Use:   "inserts",
	Short: "Print insert operations only",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		return runStream(cfg, oplogtail.FilterOps("i"), printHandler{})
	},
}

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Archive oplog operations to local storage",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cfg.Archive.Path == "" {
			return fmt.Errorf("archive.path is required for capture")
		}

		store, err := archive.New(cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer store.Close()

		filter, err := cfg.Tail.Filter()
		if err != nil {
			return err
		}

		fmt.Printf("Archiving operations to: %s\n", cfg.Archive.Path)
		return runStream(cfg, filter, store)
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display archive status",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if cfg.Archive.Path == "" {
			return fmt.Errorf("archive.path is required for status")
		}

		store, err := archive.New(cfg.Archive.Path)
		if err != nil {
			return fmt.Errorf("failed to open archive: %w", err)
		}
		defer store.Close()

		counts, err := store.Counts()
		if err != nil {
			return fmt.Errorf("failed to read archive stats: %w", err)
		}

		fmt.Printf("Archive: %s\n", cfg.Archive.Path)
		fmt.Printf("\nCaptured operations:\n")
		total := uint64(0)
		for _, kind := range []string{"noop", "insert", "update", "delete", "command"} {
			fmt.Printf("  %-8s %d\n", kind, counts[kind])
			total += counts[kind]
		}
		fmt.Printf("  %-8s %d\n", "total", total)

		last, err := store.LastEntry()
		if err == nil {
			fmt.Printf("\nLast captured: %s #%d at %s\n", last.Kind, last.ID, last.Timestamp)
		} else {
			fmt.Printf("\nNo operations captured yet\n")
		}

		return nil
	},
}

func runStream(cfg *config.Config, filter bson.D, handlers ...stream.Handler) error {
	clientOpts, err := cfg.Mongo.ClientOptions()
	if err != nil {
		return err
	}

	fmt.Printf("Connecting to MongoDB: %s\n", cfg.Mongo.URI)

	manager := stream.NewManager(clientOpts, filter)
	for _, h := range handlers {
		manager.AddHandler(h)
	}

	if cfg.Alerts.Enabled {
		manager.SetAlertManager(alert.NewManager(cfg.Alerts.Enabled, cfg.Alerts.SlackWebhook))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	fmt.Println("Opening oplog...")
	if err := manager.Initialize(ctx); err != nil {
		return fmt.Errorf("failed to initialize stream: %w", err)
	}

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start stream: %w", err)
	}

	fmt.Println("Tailing oplog. Press Ctrl+C to stop.")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nShutting down...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := manager.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop stream: %w", err)
	}

	id, at := manager.Progress()
	if id != 0 {
		fmt.Printf("Last operation: #%d at %s\n", id, at)
	}

	fmt.Println("Stopped")
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
