package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/vibast-solutions/lib-go-lock/config"

	"github.com/spf13/cobra"
)

var holdFor time.Duration

var holdCmd = &cobra.Command{
	Use:   "hold [name]",
	Short: "Take a lock and hold it",
	Long:  "Take the named lock and hold it for --for, or until SIGINT/SIGTERM. Exits with code 3 when the lock is held elsewhere.",
	Args:  cobra.ExactArgs(1),
	Run:   runHold,
}

// init registers the hold command.
func init() {
	holdCmd.Flags().DurationVar(&holdFor, "for", 0, "hold duration; 0 holds until interrupted")
	rootCmd.AddCommand(holdCmd)
}

// runHold acquires the named lock and keeps its session pinned until the
// hold window ends.
func runHold(_ *cobra.Command, args []string) {
	name := args[0]

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	locker, cleanup, err := newLocker(cfg)
	if err != nil {
		log.Fatalf("Failed to build %s locker: %v", backend, err)
	}
	defer cleanup()

	lk := acquireOrExit(context.Background(), locker, name, cleanup)
	fmt.Printf("holding %q\n", name)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	if holdFor > 0 {
		select {
		case <-time.After(holdFor):
		case <-quit:
		}
	} else {
		<-quit
	}

	if err := lk.Release(context.Background()); err != nil {
		log.Fatalf("Failed to release lock %q: %v", name, err)
	}
	fmt.Printf("released %q\n", name)
}
