package cmd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"

	"github.com/vibast-solutions/lib-go-lock/config"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [name] -- command [args...]",
	Short: "Run a command while holding a lock",
	Long:  "Take the named lock, run the command and release once it finishes. The command's exit code is propagated; exits with code 3 when the lock is held elsewhere.",
	Args:  cobra.MinimumNArgs(2),
	Run:   runRun,
}

// init registers the run command.
func init() {
	rootCmd.AddCommand(runCmd)
}

// runRun executes a child command under the named lock.
func runRun(cmd *cobra.Command, args []string) {
	if cmd.ArgsLenAtDash() != 1 {
		log.Fatalf("Usage: lockctl run [name] -- command [args...]")
	}
	name, argv := args[0], args[1:]

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
	fmt.Fprintf(os.Stderr, "acquired %q\n", name)

	child := exec.Command(argv[0], argv[1:]...)
	child.Stdin = os.Stdin
	child.Stdout = os.Stdout
	child.Stderr = os.Stderr
	runErr := child.Run()

	if err := lk.Release(context.Background()); err != nil {
		log.Printf("Failed to release lock %q: %v", name, err)
		if runErr == nil {
			cleanup()
			os.Exit(1)
		}
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		cleanup()
		os.Exit(exitErr.ExitCode())
	}
	if runErr != nil {
		log.Fatalf("Failed to run command: %v", runErr)
	}
}
