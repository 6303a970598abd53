package cmd

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/vibast-solutions/lib-go-lock/config"
	"github.com/vibast-solutions/lib-go-lock/lock"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// exitNotAcquired is the exit code for "the lock is held elsewhere", kept
// distinct from 1 so scripts can tell contention from real failures.
const exitNotAcquired = 3

var (
	backend       string
	verbose       bool
	retries       int
	retryInterval time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "lockctl",
	Short: "Named advisory lock utility",
	Long:  "Take, hold and guard commands with named advisory locks on Postgres, MySQL or Redis.",
	PersistentPreRun: func(_ *cobra.Command, _ []string) {
		if verbose {
			logrus.SetLevel(logrus.DebugLevel)
		}
	},
}

// Execute runs the root Cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// init registers the persistent flags.
func init() {
	rootCmd.PersistentFlags().StringVar(&backend, "backend", "postgres", "lock backend: postgres, mysql or redis")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().IntVar(&retries, "retries", 1, "acquire attempts before giving up")
	rootCmd.PersistentFlags().DurationVar(&retryInterval, "retry-interval", time.Second, "pause between acquire attempts")
}

// newLocker builds the configured backend along with a cleanup for its
// client connections.
func newLocker(cfg *config.Config) (lock.Locker, func(), error) {
	switch backend {
	case "postgres":
		db, err := sql.Open("postgres", cfg.PostgresDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("connect to postgres: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping postgres: %w", err)
		}
		return lock.NewPostgresLocker(db), func() { _ = db.Close() }, nil

	case "mysql":
		db, err := sql.Open("mysql", cfg.MySQLDSN())
		if err != nil {
			return nil, nil, fmt.Errorf("connect to mysql: %w", err)
		}
		if err := db.Ping(); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("ping mysql: %w", err)
		}
		return lock.NewMySQLLocker(db), func() { _ = db.Close() }, nil

	case "redis":
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(context.Background()).Err(); err != nil {
			_ = rdb.Close()
			return nil, nil, fmt.Errorf("ping redis: %w", err)
		}
		return lock.NewRedisLocker(rdb, cfg.RedisLockTTL), func() { _ = rdb.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// acquireOrExit takes the named lock under the configured retry policy. A
// lock held elsewhere terminates the process with exitNotAcquired.
func acquireOrExit(ctx context.Context, locker lock.Locker, name string, cleanup func()) lock.Lock {
	lk, err := lock.AcquireWithRetry(ctx, locker, name, retries, retryInterval)
	if err == nil {
		return lk
	}
	if errors.Is(err, lock.ErrNotAcquired) {
		fmt.Fprintf(os.Stderr, "lock %q is held elsewhere\n", name)
		cleanup()
		os.Exit(exitNotAcquired)
	}
	log.Fatalf("Failed to acquire lock %q: %v", name, err)
	return nil
}
