package cmd

import (
	"context"
	"testing"
	"time"

	"github.com/vibast-solutions/lib-go-lock/config"

	"github.com/alicebob/miniredis/v2"
)

func TestNewLockerUnsupportedBackend(t *testing.T) {
	old := backend
	backend = "sqlite"
	defer func() { backend = old }()

	if _, _, err := newLocker(&config.Config{}); err == nil {
		t.Fatal("expected error for unsupported backend")
	}
}

func TestNewLockerRedis(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis.Run: %v", err)
	}
	defer mr.Close()

	old := backend
	backend = "redis"
	defer func() { backend = old }()

	locker, cleanup, err := newLocker(&config.Config{RedisAddr: mr.Addr(), RedisLockTTL: time.Minute})
	if err != nil {
		t.Fatalf("newLocker: %v", err)
	}
	defer cleanup()

	lk, err := locker.Acquire(context.Background(), "lock-key")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if err := lk.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestRootRegistersSubcommands(t *testing.T) {
	want := map[string]bool{"try": false, "hold": false, "run": false}
	for _, c := range rootCmd.Commands() {
		if _, ok := want[c.Name()]; ok {
			want[c.Name()] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("command %q not registered", name)
		}
	}
}
