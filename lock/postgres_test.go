package lock

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPostgresLockKey(t *testing.T) {
	t.Parallel()

	// Values match ('x'||substr(md5(name),1,16))::bit(64)::bigint on the
	// server, so Go and SQL clients contend on the same key.
	cases := []struct {
		name string
		key  int64
	}{
		{"gold_leader", 5723539392539660479},
		{"billing", -8143122721772314982},
		{"red_five", 2714587859905933688},
		{"migrations", 3248834791982560860},
	}
	for _, c := range cases {
		if got := PostgresLockKey(c.name); got != c.key {
			t.Fatalf("PostgresLockKey(%q) = %d, want %d", c.name, got, c.key)
		}
	}
}

func TestPostgresLockerAcquireRelease(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	locker := NewPostgresLocker(db)
	mock.ExpectExec("SELECT set_config").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(PostgresLockKey("gold_leader")).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))

	lk, err := locker.Acquire(context.Background(), "gold_leader")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if lk.Name() != "gold_leader" {
		t.Fatalf("Name = %q, want gold_leader", lk.Name())
	}

	mock.ExpectExec("SELECT pg_advisory_unlock_all").
		WillReturnResult(sqlmock.NewResult(0, 0))

	if err := lk.Release(context.Background()); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := lk.Release(context.Background()); err != nil {
		t.Fatalf("second Release: %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresLockerNotAcquired(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	locker := NewPostgresLocker(db)
	mock.ExpectExec("SELECT set_config").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(PostgresLockKey("gold_leader")).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(false))

	if _, err := locker.Acquire(context.Background(), "gold_leader"); err != ErrNotAcquired {
		t.Fatalf("expected ErrNotAcquired, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresLockerQueryError(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	locker := NewPostgresLocker(db)
	mock.ExpectExec("SELECT set_config").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(PostgresLockKey("gold_leader")).
		WillReturnError(errors.New("server exploded"))

	_, err = locker.Acquire(context.Background(), "gold_leader")
	if !errors.Is(err, ErrNotAcquired) {
		t.Fatalf("expected error wrapping ErrNotAcquired, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresLockerLabelError(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	locker := NewPostgresLocker(db)
	mock.ExpectExec("SELECT set_config").
		WithArgs(sqlmock.AnyArg()).
		WillReturnError(errors.New("no superuser for you"))

	_, err = locker.Acquire(context.Background(), "gold_leader")
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, ErrNotAcquired) {
		t.Fatalf("label failure must not report ErrNotAcquired, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresLockerEmptyName(t *testing.T) {
	t.Parallel()

	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	locker := NewPostgresLocker(db)
	if _, err := locker.Acquire(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestPostgresLockerClosedDB(t *testing.T) {
	t.Parallel()

	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	_ = db.Close()

	locker := NewPostgresLocker(db)
	_, err = locker.Acquire(context.Background(), "gold_leader")
	if err == nil {
		t.Fatal("expected error on closed db")
	}
	if errors.Is(err, ErrNotAcquired) {
		t.Fatalf("connection failure must not report ErrNotAcquired, got %v", err)
	}
}

func TestPostgresLockerReleaseError(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	locker := NewPostgresLocker(db)
	mock.ExpectExec("SELECT set_config").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(PostgresLockKey("gold_leader")).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))

	lk, err := locker.Acquire(context.Background(), "gold_leader")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	mock.ExpectExec("SELECT pg_advisory_unlock_all").
		WillReturnError(errors.New("connection reset"))

	if err := lk.Release(context.Background()); err == nil {
		t.Fatal("expected release error")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresLockerWithConn(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	locker := NewPostgresLocker(db)
	mock.ExpectExec("SELECT set_config").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(PostgresLockKey("gold_leader")).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectQuery("SELECT 1").
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	mock.ExpectExec("SELECT pg_advisory_unlock_all").
		WillReturnResult(sqlmock.NewResult(0, 0))

	var got int
	err = locker.WithConn(context.Background(), "gold_leader", func(ctx context.Context, conn *sql.Conn) error {
		return conn.QueryRowContext(ctx, "SELECT 1").Scan(&got)
	})
	if err != nil {
		t.Fatalf("WithConn: %v", err)
	}
	if got != 1 {
		t.Fatalf("probe query = %d, want 1", got)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPostgresLockerWithConnError(t *testing.T) {
	t.Parallel()

	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	locker := NewPostgresLocker(db)
	mock.ExpectExec("SELECT set_config").
		WithArgs(sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery("SELECT pg_try_advisory_lock").
		WithArgs(PostgresLockKey("gold_leader")).
		WillReturnRows(sqlmock.NewRows([]string{"pg_try_advisory_lock"}).AddRow(true))
	mock.ExpectExec("SELECT pg_advisory_unlock_all").
		WillReturnResult(sqlmock.NewResult(0, 0))

	boom := errors.New("boom")
	err = locker.WithConn(context.Background(), "gold_leader", func(ctx context.Context, conn *sql.Conn) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected fn error, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
