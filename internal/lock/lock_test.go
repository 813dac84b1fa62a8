package lock

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestAcquireRecordsOwner(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "front")

	l, err := Acquire(dir, "front")
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	defer func() { _ = l.Release() }()

	owner, ok := ReadOwner(dir)
	if !ok {
		t.Fatal("ReadOwner() found no owner while the lock is held")
	}
	if owner.PID != os.Getpid() || owner.Terminal != "front" {
		t.Errorf("owner = %+v", owner)
	}
	if time.Since(owner.Started) > time.Minute {
		t.Errorf("started = %v", owner.Started)
	}
}

func TestSecondAcquireNamesOwner(t *testing.T) {
	dir := t.TempDir()

	l1, err := Acquire(dir, "main")
	if err != nil {
		t.Fatalf("first Acquire() error = %v", err)
	}
	defer func() { _ = l1.Release() }()

	_, err = Acquire(dir, "main")
	var held *LockHeldError
	if !errors.As(err, &held) {
		t.Fatalf("second Acquire() error = %v, want LockHeldError", err)
	}
	if held.Owner.PID != os.Getpid() || held.Owner.Terminal != "main" {
		t.Errorf("held by %+v", held.Owner)
	}
	if !strings.Contains(err.Error(), "terminal main") {
		t.Errorf("error = %q, want the terminal name", err)
	}
}

func TestReleaseRemovesOwner(t *testing.T) {
	dir := t.TempDir()

	l, err := Acquire(dir, "main")
	if err != nil {
		t.Fatal(err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("Release() error = %v", err)
	}
	if err := l.Release(); err != nil {
		t.Errorf("second Release() error = %v", err)
	}
	if _, ok := ReadOwner(dir); ok {
		t.Error("owner still recorded after Release")
	}

	var nilLock *Lock
	if err := nilLock.Release(); err != nil {
		t.Errorf("nil Release() error = %v", err)
	}
}

func TestParseOwner(t *testing.T) {
	o := parseOwner("pid=4242\nterminal=bar\nstarted=2024-01-01T09:00:00Z\n")
	want := Owner{PID: 4242, Terminal: "bar", Started: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	if o.PID != want.PID || o.Terminal != want.Terminal || !o.Started.Equal(want.Started) {
		t.Errorf("parseOwner = %+v, want %+v", o, want)
	}
	if o := parseOwner("garbage"); o.PID != 0 {
		t.Errorf("parseOwner(garbage) = %+v", o)
	}
	if got := (Owner{PID: 7}).String(); got != "PID 7" {
		t.Errorf("String() = %q", got)
	}
}
