package auth

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/wtfpos/posd/internal/bus"
	"github.com/wtfpos/posd/internal/store"
)

func testDB(t *testing.T) *store.DB {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := db.Migrate(); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func TestLoadFallsBackToConfiguredToken(t *testing.T) {
	s := NewSession(testDB(t), nil, nil)
	if err := s.Load("from-config"); err != nil {
		t.Fatal(err)
	}
	if s.Token() != "from-config" || !s.IsAuthenticated() {
		t.Errorf("token = %q", s.Token())
	}
}

func TestLoginPersistsAndPublishes(t *testing.T) {
	db := testDB(t)
	b := bus.New()
	ch, unsub := b.Subscribe("auth.", 4)
	defer unsub()

	s := NewSession(db, b, nil)
	if err := s.Load(""); err != nil {
		t.Fatal(err)
	}
	if s.IsAuthenticated() {
		t.Fatal("should start unauthenticated")
	}
	if err := s.Login("  tok  "); err != nil {
		t.Fatal(err)
	}

	select {
	case evt := <-ch:
		if evt.Payload != true {
			t.Errorf("payload = %v, want true", evt.Payload)
		}
	case <-time.After(time.Second):
		t.Fatal("no auth.changed event")
	}

	// A fresh session sees the persisted token, which wins over config.
	s2 := NewSession(db, nil, nil)
	if err := s2.Load("from-config"); err != nil {
		t.Fatal(err)
	}
	if s2.Token() != "tok" {
		t.Errorf("token = %q, want tok", s2.Token())
	}

	if err := s.Logout(); err != nil {
		t.Fatal(err)
	}
	if s.IsAuthenticated() {
		t.Error("still authenticated after logout")
	}
	evt := <-ch
	if evt.Payload != false {
		t.Errorf("payload = %v, want false", evt.Payload)
	}
}

func TestLoginRejectsEmpty(t *testing.T) {
	s := NewSession(testDB(t), nil, nil)
	if err := s.Login("   "); err == nil {
		t.Error("expected error for empty token")
	}
}
