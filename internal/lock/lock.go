// Package lock keeps a single posd per terminal directory.
package lock

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

const fileName = "LOCK"

// Owner is what a daemon records in the lock file it holds.
type Owner struct {
	PID      int
	Terminal string
	Started  time.Time
}

func (o Owner) String() string {
	s := "PID " + strconv.Itoa(o.PID)
	if o.Terminal != "" {
		s += " (terminal " + o.Terminal + ")"
	}
	if !o.Started.IsZero() {
		s += " since " + o.Started.Local().Format("2006-01-02 15:04")
	}
	return s
}

// LockHeldError is returned when another posd owns the terminal.
type LockHeldError struct {
	Owner Owner
	Path  string
}

func (e *LockHeldError) Error() string {
	return fmt.Sprintf("terminal already served by %s (%s)", e.Owner, e.Path)
}

// Lock is an acquired terminal lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the terminal directory's lock for the named terminal,
// creating the directory if needed. It fails with LockHeldError when
// another process holds it.
func Acquire(dir, terminalName string) (*Lock, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create terminal dir: %w", err)
	}
	path := filepath.Join(dir, fileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		owner, _ := ReadOwner(dir)
		_ = f.Close()
		return nil, &LockHeldError{Owner: owner, Path: path}
	}

	owner := Owner{PID: os.Getpid(), Terminal: terminalName, Started: time.Now().UTC()}
	if err := rewrite(f, owner); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("record lock owner: %w", err)
	}
	return &Lock{file: f, path: path}, nil
}

func rewrite(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nterminal=%s\nstarted=%s\n", o.PID, o.Terminal, o.Started.Format(time.RFC3339))
	return err
}

// Release removes the lock file and drops the lock. Safe on a nil or
// already released Lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadOwner returns the owner recorded in dir's lock file, and false when
// there is no lock file or it names no PID. A recorded owner may have died
// without releasing the lock.
func ReadOwner(dir string) (Owner, bool) {
	data, err := os.ReadFile(filepath.Join(dir, fileName))
	if err != nil {
		return Owner{}, false
	}
	o := parseOwner(string(data))
	return o, o.PID != 0
}

func parseOwner(content string) Owner {
	var o Owner
	for _, line := range strings.Split(content, "\n") {
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(value)
		case "terminal":
			o.Terminal = value
		case "started":
			o.Started, _ = time.Parse(time.RFC3339, value)
		}
	}
	return o
}
