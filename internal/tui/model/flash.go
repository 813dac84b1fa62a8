package model

import (
	"sync"
	"time"
)

// Level is the severity of a flash message.
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
)

// Flash holds the transient notification shown in the status bar.
type Flash struct {
	mu      sync.RWMutex
	message string
	level   Level
	expires time.Time
	now     func() time.Time
}

func (f *Flash) clock() time.Time {
	if f.now != nil {
		return f.now()
	}
	return time.Now()
}

// Set stores a flash message that expires after d.
func (f *Flash) Set(level Level, msg string, d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.message = msg
	f.level = level
	f.expires = f.clock().Add(d)
}

// Get returns the current message and its level, or "" once expired.
func (f *Flash) Get() (string, Level) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.clock().After(f.expires) {
		return "", LevelInfo
	}
	return f.message, f.level
}
