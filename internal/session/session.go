// Package session manages unlocked vault sessions: their state machine,
// profile-keyed time-to-live, and secure deletion of decrypted material
// once a session expires or is explicitly locked.
package session

import (
	"crypto/rand"
	"os"
	"path/filepath"
	"sync"
	"time"

	"echotome/internal/afkdf"
	echoerr "echotome/internal/errors"
	"echotome/internal/log"
)

// State is a session's position in its lifecycle.
type State int

const (
	Locked State = iota
	Unlocking
	Active
	Expiring
	Wiped
)

func (s State) String() string {
	switch s {
	case Locked:
		return "Locked"
	case Unlocking:
		return "Unlocking"
	case Active:
		return "Active"
	case Expiring:
		return "Expiring"
	case Wiped:
		return "Wiped"
	default:
		return "unknown"
	}
}

// Session tracks one unlocked vault's decrypted working directory and
// its expiry deadline.
type Session struct {
	mu          sync.Mutex
	ID          string
	Profile     afkdf.Profile
	Dir         string // decrypted working directory, wiped on expiry
	State       State
	expiresAt   time.Time
	defaultTTL  time.Duration
	maxTTL      time.Duration
}

// Manager owns the process-wide table of active sessions and a
// background goroutine that sweeps expired ones.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	stop     chan struct{}
	stopOnce sync.Once
}

// NewManager starts a Manager with a background cleanup loop polling at
// the given interval.
func NewManager(sweepInterval time.Duration) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		stop:     make(chan struct{}),
	}
	go m.sweepLoop(sweepInterval)
	return m
}

// Open registers a new Active session for id, rooted at dir, using the
// profile's default TTL.
func (m *Manager) Open(id string, profile afkdf.Profile, dir string) (*Session, error) {
	params := afkdf.ParamsFor(profile)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.sessions[id]; exists {
		return nil, echoerr.NewSessionError(id, echoerr.ErrInvalidInput)
	}

	s := &Session{
		ID:         id,
		Profile:    profile,
		Dir:        dir,
		State:      Active,
		expiresAt:  time.Now().Add(params.DefaultTTL),
		defaultTTL: params.DefaultTTL,
		maxTTL:     params.MaxTTL,
	}
	m.sessions[id] = s
	log.Info("session opened", log.String("id", id), log.String("profile", profile.String()))
	return s, nil
}

// Get returns the session for id, or ErrSessionNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, echoerr.NewSessionError(id, echoerr.ErrSessionNotFound)
	}
	return s, nil
}

// Touch resets a session's expiry to now+defaultTTL. The new expiry is
// not checked against maxTTL or the session's open time, so each call
// extends an active session again.
func (s *Session) Touch() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State != Active {
		return echoerr.NewSessionError(s.ID, echoerr.ErrSessionExpired)
	}
	s.expiresAt = time.Now().Add(s.defaultTTL)
	return nil
}

// Extend sets the session's expiry to now+requested, rejecting any
// request longer than the profile's max TTL. The cap is measured from
// now, not from the session's open time, so successive calls can keep a
// session active for longer than maxTTL in total.
func (s *Session) Extend(requested time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.State != Active {
		return echoerr.NewSessionError(s.ID, echoerr.ErrSessionExpired)
	}
	if requested > s.maxTTL {
		return echoerr.NewSessionError(s.ID, echoerr.ErrSessionCapExceeded)
	}
	s.expiresAt = time.Now().Add(requested)
	return nil
}

func (s *Session) isExpired(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.State == Active && now.After(s.expiresAt)
}

// Lock explicitly ends a session: it transitions Active -> Expiring,
// releases the manager lock before running the (potentially slow)
// secure-delete pass, then reacquires it to record the final Wiped
// state and remove the session from the table. This ordering keeps a
// multi-second secure-delete pass on one session from blocking lookups
// of every other session.
func (m *Manager) Lock(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return echoerr.NewSessionError(id, echoerr.ErrSessionNotFound)
	}
	m.mu.Unlock()

	s.mu.Lock()
	if s.State == Wiped {
		s.mu.Unlock()
		return nil
	}
	s.State = Expiring
	dir := s.Dir
	s.mu.Unlock()

	if err := SecureDelete(dir); err != nil {
		log.Warn("secure delete failed", log.String("id", id), log.Err(err))
	}

	s.mu.Lock()
	s.State = Wiped
	s.mu.Unlock()

	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	log.Info("session locked", log.String("id", id))
	return nil
}

// sweepLoop periodically locks every expired Active session.
func (m *Manager) sweepLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.sweepOnce(now)
		}
	}
}

func (m *Manager) sweepOnce(now time.Time) {
	m.mu.Lock()
	var expired []string
	for id, s := range m.sessions {
		if s.isExpired(now) {
			expired = append(expired, id)
		}
	}
	m.mu.Unlock()

	for _, id := range expired {
		if err := m.Lock(id); err != nil {
			log.Warn("sweep lock failed", log.String("id", id), log.Err(err))
		}
	}
}

// Stop halts the background sweep loop. It does not lock any sessions.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() { close(m.stop) })
}

// wipePasses defines the multi-pass overwrite SecureDelete performs on
// every file before unlinking it: all-zero, all-ones, then random.
var wipePasses = []func([]byte) error{
	func(b []byte) error { fillConst(b, 0x00); return nil },
	func(b []byte) error { fillConst(b, 0xFF); return nil },
	func(b []byte) error { _, err := rand.Read(b); return err },
}

func fillConst(b []byte, v byte) {
	for i := range b {
		b[i] = v
	}
}

// SecureDelete overwrites every regular file under dir with three
// passes (zero, 0xFF, random), fsyncing after each pass, then removes
// the file and finally the directory tree.
func SecureDelete(dir string) error {
	if dir == "" {
		return nil
	}
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		return wipeFile(path, info.Size())
	})
	if err != nil {
		return echoerr.NewFileError("secure-delete-walk", dir, err)
	}
	return echoerr.Wrap(os.RemoveAll(dir), "remove session directory after wipe")
}

func wipeFile(path string, size int64) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, size)
	for _, pass := range wipePasses {
		if err := pass(buf); err != nil {
			return err
		}
		if _, err := f.WriteAt(buf, 0); err != nil {
			return err
		}
		if err := f.Sync(); err != nil {
			return err
		}
	}
	return nil
}
