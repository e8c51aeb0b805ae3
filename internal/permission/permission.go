// Package permission answers "may the station use the camera / write
// to the photo library" and remembers the answers across runs.
package permission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/cjeanneret/SnapGo/internal/debug"
)

// Kind is a protected resource.
type Kind string

const (
	Video        Kind = "video"
	PhotoLibrary Kind = "photo_library"
)

// Status is the recorded decision for a Kind.
type Status int

const (
	NotDetermined Status = iota
	Authorized
	Denied
	Restricted
)

func (s Status) String() string {
	switch s {
	case NotDetermined:
		return "not_determined"
	case Authorized:
		return "authorized"
	case Denied:
		return "denied"
	case Restricted:
		return "restricted"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Authority checks and requests permissions.
type Authority interface {
	Status(k Kind) Status
	// Request prompts when the status is not determined and reports
	// whether access is granted.
	Request(ctx context.Context, k Kind) (bool, error)
}

// Prompter asks for a decision the first time a Kind is requested.
type Prompter func(ctx context.Context, k Kind) (bool, error)

// PolicyPrompter answers every prompt with a fixed policy ("grant" or "deny").
func PolicyPrompter(policy string) (Prompter, error) {
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "grant", "":
		return func(context.Context, Kind) (bool, error) { return true, nil }, nil
	case "deny":
		return func(context.Context, Kind) (bool, error) { return false, nil }, nil
	default:
		return nil, fmt.Errorf("unknown permission policy %q", policy)
	}
}

var bucketGrants = []byte("grants")

type grant struct {
	Status    Status    `json:"status"`
	DecidedAt time.Time `json:"decided_at"`
}

// Store is an Authority backed by a bbolt file.
type Store struct {
	db     *bolt.DB
	prompt Prompter
}

// Open opens (or creates) the grant store at path.
func Open(path string, prompt Prompter) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("permission store path is required")
	}
	if prompt == nil {
		return nil, errors.New("permission prompter is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create permission store directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("open permission store: %w", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketGrants)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init permission store: %w", err)
	}
	return &Store{db: db, prompt: prompt}, nil
}

// Status returns the stored decision. Read failures count as not determined.
func (s *Store) Status(k Kind) Status {
	g, err := s.load(k)
	if err != nil {
		debug.Error(fmt.Errorf("read %s permission: %w", k, err))
		return NotDetermined
	}
	return g.Status
}

// Request returns the stored decision, prompting and persisting it first
// when none exists yet.
func (s *Store) Request(ctx context.Context, k Kind) (bool, error) {
	if st := s.Status(k); st != NotDetermined {
		return st == Authorized, nil
	}

	granted, err := s.prompt(ctx, k)
	if err != nil {
		return false, fmt.Errorf("prompt %s permission: %w", k, err)
	}
	st := Denied
	if granted {
		st = Authorized
	}
	if err := s.Set(k, st); err != nil {
		return granted, err
	}
	debug.Info("Permission %s -> %s", k, st)
	return granted, nil
}

// Set records a decision.
func (s *Store) Set(k Kind, st Status) error {
	data, err := json.Marshal(grant{Status: st, DecidedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGrants).Put([]byte(k), data)
	})
}

// Reset forgets the decision so the next Request prompts again.
func (s *Store) Reset(k Kind) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketGrants).Delete([]byte(k))
	})
}

// Close closes the underlying file.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) load(k Kind) (grant, error) {
	var g grant
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(bucketGrants).Get([]byte(k))
		if raw == nil {
			return nil
		}
		return json.Unmarshal(raw, &g)
	})
	return g, err
}
