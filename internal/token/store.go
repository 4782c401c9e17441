package token

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"keyrelay-go/internal/events"
	"keyrelay-go/internal/storage"
)

// Sentinel errors surfaced to the session guard and management handlers.
var (
	ErrInvalidToken = errors.New("token: no record matches the presented token")
	ErrNotFound     = errors.New("token: record not found")
)

const plaintextPrefix = "krt-"

// Store owns the persisted token records. Plaintext tokens exist only in
// transit: creation returns the secret once, validation compares digests.
type Store struct {
	backend   storage.Backend
	publisher events.Publisher

	now func() time.Time
}

// NewStore builds a store on top of an initialized storage backend.
func NewStore(backend storage.Backend) *Store {
	return &Store{backend: backend, now: time.Now}
}

// NewStoreWithClock is NewStore with an injected clock, for tests.
func NewStoreWithClock(backend storage.Backend, now func() time.Time) *Store {
	return &Store{backend: backend, now: now}
}

// SetEventPublisher wires the event hub used to announce record changes.
func (s *Store) SetEventPublisher(pub events.Publisher) {
	s.publisher = pub
}

// Create issues a new token. The returned plaintext is never stored and never
// shown again. A zero ttl means the token does not expire.
func (s *Store) Create(ctx context.Context, name string, ttl time.Duration) (*Record, string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, "", fmt.Errorf("token: name must not be empty")
	}

	plaintext := plaintextPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return nil, "", fmt.Errorf("token: hash generation failed: %w", err)
	}

	now := s.now()
	rec := &Record{
		ID:        uuid.NewString(),
		Name:      name,
		TokenHash: string(hash),
		CreatedAt: now,
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}

	if err := s.save(ctx, rec); err != nil {
		return nil, "", err
	}
	s.announce(ctx, "created", rec.ID)
	log.WithFields(log.Fields{"token_id": rec.ID, "name": name}).Info("relay token created")
	return rec, plaintext, nil
}

// Validate resolves a plaintext token to its record by scanning all stored
// digests. Returns ErrInvalidToken when nothing matches. Expiry and device
// checks are the session guard's job, not the store's.
func (s *Store) Validate(ctx context.Context, plaintext string) (*Record, error) {
	if plaintext == "" {
		return nil, ErrInvalidToken
	}
	docs, err := s.backend.ListTokens(ctx)
	if err != nil {
		return nil, fmt.Errorf("token: list records: %w", err)
	}
	for _, doc := range docs {
		rec, err := recordFromDoc(doc)
		if err != nil {
			log.WithError(err).Warn("skipping undecodable token record")
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(rec.TokenHash), []byte(plaintext)) == nil {
			return rec, nil
		}
	}
	return nil, ErrInvalidToken
}

// RecordUsage persists the session claim: last-use timestamp, device
// fingerprint and the bumped request counter.
func (s *Store) RecordUsage(ctx context.Context, id string, fp Fingerprint) (*Record, error) {
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.LastUsedAt = s.now()
	rec.LastUsedIP = fp.IP
	rec.LastUsedUserAgent = fp.UserAgent
	rec.RequestCount++
	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the record with the given ID.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	doc, err := s.backend.GetToken(ctx, id)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return recordFromDoc(doc)
}

// List returns all records sorted by creation time, oldest first.
func (s *Store) List(ctx context.Context) ([]*Record, error) {
	docs, err := s.backend.ListTokens(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Record, 0, len(docs))
	for _, doc := range docs {
		rec, err := recordFromDoc(doc)
		if err != nil {
			log.WithError(err).Warn("skipping undecodable token record")
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete removes a record permanently.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.backend.DeleteToken(ctx, id); err != nil {
		if storage.IsNotFound(err) {
			return ErrNotFound
		}
		return err
	}
	s.announce(ctx, "deleted", id)
	log.WithField("token_id", id).Info("relay token deleted")
	return nil
}

// Rename changes a record's display name. The secret is untouched.
func (s *Store) Rename(ctx context.Context, id, name string) (*Record, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("token: name must not be empty")
	}
	rec, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.Name = name
	if err := s.save(ctx, rec); err != nil {
		return nil, err
	}
	s.announce(ctx, "renamed", id)
	return rec, nil
}

func (s *Store) save(ctx context.Context, rec *Record) error {
	doc, err := rec.toDoc()
	if err != nil {
		return fmt.Errorf("token: encode record %s: %w", rec.ID, err)
	}
	return s.backend.SetToken(ctx, rec.ID, doc)
}

func (s *Store) announce(ctx context.Context, action, id string) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(ctx, events.TopicTokenChanged, map[string]any{
		"action":   action,
		"token_id": id,
	}, nil)
}
