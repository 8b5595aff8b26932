package session

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/harunnryd/khata/pkg/errorsx"
	"github.com/harunnryd/khata/pkg/kv"
)

const (
	// DefaultTTL is how long an idle session survives.
	DefaultTTL = 5 * time.Minute
	// GraceTTL replaces the TTL once a session completes.
	GraceTTL = 30 * time.Second
	// MaxTurns caps stored history; older turns fall off the front but
	// ParsedState keeps what they established.
	MaxTurns = 20
)

// ErrNotFound reports a session that is absent or already expired.
var ErrNotFound = errors.New("session not found")

// Store persists sessions as JSON documents in a TTL key-value store.
type Store struct {
	kv     kv.Store
	ttl    time.Duration
	grace  time.Duration
	prefix string
	now    func() time.Time
}

func NewStore(backend kv.Store) *Store {
	return NewStoreWithTTL(backend, DefaultTTL, GraceTTL)
}

// NewStoreWithTTL overrides the idle and post-completion lifetimes.
func NewStoreWithTTL(backend kv.Store, ttl, grace time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if grace <= 0 {
		grace = GraceTTL
	}
	return &Store{
		kv:     backend,
		ttl:    ttl,
		grace:  grace,
		prefix: "session:",
		now:    time.Now,
	}
}

func (s *Store) key(id string) string { return s.prefix + id }

// Create opens a fresh session owned by (businessID, userID) and persists it.
func (s *Store) Create(ctx context.Context, businessID int64, userID string) (*Session, error) {
	now := s.now().UTC()
	sess := &Session{
		ID:           uuid.NewString(),
		BusinessID:   businessID,
		UserID:       userID,
		Status:       StatusActive,
		ParsedState:  map[string]any{},
		CreatedAt:    now,
		LastActivity: now,
	}
	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Get loads a session. A missing or expired key is ErrNotFound, wrapped so
// callers can tell storage trouble from a genuinely gone session.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	raw, err := s.kv.Get(ctx, s.key(id))
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return nil, errorsx.Wrap(ErrNotFound, errorsx.ReasonSessionNotFound)
		}
		return nil, errorsx.Wrap(err, errorsx.ReasonSessionStore)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, errorsx.Wrap(err, errorsx.ReasonSessionStore)
	}
	return &sess, nil
}

// Save writes the session back and refreshes its TTL. Completed sessions get
// the grace window instead of the full TTL.
func (s *Store) Save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSessionStore)
	}
	ttl := s.ttl
	if sess.Status == StatusCompleted {
		ttl = s.grace
	}
	if err := s.kv.SetTTL(ctx, s.key(sess.ID), raw, ttl); err != nil {
		return errorsx.Wrap(err, errorsx.ReasonSessionStore)
	}
	return nil
}

// AppendTurn records one utterance, trims history to MaxTurns and refreshes
// activity and TTL in a single write.
func (s *Store) AppendTurn(ctx context.Context, id, role, text string) (*Session, error) {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess.Turns = append(sess.Turns, Turn{Role: role, Text: text, At: now})
	if len(sess.Turns) > MaxTurns {
		sess.Turns = sess.Turns[len(sess.Turns)-MaxTurns:]
	}
	sess.LastActivity = now
	if err := s.Save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

// Touch refreshes the TTL without changing content.
func (s *Store) Touch(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.LastActivity = s.now().UTC()
	return s.Save(ctx, sess)
}

// Complete marks the conversation done and drops the TTL to the grace window.
func (s *Store) Complete(ctx context.Context, id string) error {
	sess, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	sess.Status = StatusCompleted
	return s.Save(ctx, sess)
}

// Delete removes a session immediately. Deleting an absent session is not an
// error.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.kv.Delete(ctx, s.key(id)); err != nil && !errors.Is(err, kv.ErrNotFound) {
		return errorsx.Wrap(err, errorsx.ReasonSessionStore)
	}
	return nil
}
