package chat

import (
	"context"
	"errors"
	"hash/fnv"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/suPer8Hu/chatstore/internal/ratelimit"
)

const (
	// DefaultHistoryLimit caps messages loaded on a history cache miss.
	DefaultHistoryLimit = 50

	autoNameMaxLen     = 50
	sessionLockStripes = 64
)

// Pair is one display row: a user message and its assistant reply. A
// trailing unanswered user message carries an empty Assistant.
type Pair struct {
	User      string `json:"user"`
	Assistant string `json:"assistant"`
}

// Service is the chat session store. Every entry point checks the rate
// limiter first, then reads or writes through the cache, which loads
// from and writes through to the repo. Writes to one session are
// serialized on a striped per-session lock so index assignment and the
// cache append never interleave; unrelated sessions do not contend.
type Service struct {
	repo         *Repo
	cache        *Cache
	limiter      ratelimit.Limiter
	search       *Searcher
	log          zerolog.Logger
	historyLimit int

	locks [sessionLockStripes]sync.Mutex
}

type ServiceOption func(*Service)

// WithHistoryLimit overrides the default cap on messages loaded on a
// history cache miss.
func WithHistoryLimit(n int) ServiceOption {
	return func(s *Service) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

func NewService(repo *Repo, cache *Cache, limiter ratelimit.Limiter, searcher *Searcher, log zerolog.Logger, opts ...ServiceOption) *Service {
	if searcher == nil {
		searcher = NewSearcher(repo)
	}
	s := &Service{
		repo:         repo,
		cache:        cache,
		limiter:      limiter,
		search:       searcher,
		log:          log,
		historyLimit: DefaultHistoryLimit,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(sessionID))
	return &s.locks[h.Sum32()%sessionLockStripes]
}

// CreateSession creates an empty named session and returns its id.
func (s *Service) CreateSession(ctx context.Context, owner, name string) (string, error) {
	if strings.TrimSpace(owner) == "" {
		return "", ErrValidation
	}
	if !s.limiter.Allow(owner, ratelimit.ClassChat) {
		return "", ErrRateLimited
	}

	sessionID := NewSessionID()
	if strings.TrimSpace(name) == "" {
		name = fallbackName(sessionID)
	}
	now := time.Now().UTC()
	sess := &Session{
		SessionID:   sessionID,
		Owner:       owner,
		DisplayName: name,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return "", s.fail("create session", sessionID, owner, err)
	}
	s.cache.SetSessionMeta(owner, metaOf(sess))
	return sessionID, nil
}

// AppendMessage durably appends a message, then updates the cache.
// Writing to an unknown session id creates the session implicitly,
// named after the first user message.
func (s *Service) AppendMessage(ctx context.Context, sessionID, owner, role, content string) error {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(owner) == "" || content == "" {
		return ErrValidation
	}
	if role != RoleUser && role != RoleAssistant {
		return ErrValidation
	}
	if !s.limiter.Allow(owner, ratelimit.ClassChat) {
		return ErrRateLimited
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()

	sess, err := s.repo.GetSession(ctx, sessionID)
	switch {
	case errors.Is(err, ErrNotFound):
		sess = &Session{
			SessionID:   sessionID,
			Owner:       owner,
			DisplayName: autoName(role, content, sessionID),
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := s.repo.CreateSession(ctx, sess); err != nil {
			return s.fail("append message", sessionID, owner, err)
		}
	case err != nil:
		return s.fail("append message", sessionID, owner, err)
	case sess.Owner != owner:
		return ErrNotFound
	}

	msg := &Message{
		SessionID: sessionID,
		Owner:     owner,
		Role:      role,
		Content:   content,
		Timestamp: now,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		// The row may or may not be durable (e.g. deadline exceeded
		// mid-commit). Drop the cache entry so the next read reloads
		// rather than trusting possibly stale state.
		s.cache.Invalidate(sessionID)
		return s.fail("append message", sessionID, owner, err)
	}

	s.cache.AppendHistory(sessionID, Entry{Role: role, Content: content, Timestamp: now})
	sess.UpdatedAt = now
	s.cache.SetSessionMeta(owner, metaOf(sess))
	return nil
}

// GetHistory returns the session's messages folded into display pairs.
// Unknown or deleted sessions read as empty history.
func (s *Service) GetHistory(ctx context.Context, sessionID, owner string, limit int) ([]Pair, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(owner) == "" {
		return nil, ErrValidation
	}
	if !s.limiter.Allow(owner, ratelimit.ClassChat) {
		return nil, ErrRateLimited
	}
	if limit <= 0 {
		limit = s.historyLimit
	}

	metas, err := s.ownerMetadata(ctx, owner)
	if err != nil {
		return nil, s.fail("get history", sessionID, owner, err)
	}
	if _, ok := metas[sessionID]; !ok {
		return nil, nil
	}

	entries, ok := s.cache.History(sessionID)
	if !ok {
		// The miss-fill takes the session lock so it cannot interleave
		// with a writer between its insert and its cache append; an
		// unlocked fill could capture the new row from the store and
		// then receive the writer's append on top, caching it twice.
		// Reads of an already cached entry stay lock-free.
		lock := s.sessionLock(sessionID)
		lock.Lock()
		defer lock.Unlock()

		entries, ok = s.cache.History(sessionID)
		if !ok {
			msgs, err := s.repo.ListMessages(ctx, sessionID, limit)
			if err != nil {
				return nil, s.fail("get history", sessionID, owner, err)
			}
			entries = make([]Entry, 0, len(msgs))
			for _, m := range msgs {
				entries = append(entries, Entry{Role: m.Role, Content: m.Content, Timestamp: m.Timestamp})
			}
			s.cache.PutHistory(sessionID, entries)
		}
	}
	return pairEntries(entries), nil
}

// ListSessions returns the owner's session metadata, most recently
// updated first.
func (s *Service) ListSessions(ctx context.Context, owner string) ([]SessionMeta, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, ErrValidation
	}
	if !s.limiter.Allow(owner, ratelimit.ClassChat) {
		return nil, ErrRateLimited
	}
	metas, err := s.ownerMetadata(ctx, owner)
	if err != nil {
		return nil, s.fail("list sessions", "", owner, err)
	}
	out := make([]SessionMeta, 0, len(metas))
	for _, m := range metas {
		out = append(out, m)
	}
	sortMetasByUpdatedDesc(out)
	return out, nil
}

// RenameSession renames the session and returns its updated metadata.
// Renaming to the current name is a no-op: updated_at never moves.
func (s *Service) RenameSession(ctx context.Context, sessionID, owner, newName string) (SessionMeta, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(owner) == "" || strings.TrimSpace(newName) == "" {
		return SessionMeta{}, ErrValidation
	}
	if !s.limiter.Allow(owner, ratelimit.ClassChat) {
		return SessionMeta{}, ErrRateLimited
	}

	sess, err := s.repo.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return SessionMeta{}, ErrNotFound
		}
		return SessionMeta{}, s.fail("rename session", sessionID, owner, err)
	}
	if sess.Owner != owner {
		return SessionMeta{}, ErrNotFound
	}
	if sess.DisplayName == newName {
		return metaOf(sess), nil
	}

	updated, err := s.repo.RenameSession(ctx, sessionID, owner, newName)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return SessionMeta{}, ErrNotFound
		}
		return SessionMeta{}, s.fail("rename session", sessionID, owner, err)
	}
	s.cache.InvalidateOwner(owner)
	return metaOf(updated), nil
}

// DeleteSession removes the session, its messages, and any cache
// entries. After it returns true no reader observes the session.
func (s *Service) DeleteSession(ctx context.Context, sessionID, owner string) (bool, error) {
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(owner) == "" {
		return false, ErrValidation
	}
	if !s.limiter.Allow(owner, ratelimit.ClassChat) {
		return false, ErrRateLimited
	}

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	deleted, err := s.repo.DeleteSession(ctx, sessionID, owner)
	if err != nil {
		return false, s.fail("delete session", sessionID, owner, err)
	}
	s.cache.Invalidate(sessionID)
	s.cache.InvalidateOwner(owner)
	return deleted, nil
}

// DeleteAllForOwner removes every session and message the owner has.
func (s *Service) DeleteAllForOwner(ctx context.Context, owner string) error {
	if strings.TrimSpace(owner) == "" {
		return ErrValidation
	}
	if !s.limiter.Allow(owner, ratelimit.ClassChat) {
		return ErrRateLimited
	}

	sessions, err := s.repo.ListSessions(ctx, owner)
	if err != nil {
		return s.fail("delete all", "", owner, err)
	}
	if err := s.repo.DeleteAllForOwner(ctx, owner); err != nil {
		return s.fail("delete all", "", owner, err)
	}
	for _, sess := range sessions {
		s.cache.Invalidate(sess.SessionID)
	}
	s.cache.InvalidateOwner(owner)
	return nil
}

// SearchHistory scans the owner's persisted history. The per-owner
// search counter is best-effort: a failed increment never fails the
// search.
func (s *Service) SearchHistory(ctx context.Context, owner, query string) ([]SearchMatch, error) {
	if strings.TrimSpace(owner) == "" || strings.TrimSpace(query) == "" {
		return nil, ErrValidation
	}
	if !s.limiter.Allow(owner, ratelimit.ClassChat) {
		return nil, ErrRateLimited
	}

	matches, err := s.search.Search(ctx, owner, query)
	if err != nil {
		return nil, s.fail("search history", "", owner, err)
	}
	if err := s.repo.IncrSearches(ctx, owner); err != nil {
		s.log.Debug().Err(err).Str("owner", owner).Msg("search stat increment failed")
	}
	return matches, nil
}

// LimitInfo exposes the configured quota for an operation class.
func (s *Service) LimitInfo(class ratelimit.Class) (ratelimit.Limit, bool) {
	return s.limiter.LimitInfo(class)
}

// ownerMetadata returns the owner's session metadata map, loading and
// caching it on miss.
func (s *Service) ownerMetadata(ctx context.Context, owner string) (map[string]SessionMeta, error) {
	if metas, ok := s.cache.Metadata(owner); ok {
		return metas, nil
	}
	sessions, err := s.repo.ListSessions(ctx, owner)
	if err != nil {
		return nil, err
	}
	metas := make(map[string]SessionMeta, len(sessions))
	for i := range sessions {
		metas[sessions[i].SessionID] = metaOf(&sessions[i])
	}
	s.cache.PutMetadata(owner, metas)
	return metas, nil
}

func (s *Service) fail(op, sessionID, owner string, err error) error {
	var se *StorageError
	if errors.As(err, &se) {
		s.log.Error().
			Str("op", op).
			Str("session_id", sessionID).
			Str("owner", owner).
			Err(err).
			Msg("storage failure")
	}
	return err
}

func metaOf(s *Session) SessionMeta {
	return SessionMeta{
		SessionID:   s.SessionID,
		DisplayName: s.DisplayName,
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

// autoName derives the implicit session name: the first line of the
// first user message, clipped, or a fallback from the id.
func autoName(role, content, sessionID string) string {
	if role != RoleUser {
		return fallbackName(sessionID)
	}
	name := strings.TrimSpace(content)
	if i := strings.IndexByte(name, '\n'); i >= 0 {
		name = strings.TrimSpace(name[:i])
	}
	if name == "" {
		return fallbackName(sessionID)
	}
	runes := []rune(name)
	if len(runes) > autoNameMaxLen {
		name = string(runes[:autoNameMaxLen])
	}
	return name
}

func fallbackName(sessionID string) string {
	if len(sessionID) > 8 {
		sessionID = sessionID[:8]
	}
	return "Chat " + sessionID
}

// pairEntries folds role-ordered entries into display pairs. A user
// entry opens a pair; the next assistant entry closes it. Assistant
// entries without an open pair get an empty user side.
func pairEntries(entries []Entry) []Pair {
	var pairs []Pair
	open := -1
	for _, e := range entries {
		switch e.Role {
		case RoleUser:
			pairs = append(pairs, Pair{User: e.Content})
			open = len(pairs) - 1
		case RoleAssistant:
			if open >= 0 && pairs[open].Assistant == "" {
				pairs[open].Assistant = e.Content
				open = -1
			} else {
				pairs = append(pairs, Pair{Assistant: e.Content})
			}
		}
	}
	return pairs
}

func sortMetasByUpdatedDesc(metas []SessionMeta) {
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt.After(metas[j].UpdatedAt)
	})
}
