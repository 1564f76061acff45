package history

import (
	"context"
	"sync"
)

// InMemoryStore is a dev/test fallback when no durable backend is configured.
// All artifacts live in process memory; contents are copied on load and save
// so callers never alias stored slices.
type InMemoryStore struct {
	mu    sync.Mutex
	meta  map[string]map[string]ChatMeta
	convs map[string]*memLogs
}

type memLogs struct {
	display []DisplayMessage
	model   []ModelTurn
}

// NewInMemoryStore constructs an in-memory Store implementation.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		meta:  make(map[string]map[string]ChatMeta),
		convs: make(map[string]*memLogs),
	}
}

// Close closes the store (noop for in-memory).
func (s *InMemoryStore) Close() error { return nil }

func memKey(user, chatID string) string { return user + "/" + chatID }

// LoadMeta returns the user's conversation metadata map (empty if absent).
func (s *InMemoryStore) LoadMeta(ctx context.Context, user string) (map[string]ChatMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]ChatMeta, len(s.meta[user]))
	for id, m := range s.meta[user] {
		out[id] = m
	}
	return out, nil
}

// SaveMeta replaces the user's conversation metadata map.
func (s *InMemoryStore) SaveMeta(ctx context.Context, user string, meta map[string]ChatMeta) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	cp := make(map[string]ChatMeta, len(meta))
	for id, m := range meta {
		cp[id] = m
	}

	s.mu.Lock()
	s.meta[user] = cp
	s.mu.Unlock()
	return nil
}

// LoadDisplay returns the display log (empty if absent).
func (s *InMemoryStore) LoadDisplay(ctx context.Context, user, chatID string) ([]DisplayMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[memKey(user, chatID)]
	if c == nil {
		return nil, nil
	}
	return append([]DisplayMessage(nil), c.display...), nil
}

// SaveDisplay replaces the display log.
func (s *InMemoryStore) SaveDisplay(ctx context.Context, user, chatID string, msgs []DisplayMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logsLocked(user, chatID).display = append([]DisplayMessage(nil), msgs...)
	return nil
}

// LoadModel returns the model-native log (empty if absent).
func (s *InMemoryStore) LoadModel(ctx context.Context, user, chatID string) ([]ModelTurn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.convs[memKey(user, chatID)]
	if c == nil {
		return nil, nil
	}
	return append([]ModelTurn(nil), c.model...), nil
}

// SaveModel replaces the model-native log.
func (s *InMemoryStore) SaveModel(ctx context.Context, user, chatID string, turns []ModelTurn) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.logsLocked(user, chatID).model = append([]ModelTurn(nil), turns...)
	return nil
}

// SaveLogs replaces both logs under one lock acquisition.
func (s *InMemoryStore) SaveLogs(ctx context.Context, user, chatID string, msgs []DisplayMessage, turns []ModelTurn) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.logsLocked(user, chatID)
	c.display = append([]DisplayMessage(nil), msgs...)
	c.model = append([]ModelTurn(nil), turns...)
	return nil
}

// DeleteChat removes both logs and the metadata entry.
func (s *InMemoryStore) DeleteChat(ctx context.Context, user, chatID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.convs, memKey(user, chatID))
	if m := s.meta[user]; m != nil {
		delete(m, chatID)
	}
	return nil
}

func (s *InMemoryStore) logsLocked(user, chatID string) *memLogs {
	k := memKey(user, chatID)
	c := s.convs[k]
	if c == nil {
		c = &memLogs{}
		s.convs[k] = c
	}
	return c
}
