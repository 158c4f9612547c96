package storage

import (
	"context"
	"sync"
)

type MemoryStorage struct {
	mu     sync.RWMutex
	data   map[Namespace]map[string][]byte
	closed bool
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[Namespace]map[string][]byte)}
}

func (s *MemoryStorage) Get(ctx context.Context, ns Namespace, keys ...string) (map[string][]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	out := make(map[string][]byte)
	area := s.data[ns]
	if len(keys) == 0 {
		for k, v := range area {
			out[k] = clone(v)
		}
		return out, nil
	}
	for _, k := range keys {
		if v, ok := area[k]; ok {
			out[k] = clone(v)
		}
	}
	return out, nil
}

func (s *MemoryStorage) Set(ctx context.Context, ns Namespace, items map[string][]byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	area := s.data[ns]
	if area == nil {
		area = make(map[string][]byte)
		s.data[ns] = area
	}
	for k, v := range items {
		area[k] = clone(v)
	}
	return nil
}

func (s *MemoryStorage) Remove(ctx context.Context, ns Namespace, keys ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	for _, k := range keys {
		delete(s.data[ns], k)
	}
	return nil
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func clone(b []byte) []byte {
	return append([]byte(nil), b...)
}
