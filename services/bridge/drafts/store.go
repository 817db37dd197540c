// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package drafts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
)

var (
	// ErrEmptyExercise is returned when the exercise id is blank.
	ErrEmptyExercise = errors.New("exercise id must not be empty")

	// ErrStoreClosed is returned after Close.
	ErrStoreClosed = errors.New("draft store closed")
)

// DefaultExercise is the key used when the caller names no exercise.
const DefaultExercise = "default"

const keyPrefix = "draft:"

// Draft is the saved editor buffer for one exercise.
type Draft struct {
	Exercise  string    `json:"exercise"`
	Code      string    `json:"code"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Store persists drafts in BadgerDB.
//
// Thread Safety:
//
//	Safe for concurrent use. Calls after Close return ErrStoreClosed.
type Store struct {
	db       *badger.DB
	gc       *gcRunner
	inMemory bool
	now      func() time.Time

	mu     sync.RWMutex
	closed bool
}

// Open opens the draft store described by cfg.
//
// Outputs:
//
//	*Store - The store. Caller must call Close.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &Store{db: db, inMemory: cfg.InMemory, now: time.Now}
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.gc = startGC(db, cfg.GCInterval, cfg.GCDiscardRatio, cfg.Logger)
	}

	slog.Debug("Draft store opened",
		slog.String("path", cfg.Path),
		slog.Bool("in_memory", cfg.InMemory))
	return s, nil
}

// OpenInMemory opens a store that keeps drafts only for its lifetime.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// InMemory reports whether drafts are lost on Close.
func (s *Store) InMemory() bool {
	return s.inMemory
}

// Save stores code as the draft for exercise, replacing any previous one.
//
// Errors:
//
//	ErrEmptyExercise - exercise is blank
//	ErrStoreClosed - Close was called
func (s *Store) Save(ctx context.Context, exercise, code string) (Draft, error) {
	key, err := draftKey(exercise)
	if err != nil {
		return Draft{}, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Draft{}, ErrStoreClosed
	}

	draft := Draft{
		Exercise:  strings.TrimSpace(exercise),
		Code:      code,
		UpdatedAt: s.now().UTC(),
	}
	value, err := json.Marshal(draft)
	if err != nil {
		return Draft{}, fmt.Errorf("encode draft: %w", err)
	}

	err = withTxn(ctx, s.db, func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
	if err != nil {
		return Draft{}, fmt.Errorf("save draft %q: %w", draft.Exercise, err)
	}
	return draft, nil
}

// Load returns the draft for exercise. The bool is false when none exists.
func (s *Store) Load(ctx context.Context, exercise string) (Draft, bool, error) {
	key, err := draftKey(exercise)
	if err != nil {
		return Draft{}, false, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return Draft{}, false, ErrStoreClosed
	}

	var draft Draft
	err = withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &draft)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Draft{}, false, nil
	}
	if err != nil {
		return Draft{}, false, fmt.Errorf("load draft %q: %w", exercise, err)
	}
	return draft, true, nil
}

// Delete removes the draft for exercise. Deleting a missing draft is not
// an error.
func (s *Store) Delete(ctx context.Context, exercise string) error {
	key, err := draftKey(exercise)
	if err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}

	err = withTxn(ctx, s.db, func(txn *badger.Txn) error {
		return txn.Delete(key)
	})
	if err != nil {
		return fmt.Errorf("delete draft %q: %w", exercise, err)
	}
	return nil
}

// List returns every saved draft ordered by exercise id.
func (s *Store) List(ctx context.Context) ([]Draft, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	drafts := []Draft{}
	err := withReadTxn(ctx, s.db, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var d Draft
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &d)
			})
			if err != nil {
				return err
			}
			drafts = append(drafts, d)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list drafts: %w", err)
	}
	return drafts, nil
}

// InitialCode returns the code an editor should open with.
//
// Description:
//
//	Returns the saved draft when it is non-empty, else starter, else
//	fallback. A blank exercise means DefaultExercise.
func (s *Store) InitialCode(ctx context.Context, exercise, starter, fallback string) (string, error) {
	if strings.TrimSpace(exercise) == "" {
		exercise = DefaultExercise
	}
	draft, ok, err := s.Load(ctx, exercise)
	if err != nil {
		return "", err
	}
	switch {
	case ok && draft.Code != "":
		return draft.Code, nil
	case starter != "":
		return starter, nil
	default:
		return fallback, nil
	}
}

// Close stops garbage collection and closes the database. Idempotent.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true

	if s.gc != nil {
		s.gc.stop()
	}
	return s.db.Close()
}

func draftKey(exercise string) ([]byte, error) {
	exercise = strings.TrimSpace(exercise)
	if exercise == "" {
		return nil, ErrEmptyExercise
	}
	return []byte(keyPrefix + exercise), nil
}
