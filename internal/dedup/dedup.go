// Package dedup tracks which (skill, argument-set) pairs have already been
// executed within one session, so an identical call can be answered from the
// recorded result instead of running the handler again.
package dedup

import (
	"encoding/json"
	"fmt"
	"sync"
)

// Key computes the composite key for a call: the skill name joined with a
// canonical serialization of its arguments. encoding/json marshals map keys
// in sorted order at every nesting level, so two argument maps with the same
// keys and values always produce the same key regardless of insertion order,
// while any value difference produces a different key.
func Key(skill string, args map[string]any) string {
	b, err := json.Marshal(args)
	if err != nil {
		// Arguments are JSON-representable at the dispatch boundary; this
		// path only triggers for handler-internal misuse.
		return skill + "\x1f" + fmt.Sprintf("%v", args)
	}
	return skill + "\x1f" + string(b)
}

// Session holds the execution records for one dispatch session (typically
// one conversation). A fresh Session starts with zero records; nothing is
// persisted across sessions.
type Session struct {
	mu      sync.RWMutex
	records map[string]string
}

func NewSession() *Session {
	return &Session{records: make(map[string]string)}
}

// IsDuplicate reports whether this (skill, arguments) pair already has a
// recorded result.
func (s *Session) IsDuplicate(skill string, args map[string]any) bool {
	_, ok := s.CachedKey(Key(skill, args))
	return ok
}

// Cached returns the recorded result for this (skill, arguments) pair.
func (s *Session) Cached(skill string, args map[string]any) (string, bool) {
	return s.CachedKey(Key(skill, args))
}

// Record stores the result for this (skill, arguments) pair. Recording the
// same pair again overwrites the previous result.
func (s *Session) Record(skill string, args map[string]any, result string) {
	s.RecordKey(Key(skill, args), result)
}

// CachedKey is the precomputed-key variant used on the dispatch hot path.
func (s *Session) CachedKey(key string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result, ok := s.records[key]
	return result, ok
}

// RecordKey is the precomputed-key variant used on the dispatch hot path.
func (s *Session) RecordKey(key, result string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = result
}

// Len returns the number of recorded executions.
func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
