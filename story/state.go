// Package story keeps the in-memory record of drawings and dialogue lines
// produced since the last reset. It is shared by every client of the
// process; there are no sessions.
package story

import "sync"

type Snapshot struct {
	Images  []string
	Stories []string
	Counter int
}

type State struct {
	mu      sync.Mutex
	limit   int
	images  []string
	stories []string
	counter int
}

// New returns an empty state. historyLimit > 0 caps how many images and
// stories are kept; the counter is never capped.
func New(historyLimit int) *State {
	return &State{limit: historyLimit}
}

func (s *State) trim(items []string) []string {
	if s.limit > 0 && len(items) > s.limit {
		items = append(items[:0:0], items[len(items)-s.limit:]...)
	}
	return items
}

// RecordImage stores a drawing and returns the incremented counter.
func (s *State) RecordImage(img string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images = s.trim(append(s.images, img))
	s.counter++
	return s.counter
}

func (s *State) RecordStory(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stories = s.trim(append(s.stories, line))
}

func (s *State) Counter() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counter
}

// Snapshot copies the current state.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Images:  append([]string(nil), s.images...),
		Stories: append([]string(nil), s.stories...),
		Counter: s.counter,
	}
}

func (s *State) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.images, s.stories, s.counter = nil, nil, 0
}
