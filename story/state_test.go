package story

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecordAndReset(t *testing.T) {
	s := New(0)
	assert.Equal(t, 1, s.RecordImage("a"))
	assert.Equal(t, 2, s.RecordImage("b"))
	s.RecordStory("Hi.")

	snap := s.Snapshot()
	assert.Equal(t, []string{"a", "b"}, snap.Images)
	assert.Equal(t, []string{"Hi."}, snap.Stories)
	assert.Equal(t, 2, snap.Counter)

	snap.Images[0] = "changed"
	assert.Equal(t, "a", s.Snapshot().Images[0])

	s.Reset()
	assert.Equal(t, 0, s.Counter())
	assert.Empty(t, s.Snapshot().Images)
	assert.Empty(t, s.Snapshot().Stories)
}

func TestHistoryLimit(t *testing.T) {
	s := New(2)
	for i := range 5 {
		s.RecordImage(fmt.Sprint(i))
		s.RecordStory(fmt.Sprint("line ", i))
	}
	snap := s.Snapshot()
	assert.Equal(t, []string{"3", "4"}, snap.Images)
	assert.Equal(t, []string{"line 3", "line 4"}, snap.Stories)
	assert.Equal(t, 5, snap.Counter)
}

func TestConcurrentRecord(t *testing.T) {
	s := New(10)
	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordImage("x")
			s.RecordStory("y")
			_ = s.Snapshot()
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, s.Counter())
	assert.Len(t, s.Snapshot().Images, 10)
}
