package quota

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// MemoryUsageStore keeps counters in process. Each (subject, day) key owns
// an atomic counter, so increments never need a global lock.
type MemoryUsageStore struct {
	counters sync.Map // "<day>|<subject>" -> *atomic.Int64
}

func NewMemoryUsageStore() *MemoryUsageStore {
	return &MemoryUsageStore{}
}

func memoryKey(subjectID, day string) string {
	return day + "|" + subjectID
}

func (s *MemoryUsageStore) Count(_ context.Context, subjectID, day string) (int64, error) {
	v, ok := s.counters.Load(memoryKey(subjectID, day))
	if !ok {
		return 0, nil
	}
	return v.(*atomic.Int64).Load(), nil
}

func (s *MemoryUsageStore) Increment(_ context.Context, subjectID, day string) (int64, error) {
	v, _ := s.counters.LoadOrStore(memoryKey(subjectID, day), new(atomic.Int64))
	return v.(*atomic.Int64).Add(1), nil
}

// PruneBefore drops counters of days strictly before day.
func (s *MemoryUsageStore) PruneBefore(_ context.Context, day string) (int, error) {
	removed := 0
	s.counters.Range(func(k, _ any) bool {
		key := k.(string)
		if d, _, ok := strings.Cut(key, "|"); ok && d < day {
			s.counters.Delete(key)
			removed++
		}
		return true
	})
	return removed, nil
}
