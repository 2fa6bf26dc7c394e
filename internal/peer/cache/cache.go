// Package cache is a viewer's bounded in-memory segment store.
package cache

import (
	"container/list"
	"sync"

	"github.com/kalash/swarm-cdn/internal/segment"
)

type entry struct {
	key  segment.Key
	data []byte
}

// LRU holds at most capacity segments. Critical segments (init and
// playlists) are never evicted, so the capacity bounds media segments only.
type LRU struct {
	mu       sync.Mutex
	capacity int
	media    int
	ll       *list.List
	items    map[segment.Key]*list.Element
}

func NewLRU(capacity int) *LRU {
	if capacity <= 0 {
		capacity = 16
	}
	return &LRU{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[segment.Key]*list.Element),
	}
}

// Put stores data under key and returns the keys evicted to make room.
func (l *LRU) Put(key segment.Key, data []byte) []segment.Key {
	l.mu.Lock()
	defer l.mu.Unlock()
	if elem, ok := l.items[key]; ok {
		elem.Value.(*entry).data = data
		l.ll.MoveToFront(elem)
		return nil
	}
	l.items[key] = l.ll.PushFront(&entry{key: key, data: data})
	if !segment.IsCritical(segment.Classify(key.Segment)) {
		l.media++
	}

	var evicted []segment.Key
	for elem := l.ll.Back(); l.media > l.capacity && elem != nil; {
		prev := elem.Prev()
		ent := elem.Value.(*entry)
		if !segment.IsCritical(segment.Classify(ent.key.Segment)) {
			l.ll.Remove(elem)
			delete(l.items, ent.key)
			l.media--
			evicted = append(evicted, ent.key)
		}
		elem = prev
	}
	return evicted
}

func (l *LRU) Get(key segment.Key) ([]byte, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if elem, ok := l.items[key]; ok {
		l.ll.MoveToFront(elem)
		return elem.Value.(*entry).data, true
	}
	return nil, false
}

// Keys lists held segments, most recently used first.
func (l *LRU) Keys() []segment.Key {
	l.mu.Lock()
	defer l.mu.Unlock()
	keys := make([]segment.Key, 0, len(l.items))
	for elem := l.ll.Front(); elem != nil; elem = elem.Next() {
		keys = append(keys, elem.Value.(*entry).key)
	}
	return keys
}

func (l *LRU) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ll.Len()
}
