package reporter

import "container/list"

// lru is a bounded set of recently-seen command IDs used to give the agent
// at-most-once command application over an at-least-once delivery channel
// (spec §4.9).
type lru struct {
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

func newLRU(capacity int) *lru {
	return &lru{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element, capacity),
	}
}

func (l *lru) seen(id string) bool {
	_, ok := l.index[id]
	return ok
}

func (l *lru) add(id string) {
	if l.seen(id) {
		return
	}
	elem := l.order.PushFront(id)
	l.index[id] = elem

	for l.order.Len() > l.capacity {
		oldest := l.order.Back()
		if oldest == nil {
			break
		}
		l.order.Remove(oldest)
		delete(l.index, oldest.Value.(string))
	}
}
