package engine

import "sync"

// signalLocks serializes all mutations for one signal id. The map only grows
// with distinct signal ids seen during the process lifetime, which is bounded
// by ingestion volume; entries are a bare mutex each.
type signalLocks struct {
	mu sync.Mutex
	m  map[int64]*sync.Mutex
}

func (l *signalLocks) forSignal(id int64) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.m == nil {
		l.m = make(map[int64]*sync.Mutex)
	}
	if _, ok := l.m[id]; !ok {
		l.m[id] = &sync.Mutex{}
	}
	return l.m[id]
}
