package media

import "sync"

// Registry keeps every live capture track so shutdown can release the hardware.
type Registry struct {
	mu     sync.RWMutex
	tracks map[string]*Track
}

func NewRegistry() *Registry {
	return &Registry{tracks: make(map[string]*Track)}
}

func (r *Registry) add(t *Track) {
	r.mu.Lock()
	r.tracks[t.id] = t
	r.mu.Unlock()
	t.onStop = r.remove
}

func (r *Registry) remove(t *Track) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.tracks[t.id]; ok && cur == t {
		delete(r.tracks, t.id)
	}
}

// StopAll stops every live track.
func (r *Registry) StopAll() {
	r.mu.RLock()
	all := make([]*Track, 0, len(r.tracks))
	for _, t := range r.tracks {
		all = append(all, t)
	}
	r.mu.RUnlock()
	for _, t := range all {
		t.Stop()
	}
}
