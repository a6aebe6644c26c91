// Package crawlctl implements the Crawl Controller state machine from
// spec.md §4.H: per-crawl coordination of the URL Normalizer & Filter,
// Frontier, and Job Queue for one root URL.
package crawlctl

import "sync"

// Registry is the process-wide, reader-writer-locked map of crawl id ->
// *Controller named in spec.md §9's design note on back-references: a
// child job stores only its crawl id and looks up the CrawlState here,
// avoiding a parent/child object cycle.
type Registry struct {
	mu    sync.RWMutex
	byID  map[string]*Controller
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Controller)}
}

// Put registers a controller under its crawl id.
func (r *Registry) Put(c *Controller) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[c.State.ID] = c
}

// Get looks up a controller by crawl id.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.byID[id]
	return c, ok
}

// Remove drops a controller once its crawl has reached a terminal state and
// its result has been persisted, bounding the registry's memory growth.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
}
