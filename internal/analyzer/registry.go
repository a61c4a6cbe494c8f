package analyzer

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrDuplicateAnalyzer is returned when registering a code twice.
var ErrDuplicateAnalyzer = errors.New("analyzer already registered")

// Registry holds the known analyzers keyed by code.
type Registry struct {
	mu        sync.RWMutex
	analyzers map[string]ResourceAnalyzer
}

// NewRegistry creates a registry populated with analyzers.
func NewRegistry(analyzers ...ResourceAnalyzer) (*Registry, error) {
	r := &Registry{analyzers: make(map[string]ResourceAnalyzer)}
	for _, a := range analyzers {
		if err := r.Register(a); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds an analyzer.
func (r *Registry) Register(a ResourceAnalyzer) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.analyzers[a.Code()]; ok {
		return fmt.Errorf("%s: %w", a.Code(), ErrDuplicateAnalyzer)
	}
	r.analyzers[a.Code()] = a
	return nil
}

// Get returns the analyzer registered under code.
func (r *Registry) Get(code string) (ResourceAnalyzer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.analyzers[code]
	return a, ok
}

// AllByPriorityDescending returns analyzers with priority >= minPriority,
// highest priority first. Equal priorities are ordered by code.
func (r *Registry) AllByPriorityDescending(minPriority int) []ResourceAnalyzer {
	r.mu.RLock()
	out := make([]ResourceAnalyzer, 0, len(r.analyzers))
	for _, a := range r.analyzers {
		if a.Priority() >= minPriority {
			out = append(out, a)
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority() != out[j].Priority() {
			return out[i].Priority() > out[j].Priority()
		}
		return out[i].Code() < out[j].Code()
	})
	return out
}

// Codes returns all registered codes, sorted.
func (r *Registry) Codes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	codes := make([]string, 0, len(r.analyzers))
	for c := range r.analyzers {
		codes = append(codes, c)
	}
	sort.Strings(codes)
	return codes
}

// Select returns the registry restricted to codes. Unknown codes are an
// error; repeated codes are ignored.
func (r *Registry) Select(codes []string) (*Registry, error) {
	if len(codes) == 0 {
		return r, nil
	}
	sub := &Registry{analyzers: make(map[string]ResourceAnalyzer)}
	for _, c := range codes {
		if _, dup := sub.Get(c); dup {
			continue
		}
		a, ok := r.Get(c)
		if !ok {
			return nil, fmt.Errorf("unknown analyzer %q (available: %v)", c, r.Codes())
		}
		if err := sub.Register(a); err != nil {
			return nil, err
		}
	}
	return sub, nil
}
