package pipeline

import (
	"errors"
	"fmt"
	"sync"
)

// Sentinel errors for stage registration.
var (
	// ErrStageAlreadyRegistered is returned when registering a duplicate stage.
	ErrStageAlreadyRegistered = errors.New("stage already registered")

	// ErrStageNotFound is returned when a stage dependency is not registered.
	ErrStageNotFound = errors.New("stage not found")

	// ErrDependencyCycle is returned when stage dependencies form a cycle.
	ErrDependencyCycle = errors.New("dependency cycle detected")
)

// Registry holds the stages of one pipeline.
type Registry struct {
	mu     sync.RWMutex
	stages map[string]Stage
	order  []string // registration order
}

// NewRegistry creates an empty stage registry.
func NewRegistry() *Registry {
	return &Registry{
		stages: make(map[string]Stage),
	}
}

// Register adds a stage.
func (r *Registry) Register(s Stage) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := s.Name()
	if _, exists := r.stages[name]; exists {
		return fmt.Errorf("%w: %s", ErrStageAlreadyRegistered, name)
	}
	r.stages[name] = s
	r.order = append(r.order, name)
	return nil
}

// Get returns a stage by name.
func (r *Registry) Get(name string) (Stage, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.stages[name]
	return s, ok
}

// Names returns stage names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Ordered returns stages sorted so every stage follows its dependencies.
// Ties keep registration order.
//
// A dependency on a stage that is not registered is ignored, so an optional
// stage (OCR) can be left out without rewiring the others.
func (r *Registry) Ordered() ([]Stage, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	inDegree := make(map[string]int, len(r.order))
	for _, name := range r.order {
		inDegree[name] = 0
	}
	for _, name := range r.order {
		for _, dep := range r.stages[name].Dependencies() {
			if _, ok := r.stages[dep]; ok {
				inDegree[name]++
			}
		}
	}

	var queue []string
	for _, name := range r.order {
		if inDegree[name] == 0 {
			queue = append(queue, name)
		}
	}

	var ordered []Stage
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		ordered = append(ordered, r.stages[name])

		for _, other := range r.order {
			for _, dep := range r.stages[other].Dependencies() {
				if dep == name {
					inDegree[other]--
					if inDegree[other] == 0 {
						queue = append(queue, other)
					}
				}
			}
		}
	}

	if len(ordered) != len(r.stages) {
		return nil, ErrDependencyCycle
	}
	return ordered, nil
}

// Validate checks that every dependency is registered and there is no cycle.
func (r *Registry) Validate() error {
	r.mu.RLock()
	for name, stage := range r.stages {
		for _, dep := range stage.Dependencies() {
			if _, ok := r.stages[dep]; !ok {
				r.mu.RUnlock()
				return fmt.Errorf("%w: stage %q depends on %q", ErrStageNotFound, name, dep)
			}
		}
	}
	r.mu.RUnlock()

	_, err := r.Ordered()
	return err
}
