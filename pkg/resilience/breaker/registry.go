package breaker

import "sync"

// Registry keys circuit breakers by executor class, creating them on
// first use with a shared configuration. Each class accumulates failures
// independently, so one misbehaving backend does not trip the circuit
// for another.
type Registry struct {
	config Config

	mu       sync.Mutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers share the given
// configuration.
func NewRegistry(config Config) *Registry {
	if config.FailureThreshold <= 0 {
		panic("breaker: failure threshold must be positive")
	}
	return &Registry{
		config:   config,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for the given executor class, creating it if
// needed. An empty class shares the "default" breaker.
func (r *Registry) Get(class string) *Breaker {
	if class == "" {
		class = "default"
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	b, ok := r.breakers[class]
	if !ok {
		b = New(r.config)
		r.breakers[class] = b
	}
	return b
}

// States returns a snapshot of each known class's current state.
func (r *Registry) States() map[string]State {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make(map[string]State, len(r.breakers))
	for class, b := range r.breakers {
		out[class] = b.State()
	}
	return out
}
