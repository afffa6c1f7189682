package admission

import "context"

// Limiter gates task submission. Implementations must be safe for
// concurrent use; Allow is called on the submit path and must not block
// beyond its own configured timeouts.
type Limiter interface {
	// Allow reports whether one submission may be admitted now.
	Allow(ctx context.Context) bool

	// Name identifies the limiter in metrics and logs.
	Name() string

	// Close releases any resources held by the limiter.
	Close() error
}
