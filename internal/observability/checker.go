package observability

import "context"

// Checker is implemented by components that participate in the readiness
// probe. Name labels the component in the probe response.
type Checker interface {
	Name() string
	Check(ctx context.Context) error
}
