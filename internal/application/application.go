// Package application holds the contract shared by this service's use cases.
package application

import "context"

// UseCase is one application operation: a command in, a result out, with the
// context bounding every blocking collaborator call. The checkout coordinator
// is the primary implementation.
type UseCase[C any, R any] interface {
	Execute(ctx context.Context, cmd C) (R, error)
}
