package intent

import "context"

// Store abstracts persistence of intent records. Every operation is atomic
// with respect to a single record; serialisation of transitions on the same
// id is the engine's job, not the store's.
type Store interface {
	Create(ctx context.Context, in *Intent) error
	Get(ctx context.Context, id string) (*Intent, error)
	Update(ctx context.Context, in *Intent) error
	Delete(ctx context.Context, id string) error
	List(ctx context.Context, opts ListOptions) ([]*Intent, error)
	Stats(ctx context.Context, opts ListOptions) (IntentStats, error)
	Close() error
}
