package preference

import "context"

type Repository interface {
	Get(ctx context.Context) (*Preference, error)
	Save(ctx context.Context, p *Preference) error
}
