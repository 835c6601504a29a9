package location

import (
	"context"

	"github.com/kazz187/fieldguild/pkg/cerr"
)

// Fix is a single position reading.
type Fix struct {
	Latitude  float64
	Longitude float64
	Address   string
}

// Provider produces one fix per call. Providers never retry on their own.
type Provider interface {
	Locate(ctx context.Context) (*Fix, error)
}

type ProviderFunc func(ctx context.Context) (*Fix, error)

func (f ProviderFunc) Locate(ctx context.Context) (*Fix, error) {
	return f(ctx)
}

// Static always reports the same configured fix.
type Static struct {
	fix Fix
}

func NewStatic(latitude, longitude float64, address string) *Static {
	return &Static{fix: Fix{Latitude: latitude, Longitude: longitude, Address: address}}
}

func (s *Static) Locate(ctx context.Context) (*Fix, error) {
	if err := ctx.Err(); err != nil {
		return nil, cerr.NewError(cerr.Canceled, "location request canceled", err)
	}
	fix := s.fix
	return &fix, nil
}

// Unavailable is used when the device has no positioning at all.
type Unavailable struct{}

func (Unavailable) Locate(context.Context) (*Fix, error) {
	return nil, cerr.NewError(cerr.Unavailable, "location unavailable", nil)
}
