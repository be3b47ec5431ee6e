package port

import (
	"context"

	"github.com/govvens/visitor-tracking/internal/core/domain"
)

// GeoLocator resolves coarse geolocation for an IP address.
// Implementations never fail; an empty GeoInfo means unknown.
type GeoLocator interface {
	Lookup(ctx context.Context, ip string) domain.GeoInfo
}
