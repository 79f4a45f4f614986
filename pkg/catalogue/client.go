// Package catalogue defines the client interface to the external product
// catalogue (spec.md §1/§3/§6): CRUD over Product, ProductInstance, Data,
// DataInstance, Format, and ServiceBackend, with find-or-create semantics
// keyed on each kind's unique tuple.
package catalogue

import (
	"context"

	"github.com/cuemby/relay/pkg/types"
)

// Client is the narrow interface relay's core needs from the catalogue.
// The concrete REST implementation and a test fake both satisfy it.
type Client interface {
	// FindOrCreateProduct matches on slug, creating the product if absent.
	FindOrCreateProduct(ctx context.Context, p *types.Product) (*types.Product, error)

	// FindOrCreateProductInstance matches on (product, reference_time, version).
	FindOrCreateProductInstance(ctx context.Context, pi *types.ProductInstance) (*types.ProductInstance, error)

	// FindOrCreateData matches on (productinstance, time_period_begin, time_period_end).
	FindOrCreateData(ctx context.Context, d *types.Data) (*types.Data, error)

	// FindOrCreateFormat matches on name.
	FindOrCreateFormat(ctx context.Context, f *types.Format) (*types.Format, error)

	// FindOrCreateServiceBackend matches on name.
	FindOrCreateServiceBackend(ctx context.Context, sb *types.ServiceBackend) (*types.ServiceBackend, error)

	// SaveDataInstance creates or updates a concrete DataInstance.
	SaveDataInstance(ctx context.Context, di *types.DataInstance) (*types.DataInstance, error)

	// GetDataInstance fetches a DataInstance by UUID.
	GetDataInstance(ctx context.Context, uuid string) (*types.DataInstance, error)

	// ListDataInstancesByProductInstance enumerates every DataInstance
	// under a ProductInstance, used by the control API's
	// POST /process/productinstance handler (spec.md §4.6).
	ListDataInstancesByProductInstance(ctx context.Context, productInstanceUUID string) ([]*types.DataInstance, error)
}

// Resource is the tagged union GenerateResources appends to its sink
// (spec.md §4.3): either an "evaluated" (find-or-create, resolved once and
// cached) resource or a "concrete" one that Saver hands to the client on
// every save, without caching.
type Resource struct {
	// Kind names which catalogue kind this resource represents:
	// "product", "productinstance", "data", "datainstance", "format",
	// "servicebackend".
	Kind string

	// Evaluated marks a find-or-create resource whose result is cached for
	// the rest of the job. Non-evaluated resources are not cached; Client
	// has no create-only operation, so every kind except "datainstance" is
	// still saved through its FindOrCreate method.
	Evaluated bool

	// Product/ProductInstance/Data/DataInstance/Format/ServiceBackend hold
	// the payload for the matching Kind; exactly one is non-nil.
	Product         *types.Product
	ProductInstance *types.ProductInstance
	Data            *types.Data
	DataInstance    *types.DataInstance
	Format          *types.Format
	ServiceBackend  *types.ServiceBackend
}

// Sink accumulates Resources in dependency order, as required by
// Adapter.GenerateResources (spec.md §4.3): ProductInstance before Data
// before DataInstance.
type Sink struct {
	Resources []Resource
}

// Append adds r to the sink, preserving insertion order.
func (s *Sink) Append(r Resource) {
	s.Resources = append(s.Resources, r)
}
