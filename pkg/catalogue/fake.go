package catalogue

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/relay/pkg/types"
)

// Fake is an in-memory Client for tests: find-or-create matches on the same
// tuple the real catalogue would, without a network round trip.
type Fake struct {
	mu sync.Mutex

	products         map[string]*types.Product
	productInstances map[string]*types.ProductInstance
	data             map[string]*types.Data
	formats          map[string]*types.Format
	serviceBackends  map[string]*types.ServiceBackend
	dataInstances    map[string]*types.DataInstance
}

// NewFake builds an empty Fake.
func NewFake() *Fake {
	return &Fake{
		products:         make(map[string]*types.Product),
		productInstances: make(map[string]*types.ProductInstance),
		data:             make(map[string]*types.Data),
		formats:          make(map[string]*types.Format),
		serviceBackends:  make(map[string]*types.ServiceBackend),
		dataInstances:    make(map[string]*types.DataInstance),
	}
}

func (f *Fake) FindOrCreateProduct(_ context.Context, p *types.Product) (*types.Product, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.products[p.Slug]; ok {
		return existing, nil
	}
	f.products[p.Slug] = p
	return p, nil
}

func (f *Fake) FindOrCreateProductInstance(_ context.Context, pi *types.ProductInstance) (*types.ProductInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	productSlug := ""
	if pi.Product != nil {
		productSlug = pi.Product.Slug
	}
	key := fmt.Sprintf("%s/%s/%s", productSlug, pi.ReferenceTime.Format("20060102T150405"), pi.Version)
	if existing, ok := f.productInstances[key]; ok {
		return existing, nil
	}
	if pi.UUID == "" {
		pi.UUID = key
	}
	f.productInstances[key] = pi
	return pi, nil
}

func (f *Fake) FindOrCreateData(_ context.Context, d *types.Data) (*types.Data, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	productInstanceUUID := ""
	if d.ProductInstance != nil {
		productInstanceUUID = d.ProductInstance.UUID
	}
	key := fmt.Sprintf("%s/%s/%s", productInstanceUUID, d.TimePeriodBegin.Format("20060102T150405"), d.TimePeriodEnd.Format("20060102T150405"))
	if existing, ok := f.data[key]; ok {
		return existing, nil
	}
	if d.UUID == "" {
		d.UUID = key
	}
	f.data[key] = d
	return d, nil
}

func (f *Fake) FindOrCreateFormat(_ context.Context, format *types.Format) (*types.Format, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.formats[format.Name]; ok {
		return existing, nil
	}
	f.formats[format.Name] = format
	return format, nil
}

func (f *Fake) FindOrCreateServiceBackend(_ context.Context, sb *types.ServiceBackend) (*types.ServiceBackend, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.serviceBackends[sb.Name]; ok {
		return existing, nil
	}
	f.serviceBackends[sb.Name] = sb
	return sb, nil
}

func (f *Fake) SaveDataInstance(_ context.Context, di *types.DataInstance) (*types.DataInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dataInstances[di.UUID] = di
	return di, nil
}

func (f *Fake) GetDataInstance(_ context.Context, uuid string) (*types.DataInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	di, ok := f.dataInstances[uuid]
	if !ok {
		return nil, fmt.Errorf("catalogue: data instance %s not found", uuid)
	}
	return di, nil
}

func (f *Fake) ListDataInstancesByProductInstance(_ context.Context, productInstanceUUID string) ([]*types.DataInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*types.DataInstance
	for _, di := range f.dataInstances {
		if di.Data != nil && di.Data.ProductInstance != nil && di.Data.ProductInstance.UUID == productInstanceUUID {
			out = append(out, di)
		}
	}
	return out, nil
}

var _ Client = (*Fake)(nil)
