package catalogue

import (
	"context"
	"fmt"
)

// Saver walks a Sink's resources in order and persists each one through a
// Client, resolving "evaluated" (find-or-create) resources exactly once and
// caching the result for subsequent references within the same job, per
// spec.md §4.5 "Catalogue save ordering".
type Saver struct {
	client Client

	cache map[string]interface{}
}

// NewSaver builds a Saver bound to client. A fresh Saver must be used per
// job so the evaluated-resource cache doesn't leak across jobs.
func NewSaver(client Client) *Saver {
	return &Saver{client: client, cache: make(map[string]interface{})}
}

// Save persists every resource in sink, in order, returning the first error
// encountered.
func (s *Saver) Save(ctx context.Context, sink *Sink) error {
	for _, r := range sink.Resources {
		if err := s.saveOne(ctx, r); err != nil {
			return fmt.Errorf("catalogue: save %s: %w", r.Kind, err)
		}
	}
	return nil
}

func (s *Saver) saveOne(ctx context.Context, r Resource) error {
	switch r.Kind {
	case "product":
		return s.withCache("product:"+r.Product.Slug, r.Evaluated, func() (interface{}, error) {
			return s.client.FindOrCreateProduct(ctx, r.Product)
		})
	case "productinstance":
		return s.withCache("productinstance:"+r.ProductInstance.UUID, r.Evaluated, func() (interface{}, error) {
			return s.client.FindOrCreateProductInstance(ctx, r.ProductInstance)
		})
	case "data":
		return s.withCache("data:"+r.Data.UUID, r.Evaluated, func() (interface{}, error) {
			return s.client.FindOrCreateData(ctx, r.Data)
		})
	case "format":
		return s.withCache("format:"+r.Format.Name, r.Evaluated, func() (interface{}, error) {
			return s.client.FindOrCreateFormat(ctx, r.Format)
		})
	case "servicebackend":
		return s.withCache("servicebackend:"+r.ServiceBackend.Name, r.Evaluated, func() (interface{}, error) {
			return s.client.FindOrCreateServiceBackend(ctx, r.ServiceBackend)
		})
	case "datainstance":
		_, err := s.client.SaveDataInstance(ctx, r.DataInstance)
		return err
	default:
		return fmt.Errorf("unknown resource kind %q", r.Kind)
	}
}

func (s *Saver) withCache(key string, evaluated bool, resolve func() (interface{}, error)) error {
	if evaluated {
		if _, ok := s.cache[key]; ok {
			return nil
		}
	}
	value, err := resolve()
	if err != nil {
		return err
	}
	if evaluated {
		s.cache[key] = value
	}
	return nil
}
