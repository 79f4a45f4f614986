// Package adapter defines the Adapter contract (spec.md §4.3) — the
// pluggable per-use-case logic that filters catalogue resources, turns
// them into jobs, and turns finished jobs back into catalogue resources —
// grounded in the original implementation's eva/base/adapter.py
// BaseAdapter and its concrete eva/adapter/*.py subclasses.
package adapter

import (
	"context"
	"time"

	"github.com/cuemby/relay/pkg/catalogue"
	"github.com/cuemby/relay/pkg/types"
)

// Config is the generic, typed option bag an adapter instance is built
// from (spec.md §6 "Configuration file"); concrete adapters type-assert
// the options they need.
type Config struct {
	// Name is this adapter instance's section key (e.g. "download").
	Name string

	// InputProduct/InputServiceBackend/InputDataFormat/InputReferenceHours
	// are allow-lists; an empty list matches everything, per
	// in_array_or_empty in eva/base/adapter.py.
	InputProduct         []string
	InputServiceBackend  []string
	InputDataFormat      []string
	InputReferenceHours  []int

	// InputPartial governs how the partial flag is treated.
	InputPartial types.Partial

	// InputWithHash narrows matching by hash presence, mirroring
	// EVA_INPUT_WITH_HASH: nil means don't care, true requires a hash to
	// be present, false requires it to be absent (e.g. the checksum
	// adapter must be configured with this =false to avoid processing its
	// own output and looping forever).
	InputWithHash *bool

	// ReferenceTimeThreshold, if non-zero, rejects resources whose
	// product instance reference_time is older than now minus this
	// duration, mirroring EVA_REFERENCE_TIME_THRESHOLD. Zero disables the
	// check.
	ReferenceTimeThreshold time.Duration

	// MaxConcurrency bounds this adapter's own active job count
	// (spec.md §4.1 invariants).
	MaxConcurrency int

	// SingleInstance, if set, requires acquiring an ephemeral
	// coordination-store lock at startup (spec.md §4.3).
	SingleInstance bool

	// Options carries adapter-specific typed values decoded by
	// pkg/config.
	Options map[string]interface{}
}

// Adapter is a stateless (after init) collaborator mapping catalogue
// resources to jobs and back.
type Adapter interface {
	// Name returns the adapter's configured instance name.
	Name() string

	// Validate applies the filter chain from eva/base/adapter.py's
	// resource_matches_input_config: product/backend/format/reference-hour
	// allow-lists, partial policy, deleted/blacklist checks, and the
	// required-UUID narrow-cast.
	Validate(resource *types.DataInstance) bool

	// CreateJob synthesises a Job from an admitted event and resource.
	// A nil job with a nil error means "no-op, drop the event silently".
	CreateJob(ctx context.Context, eventID string, resource *types.DataInstance) (*types.Job, error)

	// FinishJob post-processes a job that reached a terminal executor
	// state, enriching it from captured stdout/stderr.
	FinishJob(ctx context.Context, job *types.Job) error

	// GenerateResources appends catalogue resources derived from a
	// finished job to sink, in dependency order.
	GenerateResources(ctx context.Context, job *types.Job, sink *catalogue.Sink) error
}

// Blacklist tracks UUIDs an adapter has been told to ignore, grounded on
// BaseAdapter.blacklist_add/is_blacklisted.
type Blacklist struct {
	uuids map[string]bool
}

// NewBlacklist builds an empty Blacklist.
func NewBlacklist() *Blacklist {
	return &Blacklist{uuids: make(map[string]bool)}
}

// Add marks uuid as blacklisted.
func (b *Blacklist) Add(uuid string) {
	b.uuids[uuid] = true
}

// Contains reports whether uuid is blacklisted.
func (b *Blacklist) Contains(uuid string) bool {
	return b.uuids[uuid]
}

// RequiredUUIDs narrows matching to resources related to a specific set of
// UUIDs, grounded on BaseAdapter.required_uuids/is_in_required_uuids/
// datainstance_has_required_uuids: an RPC control message can temporarily
// restrict an adapter to only the DataInstance/Data/ProductInstance/
// Product/Format/ServiceBackend UUIDs it names. Empty means unrestricted.
type RequiredUUIDs struct {
	uuids map[string]bool
}

// NewRequiredUUIDs builds an empty (unrestricted) RequiredUUIDs set.
func NewRequiredUUIDs() *RequiredUUIDs {
	return &RequiredUUIDs{uuids: make(map[string]bool)}
}

// Add restricts matching to include uuid's relationships.
func (r *RequiredUUIDs) Add(uuid string) {
	r.uuids[uuid] = true
}

// Remove lifts the restriction on uuid.
func (r *RequiredUUIDs) Remove(uuid string) {
	delete(r.uuids, uuid)
}

// Clear lifts every restriction, returning to "matches everything".
func (r *RequiredUUIDs) Clear() {
	r.uuids = make(map[string]bool)
}

// Empty reports whether no UUIDs are required, i.e. the narrow-cast is
// inactive and every resource passes this filter.
func (r *RequiredUUIDs) Empty() bool {
	return len(r.uuids) == 0
}

// contains reports whether id is one of the required UUIDs.
func (r *RequiredUUIDs) contains(id string) bool {
	return id != "" && r.uuids[id]
}

// Matches reports whether resource is related to at least one required
// UUID, mirroring datainstance_has_required_uuids. An empty set always
// matches (narrow-cast inactive).
func (r *RequiredUUIDs) Matches(resource *types.DataInstance) bool {
	if r == nil || r.Empty() {
		return true
	}
	if r.contains(resource.UUID) {
		return true
	}
	if resource.Format != nil && r.contains(resource.Format.UUID) {
		return true
	}
	if resource.ServiceBackend != nil && r.contains(resource.ServiceBackend.UUID) {
		return true
	}
	if resource.Data == nil {
		return false
	}
	if r.contains(resource.Data.UUID) {
		return true
	}
	pi := resource.Data.ProductInstance
	if pi == nil {
		return false
	}
	if r.contains(pi.UUID) {
		return true
	}
	return pi.Product != nil && r.contains(pi.Product.UUID)
}

// InArrayOrEmpty reports whether allowed is empty (matches everything) or
// contains value, mirroring eva.in_array_or_empty / BaseAdapter.in_array_or_empty.
func InArrayOrEmpty(value string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, v := range allowed {
		if v == value {
			return true
		}
	}
	return false
}

// InArrayOrEmptyInt is InArrayOrEmpty specialised for int allow-lists
// (used for the reference-hour filter).
func InArrayOrEmptyInt(value int, allowed []int) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, v := range allowed {
		if v == value {
			return true
		}
	}
	return false
}

// ValidateCommon runs the shared filter chain from
// resource_matches_input_config (plus resource_matches_hash_config and the
// required-UUIDs narrow-cast, spec.md §4.3), independent of any specific
// adapter's extra rules. Concrete adapters call this first in their own
// Validate.
func ValidateCommon(cfg Config, blacklist *Blacklist, requiredUUIDs *RequiredUUIDs, resource *types.DataInstance) bool {
	if resource == nil {
		return false
	}
	if resource.Deleted {
		return false
	}
	if !InArrayOrEmpty(productSlug(resource), cfg.InputProduct) {
		return false
	}
	if !InArrayOrEmpty(resource.ServiceBackendName(), cfg.InputServiceBackend) {
		return false
	}
	if !InArrayOrEmpty(resource.FormatName(), cfg.InputDataFormat) {
		return false
	}
	if !InArrayOrEmptyInt(resource.ReferenceTime().Hour(), cfg.InputReferenceHours) {
		return false
	}

	switch cfg.InputPartial {
	case types.PartialNo:
		if resource.Partial {
			return false
		}
	case types.PartialOnly:
		if !resource.Partial {
			return false
		}
	case types.PartialBoth:
		// no restriction
	}

	if cfg.InputWithHash != nil {
		hasHash := resource.Hash != ""
		if *cfg.InputWithHash != hasHash {
			return false
		}
	}

	if cfg.ReferenceTimeThreshold > 0 {
		boundary := time.Now().Add(-cfg.ReferenceTimeThreshold)
		if resource.ReferenceTime().Before(boundary) {
			return false
		}
	}

	if blacklist != nil {
		if blacklist.Contains(resource.UUID) {
			return false
		}
		if resource.Data != nil {
			if blacklist.Contains(resource.Data.UUID) {
				return false
			}
			if resource.Data.ProductInstance != nil && blacklist.Contains(resource.Data.ProductInstance.UUID) {
				return false
			}
		}
	}

	if !requiredUUIDs.Matches(resource) {
		return false
	}

	return true
}

func productSlug(resource *types.DataInstance) string {
	if resource == nil || resource.Data == nil || resource.Data.ProductInstance == nil || resource.Data.ProductInstance.Product == nil {
		return ""
	}
	return resource.Data.ProductInstance.Product.Slug
}
