package adapter

import (
	"context"

	"github.com/cuemby/relay/pkg/catalogue"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/types"
	"github.com/google/uuid"
)

// Null is an adapter that accepts whatever ValidateCommon accepts and
// creates jobs with an empty command whose output it ignores, grounded in
// eva/adapter/null.py's NullAdapter — useful for pipeline smoke tests and
// as a template for new adapters.
type Null struct {
	cfg Config

	Blacklist     *Blacklist
	RequiredUUIDs *RequiredUUIDs
}

// NewNull builds a Null adapter from cfg.
func NewNull(cfg Config) *Null {
	return &Null{cfg: cfg, Blacklist: NewBlacklist(), RequiredUUIDs: NewRequiredUUIDs()}
}

func (n *Null) Name() string { return n.cfg.Name }

func (n *Null) Validate(resource *types.DataInstance) bool {
	return ValidateCommon(n.cfg, n.Blacklist, n.RequiredUUIDs, resource)
}

func (n *Null) CreateJob(_ context.Context, eventID string, resource *types.DataInstance) (*types.Job, error) {
	log.WithAdapter(n.cfg.Name).Info().Str("event_id", eventID).Msg("null adapter has successfully sent the resource to /dev/null")
	return &types.Job{
		ID:              uuid.NewString(),
		AdapterConfigID: n.cfg.Name,
		CommandText:     "",
		Status:          types.JobInitialized,
		Resource:        resource,
	}, nil
}

func (n *Null) FinishJob(_ context.Context, _ *types.Job) error {
	return nil
}

func (n *Null) GenerateResources(_ context.Context, _ *types.Job, _ *catalogue.Sink) error {
	return nil
}

var _ Adapter = (*Null)(nil)
