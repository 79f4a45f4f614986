package adapter

import (
	"context"
	"fmt"
	"os"

	"github.com/cuemby/relay/pkg/catalogue"
	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/types"
	"github.com/google/uuid"
)

// DeleteOptions configures Delete, grounded in eva/adapter/delete.py's
// EVA_DELETE_INSTANCE_MAX option.
type DeleteOptions struct {
	// InstanceMax bounds how many expired DataInstances are removed per
	// triggering event, to avoid hammering the catalogue.
	InstanceMax int
}

// Delete removes expired files from the file system, grounded in
// eva/adapter/delete.py's DeleteAdapter. CreateJob asks Expired for the
// expired DataInstances under the event's product and records their URLs
// as the job's Stdout; FinishJob unlinks the file behind each file:// URL.
// The catalogue entries of the removed files are not updated.
type Delete struct {
	cfg  Config
	opts DeleteOptions

	// Expired, given a product UUID, returns DataInstances with
	// expires <= now, newest first, capped at opts.InstanceMax — the
	// catalogue query eva/adapter/delete.py performs before unlinking.
	Expired func(ctx context.Context, productUUID string) ([]*types.DataInstance, error)

	unlink func(path string) error

	Blacklist     *Blacklist
	RequiredUUIDs *RequiredUUIDs
}

// NewDelete builds a Delete adapter from cfg and opts.
func NewDelete(cfg Config, opts DeleteOptions) *Delete {
	return &Delete{cfg: cfg, opts: opts, unlink: os.Remove, Blacklist: NewBlacklist(), RequiredUUIDs: NewRequiredUUIDs()}
}

func (d *Delete) Name() string { return d.cfg.Name }

func (d *Delete) Validate(resource *types.DataInstance) bool {
	return ValidateCommon(d.cfg, d.Blacklist, d.RequiredUUIDs, resource)
}

func (d *Delete) CreateJob(ctx context.Context, eventID string, resource *types.DataInstance) (*types.Job, error) {
	productUUID := resource.ProductUUID()

	var targets []*types.DataInstance
	if d.Expired != nil {
		expired, err := d.Expired(ctx, productUUID)
		if err != nil {
			return nil, relayerr.NewRetryable("delete: list expired", err)
		}
		max := d.opts.InstanceMax
		if max > 0 && len(expired) > max {
			expired = expired[:max]
		}
		targets = expired
	}

	if len(targets) == 0 {
		return nil, relayerr.NewJobNotGenerated("no expired data instances found")
	}

	job := &types.Job{
		ID:              uuid.NewString(),
		AdapterConfigID: d.cfg.Name,
		Status:          types.JobInitialized,
		Resource:        resource,
	}
	job.Stdout = make([]string, 0, len(targets))
	for _, di := range targets {
		job.Stdout = append(job.Stdout, di.URL)
	}
	return job, nil
}

func (d *Delete) FinishJob(_ context.Context, job *types.Job) error {
	for _, url := range job.Stdout {
		filename, err := URLToFilename(url)
		if err != nil {
			continue
		}
		if err := d.unlink(filename); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return relayerr.NewRetryable("delete: unlink", fmt.Errorf("%s: %w", filename, err))
		}
	}
	return nil
}

func (d *Delete) GenerateResources(_ context.Context, _ *types.Job, _ *catalogue.Sink) error {
	return nil
}

var _ Adapter = (*Delete)(nil)
