package adapter

import (
	"context"
	"fmt"
	"strings"

	"github.com/cuemby/relay/pkg/catalogue"
	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/types"
	"github.com/google/uuid"
)

// Checksum verifies a downloaded file's checksum against an auxiliary
// "<file>.md5" sidecar, grounded in eva/adapter/checksum.py's
// ChecksumVerificationAdapter. Only MD5 is supported, matching the
// original.
type Checksum struct {
	cfg Config

	// MetricFailIncr, if set, is called once per failed verification to
	// feed the eva_md5sum_fail counter (spec.md §6).
	MetricFailIncr func()

	Blacklist     *Blacklist
	RequiredUUIDs *RequiredUUIDs
}

// NewChecksum builds a Checksum adapter from cfg. cfg.InputWithHash should
// be set to false (input_with_hash=NO), matching eva/adapter/checksum.py's
// mandatory guard against recursively reprocessing its own output.
func NewChecksum(cfg Config) *Checksum {
	return &Checksum{cfg: cfg, Blacklist: NewBlacklist(), RequiredUUIDs: NewRequiredUUIDs()}
}

func (c *Checksum) Name() string { return c.cfg.Name }

func (c *Checksum) Validate(resource *types.DataInstance) bool {
	return ValidateCommon(c.cfg, c.Blacklist, c.RequiredUUIDs, resource)
}

func (c *Checksum) CreateJob(_ context.Context, eventID string, resource *types.DataInstance) (*types.Job, error) {
	filename, err := URLToFilename(resource.URL)
	if err != nil {
		return nil, relayerr.NewInvalidConfiguration(err.Error())
	}
	md5Filename := filename + ".md5"

	command := strings.Join([]string{
		"set -e",
		`echo -n "eva.adapter.checksum.md5 "`,
		fmt.Sprintf("cat %s", shellQuote(md5Filename)),
		fmt.Sprintf(`printf "%%s  %s\n" $(cat %s) | md5sum --check --status --strict -`, shellQuote(filename), shellQuote(md5Filename)),
	}, "\n")

	return &types.Job{
		ID:              uuid.NewString(),
		AdapterConfigID: c.cfg.Name,
		CommandText:     command,
		Status:          types.JobInitialized,
		Resource:        resource,
	}, nil
}

func (c *Checksum) FinishJob(_ context.Context, job *types.Job) error {
	if job.Status != types.JobComplete {
		if c.MetricFailIncr != nil {
			c.MetricFailIncr()
		}
		return relayerr.NewRetryable("checksum verify", fmt.Errorf("md5sum checking of %q failed", job.Resource.URL))
	}

	hash := jobOutputMD5Sum(job.Stdout)
	if hash == "" {
		return relayerr.NewRetryable("checksum parse", fmt.Errorf("md5sum hash for %q has unexpected length", job.Resource.URL))
	}

	job.ResourceHashType = "md5"
	job.ResourceHash = hash
	return nil
}

func (c *Checksum) GenerateResources(_ context.Context, job *types.Job, sink *catalogue.Sink) error {
	job.Resource.HashType = job.ResourceHashType
	job.Resource.Hash = job.ResourceHash

	sink.Append(catalogue.Resource{
		Kind:         "datainstance",
		DataInstance: job.Resource,
	})
	return nil
}

// jobOutputMD5Sum finds the md5sum line in stdout, matching
// job_output_md5sum in eva/adapter/checksum.py.
func jobOutputMD5Sum(stdout []string) string {
	const marker = "eva.adapter.checksum.md5 "
	for _, line := range stdout {
		if !strings.HasPrefix(line, marker) {
			continue
		}
		tokens := strings.Fields(strings.TrimSpace(line))
		if len(tokens) < 2 {
			break
		}
		md5 := tokens[1]
		if len(md5) != 32 {
			break
		}
		return md5
	}
	return ""
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

var _ Adapter = (*Checksum)(nil)
