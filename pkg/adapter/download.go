package adapter

import (
	"context"
	"fmt"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cuemby/relay/pkg/catalogue"
	"github.com/cuemby/relay/pkg/relayerr"
	"github.com/cuemby/relay/pkg/types"
	"github.com/google/uuid"
)

// DownloadOptions holds Download's adapter-specific configuration,
// grounded in eva/adapter/download.py's CONFIG block.
type DownloadOptions struct {
	Destination string
	CheckHash   bool

	// OutputServiceBackend and OutputBaseURL, if both set, enable posting
	// a new DataInstance after a successful download; OutputLifetime is
	// how long after that moment the new instance expires.
	OutputServiceBackend *types.ServiceBackend
	OutputBaseURL        string
	OutputLifetime       time.Duration
}

// Download fetches a file over HTTP(S) via curl and optionally registers
// the result as a new DataInstance, grounded in eva/adapter/download.py's
// DownloadAdapter.
type Download struct {
	cfg  Config
	opts DownloadOptions

	// MetricDownloadRate, if set, is called with the observed transfer
	// rate (bytes/sec) to feed the download_rate gauge (spec.md §6).
	MetricDownloadRate func(bytesPerSec float64, serviceBackend string)

	Blacklist     *Blacklist
	RequiredUUIDs *RequiredUUIDs
}

// NewDownload builds a Download adapter from cfg and opts.
func NewDownload(cfg Config, opts DownloadOptions) *Download {
	return &Download{cfg: cfg, opts: opts, Blacklist: NewBlacklist(), RequiredUUIDs: NewRequiredUUIDs()}
}

func (d *Download) Name() string { return d.cfg.Name }

func (d *Download) Validate(resource *types.DataInstance) bool {
	return ValidateCommon(d.cfg, d.Blacklist, d.RequiredUUIDs, resource)
}

func (d *Download) CreateJob(_ context.Context, eventID string, resource *types.DataInstance) (*types.Job, error) {
	baseFilename := path.Base(resource.URL)
	destination := path.Join(d.opts.Destination, baseFilename)

	lines := []string{
		"#!/bin/bash",
		"#$ -S /bin/bash",
		fmt.Sprintf("curl --fail --output %s %s", shellQuote(destination), shellQuote(resource.URL)),
	}

	if d.opts.CheckHash && resource.Hash != "" {
		if resource.HashType == "md5" {
			lines = append(lines,
				fmt.Sprintf("echo '%s  %s' | md5sum -c -", resource.Hash, destination),
				"status=$?",
				fmt.Sprintf("if [ $status -ne 0 ]; then rm -fv %s; exit $status; fi", shellQuote(destination)),
			)
		}
	}

	job := &types.Job{
		ID:              uuid.NewString(),
		AdapterConfigID: d.cfg.Name,
		CommandText:     strings.Join(lines, "\n") + "\n",
		Status:          types.JobInitialized,
		Resource:        resource,
	}
	return job, nil
}

func (d *Download) FinishJob(_ context.Context, job *types.Job) error {
	if job.Status != types.JobComplete {
		return relayerr.NewRetryable("download", fmt.Errorf("download of %q failed", job.Resource.URL))
	}

	if bytesSec := parseBytesPerSecond(job.Stderr); bytesSec >= 0 && d.MetricDownloadRate != nil {
		backend := ""
		if d.opts.OutputServiceBackend != nil {
			backend = d.opts.OutputServiceBackend.Name
		}
		d.MetricDownloadRate(bytesSec, backend)
	}

	return nil
}

func (d *Download) GenerateResources(_ context.Context, job *types.Job, sink *catalogue.Sink) error {
	if d.opts.OutputServiceBackend == nil || d.opts.OutputBaseURL == "" {
		return nil
	}

	baseFilename := path.Base(job.Resource.URL)
	out := &types.DataInstance{
		Data:           job.Resource.Data,
		Format:         job.Resource.Format,
		ServiceBackend: d.opts.OutputServiceBackend,
		URL:            path.Join(d.opts.OutputBaseURL, baseFilename),
		Expires:        time.Now().Add(d.opts.OutputLifetime),
	}

	sink.Append(catalogue.Resource{Kind: "datainstance", DataInstance: out})
	return nil
}

// curlRateRegex matches curl/wget-style progress lines such as:
//
//	100  285M  100  285M    0     0   431M      0 --:--:-- --:--:-- --:--:--  431M
var curlRateRegex = regexp.MustCompile(`^\d+\s+\S+\s+\d+\s+\S+\s+\d+\s+\d+\s+(\d+)([A-Za-z])`)

// parseBytesPerSecond finds the transfer rate in a curl/wget progress
// stream, mirroring eva/adapter/download.py's parse_bytes_sec_from_lines.
// Returns -1 if no rate line was found.
func parseBytesPerSecond(lines []string) float64 {
	for _, line := range lines {
		if idx := strings.LastIndex(line, "\r"); idx >= 0 {
			line = line[idx+1:]
		}
		m := curlRateRegex.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		value, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return convertToBytes(value, m[2])
	}
	return -1
}

func convertToBytes(value float64, unit string) float64 {
	switch strings.ToUpper(unit) {
	case "K":
		return value * 1024
	case "M":
		return value * 1024 * 1024
	case "G":
		return value * 1024 * 1024 * 1024
	default:
		return value
	}
}

var _ Adapter = (*Download)(nil)
