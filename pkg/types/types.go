// Package types defines the core data structures shared across relay:
// the catalogue resource tree, events, event queue items, and jobs.
package types

import "time"

// Partial describes how an adapter should treat the DataInstance.Partial flag.
type Partial string

const (
	PartialNo   Partial = "no"
	PartialOnly Partial = "only"
	PartialBoth Partial = "both"
)

// Product is the root of the catalogue resource tree.
type Product struct {
	UUID string
	Name string
	Slug string
}

// ProductInstance is one reference-time/version instance of a Product.
type ProductInstance struct {
	UUID          string
	Product       *Product
	ReferenceTime time.Time
	Version       string
}

// Data is a time-windowed slice of a ProductInstance.
type Data struct {
	UUID            string
	ProductInstance *ProductInstance
	TimePeriodBegin time.Time
	TimePeriodEnd   time.Time
}

// ServiceBackend names a storage/distribution backend (e.g. "opdata", "lustre").
type ServiceBackend struct {
	UUID string
	Name string
}

// Format names a file/data format (e.g. "netcdf", "grib").
type Format struct {
	UUID string
	Name string
}

// DataInstance is the catalogue's event-bearing leaf resource: a concrete
// file at a service backend.
type DataInstance struct {
	UUID           string
	Data           *Data
	Format         *Format
	ServiceBackend *ServiceBackend
	URL            string
	Hash           string
	HashType       string
	Expires        time.Time
	Partial        bool
	Deleted        bool
}

// ReferenceTime returns the reference time of the instance's product instance,
// or the zero time if the chain is incomplete.
func (d *DataInstance) ReferenceTime() time.Time {
	if d == nil || d.Data == nil || d.Data.ProductInstance == nil {
		return time.Time{}
	}
	return d.Data.ProductInstance.ReferenceTime
}

// ProductUUID returns the UUID of the owning product, or "" if the chain is
// incomplete.
func (d *DataInstance) ProductUUID() string {
	if d == nil || d.Data == nil || d.Data.ProductInstance == nil || d.Data.ProductInstance.Product == nil {
		return ""
	}
	return d.Data.ProductInstance.Product.UUID
}

// FormatName returns the format name, or "" if unset.
func (d *DataInstance) FormatName() string {
	if d == nil || d.Format == nil {
		return ""
	}
	return d.Format.Name
}

// ServiceBackendName returns the backend name, or "" if unset.
func (d *DataInstance) ServiceBackendName() string {
	if d == nil || d.ServiceBackend == nil {
		return ""
	}
	return d.ServiceBackend.Name
}

// EventKind distinguishes how an Event entered the pipeline.
type EventKind string

const (
	// EventKindBus is a normal ingress event read from the message bus.
	EventKindBus EventKind = "bus"
	// EventKindLocal is a re-queue injected through the control API.
	EventKindLocal EventKind = "local"
	// EventKindRPC is a control message; it bypasses adapter filters.
	EventKindRPC EventKind = "rpc"
)

// Event is an immutable record of one bus/local/rpc notification.
type Event struct {
	ID              string
	Kind            EventKind
	RawMessage      []byte
	Resource        *DataInstance
	Timestamp       time.Time
	ProtocolVersion string
	// Adapter names the adapter a local/rpc event is addressed to; empty
	// for bus events, which are matched against every configured adapter.
	Adapter string
}

// JobStatus is a state in the per-job state machine (spec.md §4.2).
type JobStatus string

const (
	JobInitialized JobStatus = "INITIALIZED"
	JobStarted     JobStatus = "STARTED"
	JobRunning     JobStatus = "RUNNING"
	JobComplete    JobStatus = "COMPLETE"
	JobFailed      JobStatus = "FAILED"
)

// Terminal reports whether status is one from which no further poll occurs.
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

// Job is a per-task record produced by an Adapter and driven by an Executor.
type Job struct {
	ID               string
	AdapterConfigID  string
	CommandText      string
	Status           JobStatus
	ExitCode         int
	Stdout           []string
	Stderr           []string
	PID              int
	SubmitScriptPath string
	StdoutPath       string
	StderrPath       string
	NextPollAt       time.Time
	Resource         *DataInstance
	FailureCount     int
	CreatedAt        time.Time
	StartedAt        time.Time
	FinishedAt       time.Time

	// ResourceHash/ResourceHashType are populated by Adapter.FinishJob
	// (e.g. the checksum adapter) and consumed by GenerateResources.
	ResourceHash     string
	ResourceHashType string
}
