package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/cuemby/relay/pkg/adapter"
	"github.com/cuemby/relay/pkg/bus"
	"github.com/cuemby/relay/pkg/catalogue"
	"github.com/cuemby/relay/pkg/config"
	"github.com/cuemby/relay/pkg/coordination"
	"github.com/cuemby/relay/pkg/eventloop"
	"github.com/cuemby/relay/pkg/executor"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/mail"
	"github.com/cuemby/relay/pkg/metrics"
	"github.com/cuemby/relay/pkg/queue"
	"github.com/cuemby/relay/pkg/retry"
	"github.com/cuemby/relay/pkg/types"
)

// App holds every long-lived component buildApp constructs from a config
// file, ready for run.go to serve and tear down (spec.md §9 "Globe" —
// a value threaded through constructors rather than process-global state).
type App struct {
	loop      *eventloop.Loop
	queue     *queue.EventQueue
	store     coordination.Store
	listeners []bus.Listener
	statsd    *metrics.StatsdSink
}

// Close releases every closeable resource the app constructed.
func (a *App) Close() {
	for _, l := range a.listeners {
		_ = l.Close()
	}
	if a.store != nil {
		_ = a.store.Close()
	}
	if a.statsd != nil {
		_ = a.statsd.Close()
	}
}

func loadConfigFile(path string) (*config.File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %s: %w", path, err)
	}
	defer f.Close()
	return config.Parse(f)
}

// buildApp reads path and constructs the catalogue client, coordination
// store, bus listeners, adapter/executor bindings, and event loop it
// describes, per spec.md §6's "<kind>.<name>" sectioned config format.
//
// Recognised kinds: "catalogue.<name>" (class: "http" or "fake"),
// "coordination.<name>" (class: "bolt" or "memory"), "bus.<name>" (class:
// "inmemory" or "redisstream"), "executor.<name>" (class: "localshell" or
// "gridengine"), "adapter.<name>" (class: "null", "download", "checksum",
// or "delete"; option "executor=" names the executor section it submits
// to, resolved two-pass per spec.md §9 "config_class"), "mail.<name>", and
// a singleton "eventloop.main" section.
func buildApp(path string) (*App, error) {
	file, err := loadConfigFile(path)
	if err != nil {
		return nil, err
	}

	catalogueClient, err := buildCatalogue(file)
	if err != nil {
		return nil, err
	}

	store, err := buildCoordination(file)
	if err != nil {
		return nil, err
	}

	listeners, err := buildListeners(file)
	if err != nil {
		return nil, err
	}

	executors, err := buildExecutors(file)
	if err != nil {
		return nil, err
	}

	registry := adapter.DefaultRegistry()
	bindings, err := buildBindings(file, registry, executors, store)
	if err != nil {
		return nil, err
	}

	mailer, err := buildMailer(file)
	if err != nil {
		return nil, err
	}

	statsd, err := buildStatsd(file)
	if err != nil {
		return nil, err
	}

	q := queue.New(store)
	dropped, err := q.Recover(context.Background(), func(adapterConfigID string) bool {
		_, ok := bindings[adapterConfigID]
		return ok
	})
	if err != nil {
		return nil, fmt.Errorf("recover event queue: %w", err)
	}
	for _, eventID := range dropped {
		log.Logger.Warn().Str("event_id", eventID).Msg("dropped recovered event: adapter no longer configured")
	}

	cfg := buildLoopConfig(file, mailer)
	loop := eventloop.New(cfg, listeners, q, catalogueClient, bindings)

	return &App{loop: loop, queue: q, store: store, listeners: listeners, statsd: statsd}, nil
}

// buildStatsd dials the optional "metrics.statsd" section's UDP sink
// (spec.md §6 ambient "Metrics Sink"); absent a configured section, relay
// relies on the Prometheus /metrics endpoint alone.
func buildStatsd(file *config.File) (*metrics.StatsdSink, error) {
	key, ok := firstSectionOfKind(file, "metrics")
	if !ok {
		return nil, nil
	}
	opts, err := file.Resolve(key)
	if err != nil {
		return nil, err
	}
	class, _ := file.ClassOf(key)
	if class != "statsd" || opts["addr"] == "" {
		return nil, nil
	}
	sink, err := metrics.NewStatsdSink(opts["addr"], opts["prefix"])
	if err != nil {
		return nil, fmt.Errorf("config: metrics %s: %w", key, err)
	}
	return sink, nil
}

func buildLoopConfig(file *config.File, mailer mail.Sender) eventloop.Config {
	opts, _ := file.Resolve("eventloop.main")

	concurrency := 10
	if v, err := config.PositiveInt(opts["concurrency"]); err == nil && v > 0 {
		concurrency = v
	}

	strategy := queue.StrategyFIFO
	switch opts["sort_strategy"] {
	case "lifo":
		strategy = queue.StrategyLIFO
	case "adaptive":
		strategy = queue.StrategyAdaptive
	}

	threshold := 7 * 24 * time.Hour
	if opts["message_timestamp_threshold"] != "" {
		if d, err := time.ParseDuration(opts["message_timestamp_threshold"]); err == nil {
			threshold = d
		}
	}

	heartbeatInterval := time.Second
	heartbeatTimeout := 10 * time.Second
	if d, err := time.ParseDuration(opts["heartbeat_interval"]); err == nil {
		heartbeatInterval = d
	}
	if d, err := time.ParseDuration(opts["heartbeat_timeout"]); err == nil {
		heartbeatTimeout = d
	}

	policy := retry.DefaultPolicy()
	if v, err := config.Int(opts["retry_warn_at"]); err == nil && v != nil {
		policy.WarnAt = *v
	}
	if v, err := config.Int(opts["retry_err_at"]); err == nil && v != nil {
		policy.ErrAt = *v
	}
	if v, err := config.Int(opts["retry_give_up"]); err == nil && v != nil {
		policy.GiveUp = *v
	}
	if d, err := time.ParseDuration(opts["retry_interval"]); err == nil {
		policy.Interval = d
	}

	return eventloop.Config{
		Concurrency:               concurrency,
		SortStrategy:              strategy,
		MessageTimestampThreshold: threshold,
		HeartbeatInterval:         heartbeatInterval,
		HeartbeatTimeout:          heartbeatTimeout,
		Mailer:                    mailer,
		RetryPolicy:               policy,
	}
}

func buildCatalogue(file *config.File) (catalogue.Client, error) {
	key, ok := firstSectionOfKind(file, "catalogue")
	if !ok {
		return catalogue.NewFake(), nil
	}
	opts, err := file.Resolve(key)
	if err != nil {
		return nil, err
	}
	class, _ := file.ClassOf(key)
	switch class {
	case "fake", "":
		return catalogue.NewFake(), nil
	case "http":
		return catalogue.NewHTTPClient(opts["base_url"], opts["api_key"]), nil
	default:
		return nil, fmt.Errorf("config: unknown catalogue class %q", class)
	}
}

func buildCoordination(file *config.File) (coordination.Store, error) {
	key, ok := firstSectionOfKind(file, "coordination")
	if !ok {
		return coordination.NewMemoryStore(), nil
	}
	opts, err := file.Resolve(key)
	if err != nil {
		return nil, err
	}
	class, _ := file.ClassOf(key)
	switch class {
	case "memory", "":
		return coordination.NewMemoryStore(), nil
	case "bolt":
		return coordination.NewBoltStore(opts["db_path"])
	default:
		return nil, fmt.Errorf("config: unknown coordination class %q", class)
	}
}

func buildListeners(file *config.File) ([]bus.Listener, error) {
	keys := sectionsOfKind(file, "bus")
	if len(keys) == 0 {
		return []bus.Listener{bus.NewInMemory(64)}, nil
	}

	var listeners []bus.Listener
	for _, key := range keys {
		opts, err := file.Resolve(key)
		if err != nil {
			return nil, err
		}
		class, _ := file.ClassOf(key)
		switch class {
		case "inmemory", "":
			buffer := 64
			if v, err := config.PositiveInt(opts["buffer"]); err == nil && v > 0 {
				buffer = v
			}
			listeners = append(listeners, bus.NewInMemory(buffer))
		case "redisstream":
			blockFor := 5 * time.Second
			if d, err := time.ParseDuration(opts["block_for"]); err == nil {
				blockFor = d
			}
			listener, err := bus.NewRedisStream(context.Background(), bus.RedisStreamConfig{
				Addr:     opts["addr"],
				Stream:   opts["stream"],
				Group:    opts["group"],
				Consumer: opts["consumer"],
				BlockFor: blockFor,
			})
			if err != nil {
				return nil, fmt.Errorf("config: bus %s: %w", key, err)
			}
			listeners = append(listeners, listener)
		default:
			return nil, fmt.Errorf("config: unknown bus class %q", class)
		}
	}
	return listeners, nil
}

func buildExecutors(file *config.File) (map[string]executor.Executor, error) {
	executors := make(map[string]executor.Executor)
	for _, key := range sectionsOfKind(file, "executor") {
		opts, err := file.Resolve(key)
		if err != nil {
			return nil, err
		}
		name := sectionName(key)
		class, _ := file.ClassOf(key)
		switch class {
		case "null":
			executors[name] = executor.NewNull(name)
		case "localshell", "":
			workDir := opts["work_dir"]
			if workDir == "" {
				workDir = os.TempDir()
			}
			executors[name] = executor.NewLocalShell(name, workDir)
		case "gridengine":
			keyPEM, err := os.ReadFile(opts["key_file"])
			if err != nil {
				return nil, fmt.Errorf("config: executor %s: read key file: %w", key, err)
			}
			ge, err := executor.NewGridEngine(name, executor.GridEngineConfig{
				Hosts:   config.ListString(opts["hosts"]),
				User:    opts["user"],
				KeyFile: opts["key_file"],
				Queue:   opts["queue"],
				GroupID: opts["group_id"],
			}, keyPEM)
			if err != nil {
				return nil, fmt.Errorf("config: executor %s: %w", key, err)
			}
			executors[name] = ge
		default:
			return nil, fmt.Errorf("config: unknown executor class %q", class)
		}
	}
	if len(executors) == 0 {
		executors["default"] = executor.NewNull("default")
	}
	return executors, nil
}

func buildBindings(file *config.File, registry *adapter.Registry, executors map[string]executor.Executor, store coordination.Store) (map[string]*eventloop.Binding, error) {
	bindings := make(map[string]*eventloop.Binding)

	for _, key := range sectionsOfKind(file, "adapter") {
		opts, err := file.Resolve(key)
		if err != nil {
			return nil, err
		}
		name := sectionName(key)
		class, _ := file.ClassOf(key)

		cfg := adapter.Config{
			Name:                name,
			InputProduct:        config.ListString(opts["input_product"]),
			InputServiceBackend: config.ListString(opts["input_service_backend"]),
			InputDataFormat:     config.ListString(opts["input_data_format"]),
		}
		if hours, err := config.ListInt(opts["input_reference_hours"]); err == nil {
			cfg.InputReferenceHours = hours
		}
		switch strings.ToLower(opts["input_partial"]) {
		case "only":
			cfg.InputPartial = types.PartialOnly
		case "both":
			cfg.InputPartial = types.PartialBoth
		default:
			cfg.InputPartial = types.PartialNo
		}
		if v, err := config.NullBool(opts["input_with_hash"]); err == nil {
			cfg.InputWithHash = v
		}
		if opts["reference_time_threshold"] != "" {
			if v, err := config.PositiveInt(opts["reference_time_threshold"]); err == nil {
				cfg.ReferenceTimeThreshold = time.Duration(v) * time.Second
			}
		}
		if v, err := config.PositiveInt(opts["max_concurrency"]); err == nil {
			cfg.MaxConcurrency = v
		}
		if v, err := config.Bool(opts["single_instance"]); err == nil {
			cfg.SingleInstance = v
		}

		options := buildAdapterOptions(class, opts)
		built, err := registry.Build(class, cfg, options)
		if err != nil {
			return nil, fmt.Errorf("config: adapter %s: %w", key, err)
		}

		if cfg.SingleInstance {
			lockPath := "/single_instance_lock/" + name
			if err := store.CreateEphemeral(lockPath, []byte(mustHostname())); err != nil {
				return nil, fmt.Errorf("config: adapter %s: acquire single-instance lock: %w", key, err)
			}
		}

		execName := opts["executor"]
		exec, ok := executors[execName]
		if !ok {
			return nil, fmt.Errorf("config: adapter %s: unknown executor %q", key, execName)
		}

		bindings[name] = &eventloop.Binding{
			Adapter:        built,
			Executor:       exec,
			MaxConcurrency: cfg.MaxConcurrency,
		}
	}

	return bindings, nil
}

func buildAdapterOptions(class string, opts map[string]string) map[string]interface{} {
	options := make(map[string]interface{})
	switch class {
	case "download":
		options["destination"] = opts["destination"]
		if v, err := config.Bool(opts["check_hash"]); err == nil {
			options["check_hash"] = v
		} else {
			options["check_hash"] = true
		}
	case "delete":
		if v, err := config.PositiveInt(opts["instance_max"]); err == nil {
			options["instance_max"] = v
		}
	}
	return options
}

func buildMailer(file *config.File) (mail.Sender, error) {
	key, ok := firstSectionOfKind(file, "mail")
	if !ok {
		return mail.NullSender{}, nil
	}
	opts, err := file.Resolve(key)
	if err != nil {
		return nil, err
	}
	if opts["smtp_host"] == "" {
		return mail.NullSender{}, nil
	}
	return mail.NewSMTPSender(opts["group_id"], opts["smtp_host"], opts["mail_from"], config.ListString(opts["recipients"])), nil
}

// firstSectionOfKind returns the first non-abstract "<kind>.<name>"
// section, for singleton components (catalogue, coordination, mail).
func firstSectionOfKind(file *config.File, kind string) (string, bool) {
	keys := sectionsOfKind(file, kind)
	if len(keys) == 0 {
		return "", false
	}
	return keys[0], true
}

// sectionsOfKind returns every non-abstract, non-defaults section whose
// "<kind>." prefix matches kind, in file order.
func sectionsOfKind(file *config.File, kind string) []string {
	prefix := kind + "."
	var out []string
	for _, key := range file.Sections() {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if strings.HasPrefix(key, "defaults.") {
			continue
		}
		if file.IsAbstract(key) {
			continue
		}
		out = append(out, key)
	}
	return out
}

// sectionName returns the "<name>" portion of a "<kind>.<name>" section key.
func sectionName(key string) string {
	if idx := strings.Index(key, "."); idx >= 0 {
		return key[idx+1:]
	}
	return key
}
