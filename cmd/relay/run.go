package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/cuemby/relay/pkg/controlapi"
	"github.com/cuemby/relay/pkg/log"
	"github.com/cuemby/relay/pkg/metrics"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the relay event loop until shutdown",
	RunE:  runRelay,
}

func init() {
	runCmd.Flags().StringP("config", "c", "relay.conf", "Path to the INI-style configuration file")
	runCmd.Flags().String("listen", "127.0.0.1:8080", "Control API / metrics listen address")
}

func runRelay(cmd *cobra.Command, _ []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	listenAddr, _ := cmd.Flags().GetString("listen")

	app, err := buildApp(configPath)
	if err != nil {
		return err
	}
	defer app.Close()

	log.Logger.Info().Str("config", configPath).Msg("relay starting")

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	control := controlapi.New(app.loop)
	mux.Handle("/health", control)
	mux.Handle("/control/", control)
	mux.Handle("/process/", control)

	server := &http.Server{Addr: listenAddr, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Logger.Error().Err(err).Msg("control API server stopped")
		}
	}()
	log.Logger.Info().Str("addr", listenAddr).Msg("control API and metrics endpoints listening")

	metrics.RegisterComponent("mirror", true, "recovered")
	metrics.RegisterComponent("bus", true, "listening")
	metrics.RegisterComponent("catalogue", true, "reachable")

	collector := metrics.NewCollector(app.queue)
	if app.statsd != nil {
		collector.WithStatsdSink(app.statsd)
	}
	collector.Start()
	defer collector.Stop()

	ctx, cancel := signalContext()
	defer cancel()

	runErr := app.loop.Run(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)

	if runErr != nil && runErr != context.Canceled {
		log.Logger.Error().Err(runErr).Msg("event loop exited with error")
		return runErr
	}
	log.Logger.Info().Msg("relay stopped")
	return nil
}

var validateConfigCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Parse and resolve the configuration file without starting the loop",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("config")
		file, err := loadConfigFile(path)
		if err != nil {
			return err
		}
		for _, section := range file.Sections() {
			if file.IsAbstract(section) {
				continue
			}
			resolved, err := file.Resolve(section)
			if err != nil {
				return err
			}
			log.Logger.Info().Str("section", section).
				Interface("options", redactedOptions(resolved)).
				Msg("resolved config section")
		}
		return nil
	},
}

func init() {
	validateConfigCmd.Flags().StringP("config", "c", "relay.conf", "Path to the INI-style configuration file")
}

func redactedOptions(opts map[string]string) map[string]string {
	return log.RedactSecrets(opts)
}

func mustHostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "unknown"
	}
	return h
}
