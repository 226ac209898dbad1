package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/helios/internal/healthmon"
	"github.com/cuemby/helios/internal/supervisor"
	"github.com/cuemby/helios/pkg/external"
	"github.com/cuemby/helios/pkg/log"
	"github.com/cuemby/helios/pkg/metrics"
	"github.com/cuemby/helios/pkg/types"
	"github.com/cuemby/helios/pkg/workerclient"
	"github.com/spf13/cobra"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "helios",
	Short:   "Helios - control plane for a distributed model-serving cluster",
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("Helios version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("supervisor", "127.0.0.1:9000", "Supervisor address")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(modelCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOut, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envDurationOrDefault(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func selfSample() types.CPUMemStatus {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return types.CPUMemStatus{
		UsagePercent: 0,
		TotalMemory:  int64(m.Sys),
		UsedMemory:   int64(m.Alloc),
	}
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the supervisor",
	RunE: func(cmd *cobra.Command, args []string) error {
		listenAddr, _ := cmd.Flags().GetString("listen")
		metricsAddr, _ := cmd.Flags().GetString("metrics-addr")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		workerFlags, _ := cmd.Flags().GetStringArray("worker")

		cache, err := external.OpenBoltCacheTracker(dataDir)
		if err != nil {
			return fmt.Errorf("failed to open cache tracker: %w", err)
		}
		defer cache.Close()

		cfg := supervisor.Config{
			FailureThreshold: envIntOrDefault("HEALTH_CHECK_FAILURE_THRESHOLD", 3),
			HealthCheck: healthmon.Config{
				Interval:         envDurationOrDefault("HEALTH_CHECK_INTERVAL", 10*time.Second),
				Timeout:          envDurationOrDefault("HEALTH_CHECK_TIMEOUT", 30*time.Second),
				FailureThreshold: envIntOrDefault("HEALTH_CHECK_FAILURE_THRESHOLD", 3),
				Disabled:         os.Getenv("HEALTH_CHECK_DISABLED") == "true",
			},
			CancelBlockDuration: envDurationOrDefault("DEFAULT_CANCEL_BLOCK_DURATION", time.Second),
		}

		sup := supervisor.New(
			cfg,
			workerclient.NewGRPCDialer(),
			external.NewMemoryStatusGuard(),
			external.NewMemoryProgressTracker(),
			cache,
			noopLocalRegistrar{},
			selfSample,
		)
		sup.Start()
		defer sup.Stop()

		for _, spec := range workerFlags {
			address, checkTarget, _ := strings.Cut(spec, "=")
			if err := sup.AddWorkerWithHealthCheck(address, checkTarget); err != nil {
				return fmt.Errorf("failed to register worker %q: %w", address, err)
			}
			log.WithComponent("cmd").Info().Str("address", address).Str("health_check", checkTarget).
				Msg("worker registered at startup")
		}

		metrics.SetVersion(Version)
		metrics.RegisterComponent("cache", true, "ready")
		metrics.RegisterComponent("health_monitor", true, "sweeping")

		collector := metrics.NewCollector(sup.RegistrySnapshot())
		collector.Start()
		defer collector.Stop()

		log.WithComponent("cmd").Info().Str("listen", listenAddr).Msg("supervisor started")

		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			mux.Handle("/health", metrics.HealthHandler())
			mux.Handle("/ready", metrics.ReadyHandler())
			mux.Handle("/live", metrics.LivenessHandler())
			if err := http.ListenAndServe(metricsAddr, mux); err != nil {
				log.WithComponent("cmd").Error().Err(err).Msg("metrics server stopped")
			}
		}()
		fmt.Printf("Metrics endpoint: http://%s/metrics\n", metricsAddr)
		fmt.Printf("Health endpoints: http://%s/health, /ready, /live\n", metricsAddr)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
		<-sigCh
		fmt.Println("Shutting down...")
		return nil
	},
}

// noopLocalRegistrar is the default LocalRegistrar: this binary has no
// built-in model family of its own, so register_model only ever forwards
// to a worker_ip in this configuration. An embedder with a model registry
// of its own supplies a real LocalRegistrar to supervisor.New instead.
type noopLocalRegistrar struct{}

func (noopLocalRegistrar) Register(ctx context.Context, modelType, spec string, persist bool) ([]external.ModelVersion, error) {
	return nil, fmt.Errorf("no local model registrar configured; pass worker_ip to target a specific worker")
}

func (noopLocalRegistrar) Unregister(ctx context.Context, modelType, modelName string) error {
	return nil
}

func init() {
	serveCmd.Flags().String("listen", "127.0.0.1:9000", "Supervisor RPC listen address")
	serveCmd.Flags().String("metrics-addr", "127.0.0.1:9090", "Metrics/health HTTP listen address")
	serveCmd.Flags().String("data-dir", "./helios-data", "Data directory for the cache tracker")
	serveCmd.Flags().StringArray("worker", nil, "Pre-register a worker at startup as ADDRESS[=HEALTHCHECK], repeatable; HEALTHCHECK is an http(s):// URL or a bare TCP address actively probed by the health monitor")
}

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Manage cluster workers",
}

var workerAddCmd = &cobra.Command{
	Use:   "add ADDRESS",
	Short: "Register a worker with the supervisor",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Remote CLI wiring coming in a later release; run against an in-process supervisor for now.")
		return nil
	},
}

var workerRemoveCmd = &cobra.Command{
	Use:   "remove ADDRESS",
	Short: "Remove a worker from the cluster",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Remote CLI wiring coming in a later release; run against an in-process supervisor for now.")
		return nil
	},
}

var workerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Remote CLI wiring coming in a later release; run against an in-process supervisor for now.")
		return nil
	},
}

func init() {
	workerCmd.AddCommand(workerAddCmd, workerRemoveCmd, workerListCmd)
}

var modelCmd = &cobra.Command{
	Use:   "model",
	Short: "Manage served models",
}

var modelLaunchCmd = &cobra.Command{
	Use:   "launch NAME",
	Short: "Launch a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Remote CLI wiring coming in a later release; run against an in-process supervisor for now.")
		return nil
	},
}

var modelTerminateCmd = &cobra.Command{
	Use:   "terminate MODEL_UID",
	Short: "Terminate a launched model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Remote CLI wiring coming in a later release; run against an in-process supervisor for now.")
		return nil
	},
}

var modelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List launched models",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Remote CLI wiring coming in a later release; run against an in-process supervisor for now.")
		return nil
	},
}

func init() {
	modelCmd.AddCommand(modelLaunchCmd, modelTerminateCmd, modelListCmd)
}
