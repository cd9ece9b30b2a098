package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/keyguard/keyguardd/pkg/access"
	"github.com/keyguard/keyguardd/pkg/admin"
	"github.com/keyguard/keyguardd/pkg/broker"
	"github.com/keyguard/keyguardd/pkg/daemon"
	"github.com/keyguard/keyguardd/pkg/keystore"
	"github.com/keyguard/keyguardd/pkg/log"
	"github.com/keyguard/keyguardd/pkg/metrics"
	"github.com/keyguard/keyguardd/pkg/types"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
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
	Use:   "keyguardd",
	Short: "keyguardd - a process-isolated cryptographic key management daemon",
	Long: `keyguardd brokers access to cryptographic key material between crypto
providers and applications over a private, length-prefixed IPC socket,
enforcing per-user access control and process isolation between key
storage and the code that uses keys.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf("keyguardd version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime))

	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("config", "", "Path to daemon config (.json) or bootstrap file (.yaml)")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inspectCmd)
}

func initLogging() {
	logLevel, _ := rootCmd.PersistentFlags().GetString("log-level")
	logJSON, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{Level: log.Level(logLevel), JSONOutput: logJSON})
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the key daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := loadConfig(configPath)
		if err != nil {
			return err
		}

		matrix := access.Disabled()
		if cfg.Server.KeyAccessControl {
			data, err := os.ReadFile(cfg.AccessControl.ConfigPath)
			if err != nil {
				return fmt.Errorf("read access control config: %w", err)
			}
			matrix, err = access.Load(data)
			if err != nil {
				return err
			}
		}

		var reporter keystore.SecurityReporter
		if cfg.Server.IdsmReporting {
			reporter = metrics.SecurityReporter{}
		}

		engine, err := keystore.Open(cfg.Database.Path, matrix, reporter)
		if err != nil {
			return fmt.Errorf("open key storage engine: %w", err)
		}
		defer engine.Close()

		providers := newKnownProviders(cfg.Server.KnownProviders)
		x509 := broker.StaticX509Availability(cfg.Server.X509Available)

		d := daemon.New(daemon.Config{
			SocketPath:       cfg.Server.SocketPath,
			MaxConnectionNum: cfg.Server.MaxConnectionNum,
		}, engine, providers, x509)

		collector := metrics.NewCollector(engine, d)
		collector.Start()
		defer collector.Stop()

		metrics.RegisterComponent("keystore", true, "ready")
		metrics.RegisterComponent("broker", true, "ready")
		metrics.RegisterComponent("daemon", false, "starting")

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		daemonErrCh := make(chan error, 1)
		go func() {
			if err := d.Run(ctx); err != nil {
				daemonErrCh <- err
			}
		}()

		if cfg.Server.MetricsAddr != "" {
			go serveMetrics(cfg.Server.MetricsAddr)
		}

		var adminErrCh chan error
		var adminServer *grpc.Server
		if cfg.Server.AdminAddr != "" {
			adminServer, adminErrCh = serveAdmin(cfg.Server.AdminAddr, engine, d)
		}

		metrics.RegisterComponent("daemon", true, "listening")
		fmt.Printf("keyguardd listening on %s\n", cfg.Server.SocketPath)

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-daemonErrCh:
			fmt.Fprintf(os.Stderr, "\ndaemon error: %v\n", err)
		case err := <-adminErrCh:
			fmt.Fprintf(os.Stderr, "\nadmin api error: %v\n", err)
		}

		cancel()
		if adminServer != nil {
			adminServer.GracefulStop()
		}
		fmt.Println("shutdown complete")
		return nil
	},
}

var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Query a running keyguardd's AdminAPI for health and stats",
	RunE: func(cmd *cobra.Command, args []string) error {
		addr, _ := cmd.Flags().GetString("admin-addr")
		client, err := admin.NewClient(addr)
		if err != nil {
			return err
		}
		defer client.Close()

		health, err := client.Health(context.Background())
		if err != nil {
			return fmt.Errorf("health check failed: %w", err)
		}
		fmt.Println("Health:")
		for k, v := range health.AsMap() {
			fmt.Printf("  %s: %v\n", k, v)
		}

		stats, err := client.Stats(context.Background())
		if err != nil {
			return fmt.Errorf("stats request failed: %w", err)
		}
		fmt.Println("Stats:")
		for k, v := range stats.AsMap() {
			fmt.Printf("  %s: %v\n", k, v)
		}
		return nil
	},
}

func init() {
	inspectCmd.Flags().String("admin-addr", "127.0.0.1:9091", "AdminAPI address")
}

func serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	mux.Handle("/health", metrics.HealthHandler())
	mux.Handle("/ready", metrics.ReadyHandler())
	mux.Handle("/live", metrics.LivenessHandler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
	}
}

func serveAdmin(addr string, engine *keystore.Engine, conns admin.ConnectionCounter) (*grpc.Server, chan error) {
	errCh := make(chan error, 1)
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		errCh <- fmt.Errorf("listen admin api: %w", err)
		return nil, errCh
	}
	gs := grpc.NewServer()
	admin.RegisterServer(gs, admin.NewService(engine, conns))
	go func() {
		if err := gs.Serve(lis); err != nil {
			errCh <- err
		}
	}()
	return gs, errCh
}

// knownProviders is a static ProviderFactory compiled from the daemon
// config's server.knownProviders list (spec.md §4.4 handshake step 1).
type knownProviders map[types.Uuid]bool

func newKnownProviders(ids []string) knownProviders {
	set := make(knownProviders, len(ids))
	for _, s := range ids {
		u, err := types.UuidFromString(s)
		if err != nil {
			continue
		}
		set[u] = true
	}
	return set
}

func (p knownProviders) Lookup(uuid types.Uuid) bool {
	if len(p) == 0 {
		return true
	}
	return p[uuid]
}
