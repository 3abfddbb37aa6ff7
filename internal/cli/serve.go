package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/alert"
	"github.com/ppiankov/toolgate/internal/gate"
	"github.com/ppiankov/toolgate/internal/integrity"
	"github.com/ppiankov/toolgate/internal/policy"
	"github.com/ppiankov/toolgate/internal/server"
)

var (
	servePort     int
	servePolicy   string
	serveAuditLog string
	serveStateDB  string
	serveMetrics  string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "gRPC listen port (default from config)")
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", "Path to policy YAML")
	serveCmd.Flags().StringVar(&serveAuditLog, "audit-log", "", "Path to audit log JSONL file")
	serveCmd.Flags().StringVar(&serveStateDB, "state-db", "", "Path to SQLite operator state database")
	serveCmd.Flags().StringVar(&serveMetrics, "gate-metrics", "", "Path to estimator metrics YAML used as the gate's quality signal")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start gRPC policy server",
	Long: "Runs toolgate as a central policy server over gRPC.\n" +
		"Agents evaluate and report outcomes; operators approve tools and control\n" +
		"safety mode and the emergency stop. The policy file is hot-reloaded.",
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := verifyBinary(); err != nil {
		return err
	}

	metrics, err := metricsSource(serveMetrics)
	if err != nil {
		return err
	}
	var source gate.Source
	if metrics != nil {
		source = metrics
	}

	gk, err := openGatekeeper(servePolicy, serveAuditLog, serveStateDB, source)
	if err != nil {
		return fmt.Errorf("failed to start gatekeeper: %w", err)
	}
	defer gk.Close()

	sc := appConfig.Server
	if servePort != 0 {
		sc.Port = servePort
	}
	srv := server.New(gk, server.Config{
		Addr:       sc.Addr(),
		TOTPSecret: appConfig.Operator.TOTPSecret,
		Logger:     slog.Default(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	watched := []string{gk.PolicyPath()}
	reload := srv.ReloadPolicy
	if metrics != nil {
		watched = append(watched, serveMetrics)
		reload = func() error {
			if err := metrics.LoadFile(serveMetrics); err != nil {
				return err
			}
			return srv.ReloadPolicy()
		}
	}
	reloader, err := server.NewReloader(reload, watched, slog.Default())
	if err != nil {
		slog.Warn("hot-reload disabled", "error", err)
	} else {
		go reloader.Run(ctx)
	}
	go gk.RunMaintenance(ctx, sc.PurgeInterval)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down policy server...")
		cancel()
		srv.GracefulStop()
	}()

	fmt.Fprintf(os.Stderr, "toolgate policy server listening on %s\n", sc.Addr())
	fmt.Fprintf(os.Stderr, "Policy: %s (%s)\n", gk.PolicyPath(), gk.PolicyHash())
	if appConfig.Operator.TOTPSecret == "" {
		fmt.Fprintln(os.Stderr, "warning: operator RPCs are not protected by TOTP")
	}
	fmt.Fprintln(os.Stderr)

	return srv.Serve()
}

// verifyBinary refuses to start a server whose binary fails its checksum.
// The tamper alert goes to the policy's webhooks before exit.
func verifyBinary() error {
	res, err := integrity.Verify()
	if err == nil {
		if res.Skipped() {
			slog.Warn("integrity check skipped: no build-time hash or checksum file")
		}
		return nil
	}
	if errors.Is(err, integrity.ErrTampered) {
		path := servePolicy
		if path == "" {
			path = appConfig.PolicyPath
		}
		if cfg, _, loadErr := policy.LoadConfigWithHash(path); loadErr == nil {
			d := alert.NewDispatcher(cfg.Alerts, slog.Default())
			d.Dispatch(integrity.TamperEvent(res))
			d.Wait()
		}
		slog.Error("binary tamper detected", "binary", res.Binary, "expected", res.Expected, "actual", res.Actual)
	}
	return err
}
