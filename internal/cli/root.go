package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/client"
	"github.com/ppiankov/toolgate/internal/config"
)

var (
	configPath  string
	logLevel    string
	serverAddr  string
	operatorOTP string

	appConfig = config.DefaultConfig()
)

var rootCmd = &cobra.Command{
	Use:   "toolgate",
	Short: "Policy enforcement and audit for agent tool calls",
	Long: "Decides ALLOW or DENY for every tool call an agent attempts, records the\n" +
		"decision in a hash-chained audit log before anything runs, and records\n" +
		"the real outcome afterwards. Operators control approval grants, the\n" +
		"emptiness window and the emergency stop.",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		appConfig = cfg
		return configureLogger(cfg, logLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (default ~/.toolgate/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "", "Policy server address (default from config)")
	rootCmd.PersistentFlags().StringVar(&operatorOTP, "otp", "", "Operator one-time code, required when the server has a TOTP secret")
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// remote connects to the policy server named by --server or the config.
func remote() (*client.Client, error) {
	addr := serverAddr
	if addr == "" {
		addr = appConfig.Server.Addr()
	}
	return client.New(addr, client.WithOTP(operatorOTP))
}
