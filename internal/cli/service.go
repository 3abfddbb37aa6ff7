package cli

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/config"
	"github.com/ppiankov/toolgate/internal/integrity"
	"github.com/ppiankov/toolgate/internal/systemd"
)

var (
	unitBinary   string
	unitUser     string
	unitStateDir string
	unitDir      string
	unitForce    bool
	checksumPath string
)

func init() {
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.AddCommand(serviceUnitCmd)
	serviceCmd.AddCommand(serviceInstallCmd)
	serviceCmd.AddCommand(serviceChecksumCmd)

	for _, c := range []*cobra.Command{serviceUnitCmd, serviceInstallCmd} {
		c.Flags().StringVar(&unitBinary, "binary", "", "Path to the toolgate binary (default /usr/local/bin/toolgate)")
		c.Flags().StringVar(&unitUser, "user", "", "User the server runs as (default toolgate)")
		c.Flags().StringVar(&unitStateDir, "state-dir", "", "Writable directory for the audit log and state db (default /var/lib/toolgate)")
	}
	serviceInstallCmd.Flags().StringVar(&unitDir, "unit-dir", "/etc/systemd/system", "Directory to install the unit into")
	serviceInstallCmd.Flags().BoolVar(&unitForce, "force", false, "Overwrite an existing unit")
	serviceChecksumCmd.Flags().StringVar(&checksumPath, "path", "", "Checksum file to write (default ~/.toolgate/binary.sha256)")
}

var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Run the policy server under systemd",
}

var serviceUnitCmd = &cobra.Command{
	Use:   "unit",
	Short: "Print the systemd unit for toolgate serve",
	RunE: func(cmd *cobra.Command, args []string) error {
		unit, err := renderUnit()
		if err != nil {
			return err
		}
		fmt.Fprint(cmd.OutOrStdout(), unit)
		return nil
	},
}

var serviceInstallCmd = &cobra.Command{
	Use:   "install",
	Short: "Install the systemd unit and record its hash",
	Long: "Writes toolgate.service and records its SHA-256 next to the config.\n" +
		"toolgate doctor reports the unit as modified if it changes afterwards.",
	RunE: func(cmd *cobra.Command, args []string) error {
		unit, err := renderUnit()
		if err != nil {
			return err
		}
		path, err := systemd.Install(unitDir, unit, unitHashPath(), unitForce)
		if err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Installed %s\n", path)
		fmt.Fprintln(out, "Run: systemctl daemon-reload && systemctl enable --now toolgate")
		return nil
	},
}

var serviceChecksumCmd = &cobra.Command{
	Use:   "checksum",
	Short: "Record the running binary's checksum for startup verification",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := checksumPath
		if path == "" {
			path = filepath.Join(config.Dir(), "binary.sha256")
		}
		hash, err := integrity.RecordChecksum(path)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded %s in %s\n", hash, path)
		return nil
	},
}

func renderUnit() (string, error) {
	opts := systemd.UnitOptions{
		Binary:   unitBinary,
		User:     unitUser,
		StateDir: unitStateDir,
	}
	if configPath != "" {
		abs, err := filepath.Abs(configPath)
		if err != nil {
			return "", err
		}
		opts.ConfigPath = abs
	}
	return systemd.ServerUnit(opts)
}

func unitHashPath() string {
	return filepath.Join(config.Dir(), "unit-file.sha256")
}
