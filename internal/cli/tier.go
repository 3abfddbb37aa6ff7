package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/ppiankov/toolgate/internal/model"
)

func init() {
	rootCmd.AddCommand(tierCmd)
	tierCmd.AddCommand(tierSetCmd)
	tierCmd.AddCommand(tierListCmd)
}

var tierCmd = &cobra.Command{
	Use:   "tier",
	Short: "Manage runtime tool tier overrides",
	Long:  "Overrides survive policy reloads and server restarts. Policy file tiers\nare not listed here; see the policy file for those.",
}

var tierSetCmd = &cobra.Command{
	Use:   "set <tool> <O0|O1|O2>",
	Short: "Assign a risk tier to a tool",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		tier, err := model.ParseTier(args[1])
		if err != nil {
			return err
		}
		c, err := remote()
		if err != nil {
			return err
		}
		defer c.Close()

		if err := c.SetTier(context.Background(), args[0], tier); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s is now %s\n", args[0], tier)
		return nil
	},
}

var tierListCmd = &cobra.Command{
	Use:   "list",
	Short: "List runtime tier overrides",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := remote()
		if err != nil {
			return err
		}
		defer c.Close()

		tiers, err := c.Tiers(context.Background())
		if err != nil {
			return err
		}
		if len(tiers) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No tier overrides")
			return nil
		}
		tools := make([]string, 0, len(tiers))
		for tool := range tiers {
			tools = append(tools, tool)
		}
		sort.Strings(tools)
		for _, tool := range tools {
			fmt.Fprintf(cmd.OutOrStdout(), "%-40s %s\n", tool, tiers[tool])
		}
		return nil
	},
}
