package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev" // set during build

// NewRootCmd builds the gatectl command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "gatectl",
		Short: "Inspect and operate the access gate",
		Long: `gatectl inspects the gate's route rules, dry-runs access decisions,
manages user roles and signs in against a running service.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "gatectl version %s\n", version)
		},
	})
	root.AddCommand(newRoutesCmd())
	root.AddCommand(newClassifyCmd())
	root.AddCommand(newRoleCmd())
	root.AddCommand(newLoginCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
