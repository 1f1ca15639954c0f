package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ssoctl/ssoctl/pkg/ssoctl/output"
)

func NewCredsCommand() *cobra.Command {
	var export bool

	cmd := &cobra.Command{
		Use:   "creds <account-id> <role-name>",
		Short: "Mint short-lived credentials for an account and role",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			orch, err := buildOrchestrator(rt)
			if err != nil {
				return err
			}
			creds, err := orch.SelectAccountRole(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			format := rt.OutputFormat()
			if export || format == output.FormatEnv {
				output.WriteCredentialEnv(rt.Writer(), creds)
				return nil
			}
			if format == output.FormatTable {
				output.WriteCredentialTable(rt.Writer(), creds)
				return nil
			}
			return output.WriteObject(rt.Writer(), format, creds)
		},
	}

	cmd.Flags().BoolVar(&export, "export", false, "Print credentials as shell export lines")

	return cmd
}
