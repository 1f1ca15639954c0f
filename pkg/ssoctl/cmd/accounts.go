package cmd

import (
	"github.com/spf13/cobra"

	"github.com/ssoctl/ssoctl/pkg/ssoctl/output"
)

func NewAccountsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "accounts",
		Short: "List accounts available to the signed-in user",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			orch, err := buildOrchestrator(rt)
			if err != nil {
				return err
			}
			accounts, err := orch.ListAccounts(cmd.Context())
			if err != nil {
				return err
			}
			format := rt.OutputFormat()
			if format == output.FormatTable {
				output.WriteAccountTable(rt.Writer(), accounts)
				return nil
			}
			return output.WriteObject(rt.Writer(), format, accounts)
		},
	}
}

func NewRolesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "roles <account-id>",
		Short: "List roles assumable in an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			orch, err := buildOrchestrator(rt)
			if err != nil {
				return err
			}
			roles, err := orch.ListRoles(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			format := rt.OutputFormat()
			if format == output.FormatTable {
				output.WriteRoleTable(rt.Writer(), roles)
				return nil
			}
			return output.WriteObject(rt.Writer(), format, roles)
		},
	}
}
