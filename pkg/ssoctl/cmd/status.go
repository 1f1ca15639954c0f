package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssoctl/ssoctl/pkg/ssoctl/output"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show authentication and credential status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			orch, err := buildOrchestrator(rt)
			if err != nil {
				return err
			}
			status := orch.GetStatus()
			format := rt.OutputFormat()
			if format == output.FormatTable {
				output.WriteStatus(rt.Writer(), status)
				return nil
			}
			return output.WriteObject(rt.Writer(), format, status)
		},
	}
}

func NewLogoutCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Clear all stored tokens and credentials",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			orch, err := buildOrchestrator(rt)
			if err != nil {
				return err
			}
			if err := orch.Logout(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(rt.Writer(), "Logged out")
			return nil
		},
	}
}

func NewRefreshCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Force a token refresh",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			orch, err := buildOrchestrator(rt)
			if err != nil {
				return err
			}
			expiry, err := orch.RefreshCredentials(cmd.Context())
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Token refreshed. Expires at %s\n", expiry.UTC().Format(time.RFC3339))
			return nil
		},
	}
}
