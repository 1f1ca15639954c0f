package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/ssoctl/ssoctl/pkg/ssoctl/config"
)

func NewConfigureCommand() *cobra.Command {
	var (
		name     string
		startURL string
		region   string
		caFile   string
		insecure bool
	)

	cmd := &cobra.Command{
		Use:   "configure",
		Short: "Add or update a portal profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if startURL == "" {
				return errors.New("--start-url is required")
			}
			if region == "" {
				return errors.New("--region is required")
			}

			cfg, err := config.Load(rt.configPath)
			if err != nil {
				defaults := config.DefaultConfig()
				cfg = &defaults
			}
			cfg.SetProfile(config.Profile{
				Name:                  name,
				StartURL:              startURL,
				Region:                region,
				CAFile:                caFile,
				InsecureSkipTLSVerify: insecure,
			})
			if cfg.CurrentProfile == "" {
				cfg.CurrentProfile = name
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(rt.configPath, cfg); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(rt.Writer(), "Profile %s saved to %s\n", name, rt.configPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "default", "Profile name")
	cmd.Flags().StringVar(&startURL, "start-url", "", "Identity portal start URL")
	cmd.Flags().StringVar(&region, "region", "", "Portal region")
	cmd.Flags().StringVar(&caFile, "ca-file", "", "Extra CA bundle for the portal")
	cmd.Flags().BoolVar(&insecure, "insecure-skip-tls-verify", false, "Skip TLS verification (not recommended)")

	return cmd
}
