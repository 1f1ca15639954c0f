package cmd

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/ssoctl/ssoctl/pkg/ssoctl/auth"
	"github.com/ssoctl/ssoctl/pkg/ssoctl/config"
	"github.com/ssoctl/ssoctl/pkg/ssoctl/output"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
}

type runtimeState struct {
	configPath      string
	cfg             *config.Config
	profileOverride string
	outputFormat    string
	noBrowser       bool
	verbose         bool
	writer          io.Writer
	log             *zap.Logger
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	rt := &runtimeState{configPath: cfg.ConfigPath, writer: cfg.OutputWriter}

	root := &cobra.Command{
		Use:   "ssoctl",
		Short: "Sign in to an identity portal and mint role credentials",
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.writer == nil {
				rt.writer = os.Stdout
			}
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if rt.profileOverride == "" {
				rt.profileOverride = os.Getenv("SSOCTL_PROFILE")
			}
			if rt.outputFormat == "" {
				rt.outputFormat = os.Getenv("SSOCTL_OUTPUT")
			}
			if !rt.noBrowser {
				rt.noBrowser = strings.EqualFold(os.Getenv("SSOCTL_NO_BROWSER"), "true")
			}
			if !rt.verbose {
				rt.verbose = strings.EqualFold(os.Getenv("SSOCTL_VERBOSE"), "true")
			}

			// Commands that work without a config file.
			switch cmd.Name() {
			case "configure", "version", "completion":
				return nil
			}
			return rt.EnsureConfigLoaded()
		},
	}

	root.PersistentFlags().StringVar(&rt.configPath, "config", rt.configPath, "Path to config file")
	root.PersistentFlags().StringVarP(&rt.profileOverride, "profile", "p", "", "Profile name override")
	root.PersistentFlags().StringVarP(&rt.outputFormat, "output", "o", "", "Output format: table, json, yaml")
	root.PersistentFlags().BoolVar(&rt.noBrowser, "no-browser", false, "Never open a browser; print URLs instead")
	root.PersistentFlags().BoolVarP(&rt.verbose, "verbose", "v", false, "Enable verbose logging to stderr")

	root.SetContext(context.WithValue(context.Background(), runtimeKey{}, rt))

	root.AddCommand(
		NewConfigureCommand(),
		NewLoginCommand(),
		NewLogoutCommand(),
		NewStatusCommand(),
		NewRefreshCommand(),
		NewAccountsCommand(),
		NewRolesCommand(),
		NewCredsCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.Load(rt.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.New("no config found; run 'ssoctl configure' first")
		}
		return err
	}
	rt.cfg = cfg
	return nil
}

func (rt *runtimeState) ResolveProfile() (*config.Profile, error) {
	if rt.cfg == nil {
		return nil, errors.New("config not loaded")
	}
	name := rt.profileOverride
	if name == "" {
		name = rt.cfg.CurrentProfileOrDefault()
	}
	if name == "" {
		return nil, errors.New("no profile configured; run 'ssoctl configure' first")
	}
	return rt.cfg.FindProfile(name)
}

func (rt *runtimeState) OutputFormat() output.Format {
	if rt.outputFormat != "" {
		return output.Format(rt.outputFormat)
	}
	if rt.cfg != nil && rt.cfg.Settings.OutputFormat != "" {
		return output.Format(rt.cfg.Settings.OutputFormat)
	}
	return output.FormatTable
}

func (rt *runtimeState) Logger() *zap.Logger {
	if rt.log != nil {
		return rt.log
	}
	if !rt.verbose {
		rt.log = zap.NewNop()
		return rt.log
	}
	encoderCfg := zap.NewDevelopmentEncoderConfig()
	core := zapcore.NewCore(
		zapcore.NewConsoleEncoder(encoderCfg),
		zapcore.Lock(os.Stderr),
		zapcore.DebugLevel,
	)
	rt.log = zap.New(core)
	return rt.log
}

// buildOrchestrator wires the auth engine for the selected profile.
func buildOrchestrator(rt *runtimeState, extra ...auth.Option) (*auth.Orchestrator, error) {
	profile, err := rt.ResolveProfile()
	if err != nil {
		return nil, err
	}
	opts := []auth.Option{
		auth.WithLogger(rt.Logger()),
		auth.WithStateStore(auth.NewFileStateStore(config.DefaultStatePath(profile.Name))),
	}
	opts = append(opts, extra...)
	return auth.New(auth.Config{
		StartURL:        profile.StartURL,
		Region:          profile.Region,
		ClientName:      "ssoctl",
		CAFile:          profile.CAFile,
		InsecureSkipTLS: profile.InsecureSkipTLSVerify,
	}, opts...)
}
