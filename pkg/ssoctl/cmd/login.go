package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/ssoctl/ssoctl/pkg/ssoctl/auth"
)

func NewLoginCommand() *cobra.Command {
	var (
		useDevice  bool
		useBrowser bool
	)

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate against the portal",
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := getRuntime(cmd)
			if err != nil {
				return err
			}
			if useDevice && useBrowser {
				return fmt.Errorf("--device and --browser are mutually exclusive")
			}
			// The redirect flow needs a local browser; without one the
			// device grant is the only option.
			if rt.noBrowser {
				useDevice = true
			}
			if useDevice {
				return runDeviceLogin(cmd.Context(), rt)
			}
			return runBrowserLogin(cmd.Context(), rt)
		},
	}

	cmd.Flags().BoolVar(&useDevice, "device", false, "Use the device-code grant")
	cmd.Flags().BoolVar(&useBrowser, "browser", false, "Use the browser redirect grant (default)")

	return cmd
}

func runBrowserLogin(ctx context.Context, rt *runtimeState) error {
	launcher := auth.LauncherFunc(func(url string) error {
		_, _ = fmt.Fprintf(rt.Writer(), "Opening your browser to complete sign-in:\n%s\n", url)
		return auth.SystemBrowser{}.Open(url)
	})
	orch, err := buildOrchestrator(rt, auth.WithLauncher(launcher))
	if err != nil {
		return err
	}
	expiry, err := orch.StartBrowserFlow(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(rt.Writer(), "Authenticated. Token expires at %s\n", expiry.UTC().Format(time.RFC3339))
	return nil
}

func runDeviceLogin(ctx context.Context, rt *runtimeState) error {
	orch, err := buildOrchestrator(rt)
	if err != nil {
		return err
	}
	session, err := orch.StartDeviceFlow(ctx)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(rt.Writer(), "Visit %s and enter code: %s\n", session.VerificationURI, session.UserCode)
	if !rt.noBrowser && session.VerificationURIComplete != "" {
		_ = (auth.SystemBrowser{}).Open(session.VerificationURIComplete)
	}

	outcome, err := pollDevice(ctx, orch, session, sleepFor)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(rt.Writer(), "Authenticated. Token expires at %s\n", outcome.Expiry.UTC().Format(time.RFC3339))
	return nil
}

// devicePoller is the subset of the auth engine the poll loop drives.
type devicePoller interface {
	PollDeviceFlow(ctx context.Context, deviceCode string) (auth.PollOutcome, error)
	CancelActiveFlow()
}

// pollDevice owns the caller side of the device grant: the engine returns
// one attempt at a time, so the loop, its timing, session expiry, and the
// slow-down backoff live here. The interval doubles on every slow_down and
// never drops below the session's base interval.
func pollDevice(ctx context.Context, poller devicePoller, session *auth.DeviceAuthSession, sleep func(context.Context, time.Duration) error) (auth.PollOutcome, error) {
	interval := session.PollInterval
	for {
		if time.Now().After(session.ExpiresAt) {
			poller.CancelActiveFlow()
			return auth.PollOutcome{}, auth.ErrDeviceCodeExpired
		}
		outcome, err := poller.PollDeviceFlow(ctx, session.DeviceCode)
		if err != nil {
			return auth.PollOutcome{}, err
		}
		switch outcome.Status {
		case auth.PollComplete:
			return outcome, nil
		case auth.PollSlowDown:
			interval *= 2
			if interval < session.PollInterval {
				interval = session.PollInterval
			}
		}
		if err := sleep(ctx, interval); err != nil {
			poller.CancelActiveFlow()
			return auth.PollOutcome{}, err
		}
	}
}

func sleepFor(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
