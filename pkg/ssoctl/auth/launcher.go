package auth

import (
	"errors"
	"os/exec"
	"runtime"
)

// BrowserLauncher opens a URL in the user's browser. The process launcher
// is pluggable so tests and headless callers can capture the URL instead.
type BrowserLauncher interface {
	Open(url string) error
}

// LauncherFunc adapts a function to BrowserLauncher.
type LauncherFunc func(url string) error

func (f LauncherFunc) Open(url string) error { return f(url) }

// SystemBrowser launches the platform default browser.
type SystemBrowser struct{}

func (SystemBrowser) Open(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	if cmd == nil {
		return errors.New("no browser command available")
	}
	return cmd.Start()
}
