package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"
)

const callbackPath = "/callback"

const confirmationPage = `<!DOCTYPE html>
<html><head><title>ssoctl</title></head>
<body><p>Authentication complete. You can close this window.</p></body></html>`

// CallbackResult is the raw redirect captured by a CallbackListener. Either
// Code/State or ErrorCode/ErrorDescription is populated, mirroring the two
// shapes of the OAuth redirect. The listener does no CSRF checking and no
// token exchange; interpreting the result is the flow's job.
type CallbackResult struct {
	Code             string
	State            string
	ErrorCode        string
	ErrorDescription string
}

// CallbackListener is a single-use local HTTP endpoint that captures one
// OAuth redirect. Lifecycle: Start binds an ephemeral loopback port, Wait
// blocks until a callback, a timeout, or Cancel, and every terminal outcome
// releases the port exactly once.
type CallbackListener struct {
	ln       net.Listener
	server   *http.Server
	resultCh chan CallbackResult
	cancelCh chan struct{}

	cancelOnce sync.Once
	closeOnce  sync.Once

	mu       sync.Mutex
	accepted bool
}

func NewCallbackListener() *CallbackListener {
	return &CallbackListener{
		resultCh: make(chan CallbackResult, 1),
		cancelCh: make(chan struct{}),
	}
}

// Start binds an OS-assigned loopback port and begins serving. It returns
// the redirect URI the authorization request must carry.
func (l *CallbackListener) Start() (string, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return "", fmt.Errorf("failed to start callback listener: %w", err)
	}
	l.ln = ln
	l.server = &http.Server{Handler: http.HandlerFunc(l.handle)}
	go func() {
		_ = l.server.Serve(ln)
	}()
	return fmt.Sprintf("http://%s%s", ln.Addr().String(), callbackPath), nil
}

func (l *CallbackListener) handle(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != callbackPath {
		http.NotFound(w, r)
		return
	}
	query := r.URL.Query()
	code := query.Get("code")
	errCode := query.Get("error")
	if code == "" && errCode == "" {
		http.Error(w, "missing code", http.StatusBadRequest)
		return
	}

	l.mu.Lock()
	if l.accepted {
		l.mu.Unlock()
		http.Error(w, "login already completed", http.StatusConflict)
		return
	}
	l.accepted = true
	l.mu.Unlock()

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, confirmationPage)

	l.resultCh <- CallbackResult{
		Code:             code,
		State:            query.Get("state"),
		ErrorCode:        errCode,
		ErrorDescription: query.Get("error_description"),
	}
}

// Wait blocks until a callback arrives, timeout elapses, the listener is
// cancelled, or ctx is done. The port is released before Wait returns,
// whatever the outcome.
func (l *CallbackListener) Wait(ctx context.Context, timeout time.Duration) (*CallbackResult, error) {
	defer l.Close()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-l.resultCh:
		return &result, nil
	case <-timer.C:
		return nil, ErrCallbackTimeout
	case <-l.cancelCh:
		return nil, ErrFlowCancelled
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, ErrCallbackTimeout
		}
		return nil, ErrFlowCancelled
	}
}

// Cancel unblocks a pending Wait with ErrFlowCancelled and releases the
// port. Safe to call from another goroutine and more than once.
func (l *CallbackListener) Cancel() {
	l.cancelOnce.Do(func() { close(l.cancelCh) })
	l.Close()
}

// Close releases the bound port. Idempotent.
func (l *CallbackListener) Close() {
	l.closeOnce.Do(func() {
		if l.server != nil {
			_ = l.server.Close()
		} else if l.ln != nil {
			_ = l.ln.Close()
		}
	})
}

// Addr returns the bound address, or "" before Start.
func (l *CallbackListener) Addr() string {
	if l.ln == nil {
		return ""
	}
	return l.ln.Addr().String()
}
