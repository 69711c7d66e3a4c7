package web

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	ps "github.com/mitchellh/go-ps"
	"github.com/rs/zerolog"
)

var (
	ErrTimedOut      = errors.New("timed out waiting for the authorization redirect")
	ErrBrowserLaunch = errors.New("unable to launch browser")
)

type WebConfig struct {
	datadir           string
	timeout           int32
	headless          bool
	browserExecutable string
	log               zerolog.Logger
}

// NewWebConf returns a config with a 120 second login timeout
func NewWebConf(datadir string) *WebConfig {
	return &WebConfig{
		datadir: datadir,
		timeout: 120,
		log:     zerolog.Nop(),
	}
}

func (wc *WebConfig) WithHeadless() *WebConfig {
	wc.headless = true
	return wc
}

// WithTimeout sets the time in seconds to wait for the redirect
func (wc *WebConfig) WithTimeout(timeoutSeconds int32) *WebConfig {
	wc.timeout = timeoutSeconds
	return wc
}

func (wc *WebConfig) WithBrowserExecutable(path string) *WebConfig {
	wc.browserExecutable = path
	return wc
}

func (wc *WebConfig) WithLogger(log zerolog.Logger) *WebConfig {
	wc.log = log
	return wc
}

// Authorizer launches a new browser for each authorization and returns the
// URL the provider redirected to.
func (wc *WebConfig) Authorizer(redirectURL string) func(ctx context.Context, authURL string) (string, error) {
	return func(ctx context.Context, authURL string) (string, error) {
		w, err := New(wc)
		if err != nil {
			return "", err
		}
		return w.AuthorizationRedirect(ctx, authURL, redirectURL)
	}
}

type Web struct {
	conf     *WebConfig
	launcher *launcher.Launcher
	browser  *rod.Browser
}

// New launches a browser with the user data dir from conf
func New(conf *WebConfig) (*Web, error) {
	l := launcher.New().
		Headless(conf.headless).
		Devtools(false).
		Leakless(true)

	if conf.browserExecutable != "" {
		l = l.Bin(conf.browserExecutable)
	}

	url, err := l.UserDataDir(conf.datadir).Launch()
	if err != nil {
		return nil, fmt.Errorf("%s, %w", err, ErrBrowserLaunch)
	}

	browser := rod.New().ControlURL(url)
	if err := browser.Connect(); err != nil {
		l.Kill()
		return nil, fmt.Errorf("%s, %w", err, ErrBrowserLaunch)
	}

	return &Web{
		conf:     conf,
		launcher: l,
		browser:  browser.NoDefaultDevice(),
	}, nil
}

// AuthorizationRedirect opens authURL and waits for the provider to send
// the browser to redirectURL. The redirect is answered in the browser, no
// local listener is needed.
func (web *Web) AuthorizationRedirect(ctx context.Context, authURL, redirectURL string) (string, error) {
	// user data dir is kept so the provider session survives between logins
	defer web.browser.Close()

	captured := make(chan string, 1)
	router := web.browser.HijackRequests()
	defer router.MustStop()

	router.MustAdd(redirectURL+"*", func(h *rod.Hijack) {
		select {
		case captured <- h.Request.URL().String():
		default:
		}
		h.Response.SetHeader("Content-Type", "text/html; charset=utf-8")
		h.Response.SetBody(`<!DOCTYPE html><html><body>Signed in, you can close this window.</body></html>`)
	})

	go router.Run()

	if _, err := web.browser.Page(proto.TargetCreateTarget{URL: authURL}); err != nil {
		return "", err
	}
	web.conf.log.Debug().Str("redirect", redirectURL).Msg("waiting for authorization redirect")

	select {
	case u := <-captured:
		return u, nil
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(time.Duration(web.conf.timeout) * time.Second):
		return "", ErrTimedOut
	}
}

// ClearCache removes the browser data dir and kills browser processes left
// over from sessions that did not exit cleanly.
func (wc *WebConfig) ClearCache() error {
	errs := []error{}

	if err := os.RemoveAll(wc.datadir); err != nil {
		errs = append(errs, err)
	}
	if err := wc.checkRodProcess(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (wc *WebConfig) checkRodProcess() error {
	procs, err := ps.Processes()
	if err != nil {
		return err
	}
	for _, pid := range processMatch(procs) {
		wc.log.Info().Int("pid", pid).Msg("process to be killed as part of clean up")
		if proc, _ := os.FindProcess(pid); proc != nil {
			_ = proc.Kill()
		}
	}
	return nil
}

func processMatch(procs []ps.Process) []int {
	pids := make([]int, 0)
	for _, v := range procs {
		if exe := strings.ToLower(v.Executable()); strings.Contains(exe, "chromium") {
			pids = append(pids, v.Pid())
		}
	}
	return pids
}
