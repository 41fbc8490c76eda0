package browser

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// DriverOptions configures the Playwright driver and the pages it opens.
type DriverOptions struct {
	// Headless controls whether locally launched browsers show a window.
	Headless bool

	// Viewport sets the viewport of locally launched pages.
	Viewport Viewport

	NavigateTimeout time.Duration
	ActionTimeout   time.Duration

	// InstallBrowsers downloads Chromium on first start. Remote-only
	// deployments only need the driver and leave this off.
	InstallBrowsers bool
}

// Connector attaches to a browser that is already running elsewhere.
type Connector interface {
	Connect(ctx context.Context, endpoint string) (Page, error)
}

// Launcher starts a browser on this machine.
type Launcher interface {
	Launch(ctx context.Context) (Page, error)
}

var (
	_ Connector = (*Driver)(nil)
	_ Launcher  = (*Driver)(nil)
)

// Driver owns the Playwright process and opens pages, either by attaching
// to a provisioned remote browser or by launching a local one.
type Driver struct {
	mu     sync.Mutex
	pw     *playwright.Playwright
	opts   DriverOptions
	interp *Interpreter
}

// NewDriver creates a driver. Playwright is started lazily on first use.
func NewDriver(interp *Interpreter, opts DriverOptions) *Driver {
	if opts.NavigateTimeout <= 0 {
		opts.NavigateTimeout = DefaultNavigateTimeout
	}
	if opts.ActionTimeout <= 0 {
		opts.ActionTimeout = DefaultActionTimeout
	}
	if opts.Viewport.Width == 0 || opts.Viewport.Height == 0 {
		opts.Viewport = Viewport{Width: DefaultViewportWidth, Height: DefaultViewportHeight}
	}
	return &Driver{opts: opts, interp: interp}
}

func (d *Driver) start() (*playwright.Playwright, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pw != nil {
		return d.pw, nil
	}

	// Keep driver output off the terminal the run driver prints to.
	runOpts := &playwright.RunOptions{
		Verbose:             false,
		Stdout:              io.Discard,
		Stderr:              io.Discard,
		SkipInstallBrowsers: !d.opts.InstallBrowsers,
		Browsers:            []string{"chromium"},
	}

	if err := playwright.Install(runOpts); err != nil {
		return nil, fmt.Errorf("failed to install playwright: %w", err)
	}

	pw, err := playwright.Run(runOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	d.pw = pw
	return pw, nil
}

// Connect attaches to a remote browser over CDP and adopts its default
// context and page.
func (d *Driver) Connect(ctx context.Context, endpoint string) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := d.start()
	if err != nil {
		return nil, err
	}

	browser, err := pw.Chromium.ConnectOverCDP(endpoint, playwright.BrowserTypeConnectOverCDPOptions{
		Timeout: playwright.Float(float64(d.opts.NavigateTimeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	var bctx playwright.BrowserContext
	if contexts := browser.Contexts(); len(contexts) > 0 {
		bctx = contexts[0]
	} else if bctx, err = browser.NewContext(); err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	var page playwright.Page
	if pages := bctx.Pages(); len(pages) > 0 {
		page = pages[0]
	} else if page, err = bctx.NewPage(); err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return d.newPage(browser, bctx, page), nil
}

// Launch starts a local Chromium with a fresh context and page.
func (d *Driver) Launch(ctx context.Context) (Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pw, err := d.start()
	if err != nil {
		return nil, err
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(d.opts.Headless),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	bctx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		Viewport: &playwright.Size{
			Width:  d.opts.Viewport.Width,
			Height: d.opts.Viewport.Height,
		},
	})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create context: %w", err)
	}

	page, err := bctx.NewPage()
	if err != nil {
		_ = bctx.Close()
		_ = browser.Close()
		return nil, fmt.Errorf("failed to create page: %w", err)
	}

	return d.newPage(browser, bctx, page), nil
}

func (d *Driver) newPage(browser playwright.Browser, bctx playwright.BrowserContext, page playwright.Page) *PlaywrightPage {
	page.SetDefaultTimeout(float64(d.opts.ActionTimeout.Milliseconds()))
	return &PlaywrightPage{
		browser:         browser,
		bctx:            bctx,
		page:            page,
		interp:          d.interp,
		navigateTimeout: d.opts.NavigateTimeout,
		actionTimeout:   d.opts.ActionTimeout,
	}
}

// Stop shuts Playwright down. Pages must be closed first.
func (d *Driver) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.pw == nil {
		return nil
	}
	err := d.pw.Stop()
	d.pw = nil
	if err != nil {
		return fmt.Errorf("failed to stop playwright: %w", err)
	}
	return nil
}
