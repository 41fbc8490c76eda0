// Package browsertest provides an in-memory browser.Page for tests.
package browsertest

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/entrhq/operator/pkg/browser"
)

// ErrClosed is returned by operations on a closed page.
var ErrClosed = errors.New("page closed")

// Call is one recorded operation.
type Call struct {
	Op       string
	Argument string
}

// Page is a scripted browser.Page. Set the Err fields to make an operation
// fail; set the result fields to control what it returns.
type Page struct {
	mu sync.Mutex

	NavigateErr   error
	ActErr        error
	ExtractErr    error
	ObserveErr    error
	GoBackErr     error
	ScreenshotErr error
	CloseErr      error

	ActResult     string
	ExtractResult string
	Elements      []browser.Element
	Image         []byte

	url     string
	history []string
	calls   []Call
	closes  int
}

var _ browser.Page = (*Page)(nil)

// NewPage returns a page at about:blank.
func NewPage() *Page {
	return &Page{
		url:           "about:blank",
		ActResult:     "done",
		ExtractResult: "extracted",
		Image:         []byte{0x89, 'P', 'N', 'G'},
	}
}

func (p *Page) record(op, arg string) error {
	p.calls = append(p.calls, Call{Op: op, Argument: arg})
	if p.closes > 0 {
		return ErrClosed
	}
	return nil
}

// Navigate implements browser.Page.
func (p *Page) Navigate(ctx context.Context, url string, opts browser.NavigateOptions) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("navigate", url); err != nil {
		return err
	}
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.history = append(p.history, p.url)
	p.url = url
	return nil
}

// Act implements browser.Page.
func (p *Page) Act(ctx context.Context, instruction string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("act", instruction); err != nil {
		return "", err
	}
	if p.ActErr != nil {
		return "", p.ActErr
	}
	return p.ActResult, nil
}

// Extract implements browser.Page.
func (p *Page) Extract(ctx context.Context, instruction string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("extract", instruction); err != nil {
		return "", err
	}
	if p.ExtractErr != nil {
		return "", p.ExtractErr
	}
	return p.ExtractResult, nil
}

// Observe implements browser.Page.
func (p *Page) Observe(ctx context.Context, opts browser.ObserveOptions) ([]browser.Element, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("observe", opts.Instruction); err != nil {
		return nil, err
	}
	if p.ObserveErr != nil {
		return nil, p.ObserveErr
	}
	return p.Elements, nil
}

// GoBack implements browser.Page.
func (p *Page) GoBack(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("back", ""); err != nil {
		return err
	}
	if p.GoBackErr != nil {
		return p.GoBackErr
	}
	if n := len(p.history); n > 0 {
		p.url = p.history[n-1]
		p.history = p.history[:n-1]
	}
	return nil
}

// Screenshot implements browser.Page.
func (p *Page) Screenshot(ctx context.Context) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.record("screenshot", ""); err != nil {
		return nil, err
	}
	if p.ScreenshotErr != nil {
		return nil, p.ScreenshotErr
	}
	return p.Image, nil
}

// URL implements browser.Page.
func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

// Close implements browser.Page. Every call is counted.
func (p *Page) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, Call{Op: "close"})
	p.closes++
	return p.CloseErr
}

// Closes returns how many times Close was called.
func (p *Page) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

// Calls returns the recorded operations in order.
func (p *Page) Calls() []Call {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Call(nil), p.calls...)
}

// Ops returns the recorded operation names in order.
func (p *Page) Ops() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ops := make([]string, len(p.calls))
	for i, c := range p.calls {
		ops[i] = c.Op
	}
	return ops
}

// Launcher hands out new Pages and remembers them. It satisfies both
// browser.Launcher and browser.Connector.
type Launcher struct {
	mu  sync.Mutex
	Err error

	// Configure, if set, is applied to every new page before it is returned.
	Configure func(*Page)

	pages []*Page
	urls  []string
}

// Launch implements browser.Launcher.
func (l *Launcher) Launch(ctx context.Context) (browser.Page, error) {
	return l.open("")
}

// Connect implements browser.Connector.
func (l *Launcher) Connect(ctx context.Context, endpoint string) (browser.Page, error) {
	return l.open(endpoint)
}

func (l *Launcher) open(endpoint string) (browser.Page, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.Err != nil {
		return nil, fmt.Errorf("open browser: %w", l.Err)
	}
	p := NewPage()
	if l.Configure != nil {
		l.Configure(p)
	}
	l.pages = append(l.pages, p)
	l.urls = append(l.urls, endpoint)
	return p, nil
}

// Pages returns every page handed out so far.
func (l *Launcher) Pages() []*Page {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]*Page(nil), l.pages...)
}

// Endpoints returns the endpoints passed to Connect, "" for launches.
func (l *Launcher) Endpoints() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.urls...)
}
