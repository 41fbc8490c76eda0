package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/playwright-community/playwright-go"
)

// PlaywrightPage implements Page on a Playwright page.
type PlaywrightPage struct {
	browser playwright.Browser
	bctx    playwright.BrowserContext
	page    playwright.Page
	interp  *Interpreter

	navigateTimeout time.Duration
	actionTimeout   time.Duration

	closeOnce sync.Once
	closeErr  error
}

var _ Page = (*PlaywrightPage)(nil)

var errNoInterpreter = errors.New("page has no interpreter for natural-language operations")

// Navigate loads url, waiting only for the navigation to commit by default.
func (p *PlaywrightPage) Navigate(ctx context.Context, url string, opts NavigateOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	waitUntil := playwright.WaitUntilState(WaitUntilCommit)
	if opts.WaitUntil != "" {
		waitUntil = playwright.WaitUntilState(opts.WaitUntil)
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = p.navigateTimeout
	}

	if _, err := p.page.Goto(url, playwright.PageGotoOptions{
		WaitUntil: &waitUntil,
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
	}); err != nil {
		return fmt.Errorf("navigation failed: %w", err)
	}
	return nil
}

// Act resolves instruction against the accessibility tree and performs the
// chosen interaction.
func (p *PlaywrightPage) Act(ctx context.Context, instruction string) (string, error) {
	if p.interp == nil {
		return "", errNoInterpreter
	}

	elements, err := p.snapshot(ctx)
	if err != nil {
		return "", err
	}

	action, err := p.interp.PlanAction(ctx, instruction, p.page.URL(), actionable(elements))
	if err != nil {
		return "", fmt.Errorf("failed to plan action: %w", err)
	}

	if err := p.perform(ctx, action); err != nil {
		return "", fmt.Errorf("%s failed: %w", action, err)
	}
	return fmt.Sprintf("Performed %s. Now at %s", action, p.page.URL()), nil
}

func (p *PlaywrightPage) perform(ctx context.Context, a *Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	timeout := playwright.Float(float64(p.actionTimeout.Milliseconds()))

	switch a.Method {
	case MethodScroll:
		dy := 600.0
		if strings.EqualFold(a.Value, "up") {
			dy = -dy
		}
		return p.page.Mouse().Wheel(0, dy)
	case MethodPress:
		if a.Role == "" {
			return p.page.Keyboard().Press(a.Value)
		}
		return p.locate(a).Press(a.Value, playwright.LocatorPressOptions{Timeout: timeout})
	case MethodClick:
		return p.locate(a).Click(playwright.LocatorClickOptions{Timeout: timeout})
	case MethodFill:
		return p.locate(a).Fill(a.Value, playwright.LocatorFillOptions{Timeout: timeout})
	case MethodHover:
		return p.locate(a).Hover(playwright.LocatorHoverOptions{Timeout: timeout})
	case MethodCheck:
		return p.locate(a).Check(playwright.LocatorCheckOptions{Timeout: timeout})
	case MethodUncheck:
		return p.locate(a).Uncheck(playwright.LocatorUncheckOptions{Timeout: timeout})
	case MethodSelect:
		values := []string{a.Value}
		_, err := p.locate(a).SelectOption(playwright.SelectOptionValues{Labels: &values}, playwright.LocatorSelectOptionOptions{Timeout: timeout})
		return err
	default:
		return fmt.Errorf("unsupported interaction method %q", a.Method)
	}
}

func (p *PlaywrightPage) locate(a *Action) playwright.Locator {
	opts := playwright.PageGetByRoleOptions{}
	if a.Name != "" {
		opts.Name = a.Name
		opts.Exact = playwright.Bool(true)
	}
	return p.page.GetByRole(playwright.AriaRole(a.Role), opts).First()
}

// Extract returns the data instruction asks for, or the cleaned page text
// when instruction is empty.
func (p *PlaywrightPage) Extract(ctx context.Context, instruction string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	raw, err := p.page.Content()
	if err != nil {
		return "", fmt.Errorf("failed to read page content: %w", err)
	}

	textOnly := strings.TrimSpace(instruction) == ""
	cleaned, err := cleanPage(raw, DefaultMaxHTMLLength, textOnly)
	if err != nil {
		return "", err
	}
	if textOnly {
		return cleaned.Content, nil
	}

	if p.interp == nil {
		return "", errNoInterpreter
	}
	return p.interp.Extract(ctx, instruction, p.page.URL(), cleaned)
}

// Observe lists actionable elements, narrowed to the instruction when one is given.
func (p *PlaywrightPage) Observe(ctx context.Context, opts ObserveOptions) ([]Element, error) {
	elements, err := p.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	candidates := actionable(elements)
	if strings.TrimSpace(opts.Instruction) == "" || p.interp == nil {
		return candidates, nil
	}
	return p.interp.SelectElements(ctx, opts.Instruction, candidates)
}

func (p *PlaywrightPage) snapshot(ctx context.Context) ([]Element, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	snapshot, err := p.page.Locator("body").AriaSnapshot(playwright.LocatorAriaSnapshotOptions{
		Timeout: playwright.Float(float64(p.actionTimeout.Milliseconds())),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to capture accessibility tree: %w", err)
	}
	return parseAriaSnapshot(snapshot)
}

// GoBack navigates to the previous history entry.
func (p *PlaywrightPage) GoBack(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	commit := playwright.WaitUntilState(WaitUntilCommit)
	if _, err := p.page.GoBack(playwright.PageGoBackOptions{
		WaitUntil: &commit,
		Timeout:   playwright.Float(float64(p.navigateTimeout.Milliseconds())),
	}); err != nil {
		return fmt.Errorf("go back failed: %w", err)
	}
	return nil
}

// Screenshot captures the viewport as PNG.
func (p *PlaywrightPage) Screenshot(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := p.page.Screenshot(playwright.PageScreenshotOptions{
		Type: playwright.ScreenshotTypePng,
	})
	if err != nil {
		return nil, fmt.Errorf("screenshot failed: %w", err)
	}
	return data, nil
}

// URL returns the current page URL.
func (p *PlaywrightPage) URL() string {
	return p.page.URL()
}

// Close disconnects from or shuts down the browser. Safe to call multiple times.
func (p *PlaywrightPage) Close() error {
	p.closeOnce.Do(func() {
		var errs []error
		if err := p.bctx.Close(); err != nil {
			errs = append(errs, err)
		}
		if err := p.browser.Close(); err != nil {
			errs = append(errs, err)
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}

// FormatElements renders an Observe result as JSON for step results.
func FormatElements(elements []Element) (string, error) {
	if elements == nil {
		elements = []Element{}
	}
	data, err := json.MarshalIndent(elements, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode elements: %w", err)
	}
	return string(data), nil
}
