package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/entrhq/operator/pkg/agent"
	"github.com/entrhq/operator/pkg/browser"
	"github.com/entrhq/operator/pkg/config"
	"github.com/entrhq/operator/pkg/decision"
	"github.com/entrhq/operator/pkg/llm"
	"github.com/entrhq/operator/pkg/llm/openai"
	"github.com/entrhq/operator/pkg/llm/tokenizer"
	"github.com/entrhq/operator/pkg/logging"
	"github.com/entrhq/operator/pkg/metrics"
	"github.com/entrhq/operator/pkg/provision"
	"github.com/entrhq/operator/pkg/session"
	"github.com/entrhq/operator/pkg/step"
	"github.com/entrhq/operator/pkg/tracing"
	"github.com/entrhq/operator/pkg/types"
)

// app holds the wired components shared by run and serve.
type app struct {
	cfg        *config.Config
	logger     *logging.Logger
	metrics    *metrics.Metrics
	driver     *browser.Driver
	registry   *session.Registry
	controller *agent.Controller
	tracing    *tracing.Provider
	traceFile  *os.File
}

func newApp(configPath string, console bool) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, types.WrapRunError(types.KindConfiguration, "loading config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if err := logging.Configure(logging.Options{
		Level:   cfg.Logging.Level,
		Dir:     cfg.Logging.Dir,
		Console: cfg.Logging.Console || console,
	}); err != nil {
		return nil, types.WrapRunError(types.KindConfiguration, "configuring logging", err)
	}
	logger, err := logging.NewLogger("operator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: logging to stderr: %v\n", err)
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics.New()}

	if cfg.Tracing.Enabled {
		if err := a.initTracing(); err != nil {
			logger.Warn().Err(err).Msg("Tracing disabled")
		}
	}

	provider, err := openai.NewProvider(cfg.LLM.APIKey,
		openai.WithModel(cfg.LLM.Model),
		openai.WithBaseURL(cfg.LLM.BaseURL),
		openai.WithTimeout(cfg.LLM.Timeout),
	)
	if err != nil {
		return nil, types.WrapRunError(types.KindConfiguration, "creating LLM provider", err)
	}

	tok, err := tokenizer.New()
	if err != nil {
		logger.Warnf("Tokenizer unavailable, estimating token counts: %v", err)
	}

	interp := browser.NewInterpreter(llm.WithModel(provider, cfg.LLM.BrowserModel),
		browser.WithTokenBudget(cfg.Agent.ExtractTokenBudget),
		browser.WithTokenizer(tok),
	)
	a.driver = browser.NewDriver(interp, browser.DriverOptions{
		Headless: cfg.Browser.Headless,
		Viewport: browser.Viewport{
			Width:  cfg.Browser.ViewportWidth,
			Height: cfg.Browser.ViewportHeight,
		},
		NavigateTimeout: cfg.Browser.NavigateTimeout,
		ActionTimeout:   cfg.Browser.ActionTimeout,
		InstallBrowsers: cfg.Provisioning.Mode == config.ModeLocal,
	})

	a.registry = session.NewRegistry(a.factory(),
		session.WithLogger(a.logger.Named("session")),
		session.WithMetrics(a.metrics),
	)

	engine := decision.NewLLMEngine(provider,
		decision.WithDefaultStartURL(cfg.Agent.DefaultStartURL),
		decision.WithLatestBudget(cfg.Agent.ExtractTokenBudget),
		decision.WithLogger(a.logger.Named("decision")),
		decision.WithMetrics(a.metrics),
	)
	executor := step.NewExecutor(a.registry,
		step.WithMaxWait(cfg.Agent.MaxWait),
		step.WithNavigateTimeout(cfg.Browser.NavigateTimeout),
		step.WithLogger(a.logger.Named("step")),
		step.WithMetrics(a.metrics),
	)
	a.controller = agent.NewController(engine, executor, a.registry,
		agent.WithControllerLogger(a.logger.Named("agent")),
	)
	return a, nil
}

func (a *app) factory() session.Factory {
	if a.cfg.Provisioning.Mode == config.ModeLocal {
		return session.NewLocalFactory(a.driver)
	}
	p := a.cfg.Provisioning
	client := provision.NewClient(provision.Config{
		BaseURL:           p.BaseURL,
		APIKey:            p.APIKey,
		ProjectID:         p.ProjectID,
		Timeout:           p.RequestTimeout,
		RequestsPerSecond: p.RequestsPerSecond,
		Burst:             p.Burst,
		MaxRetries:        p.MaxRetries,
	})
	f := session.NewRemoteFactory(client, a.driver, a.logger.Named("provision"))
	f.Persist = p.PersistContext
	return f
}

func (a *app) initTracing() error {
	dir, err := logging.GetLogDirectory()
	if err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(dir, "traces.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	p, err := tracing.Init(a.cfg.Tracing.ServiceName, f)
	if err != nil {
		f.Close()
		return err
	}
	a.tracing = p
	a.traceFile = f
	return nil
}

func (a *app) runner(opts ...agent.RunnerOption) *agent.Runner {
	opts = append([]agent.RunnerOption{
		agent.WithMaxSteps(a.cfg.Agent.MaxSteps),
		agent.WithLogger(a.logger.Named("runner")),
		agent.WithMetrics(a.metrics),
	}, opts...)
	return agent.NewRunner(a.controller, opts...)
}

// close releases every session, stops Playwright and closes the log file
// shared by every component logger.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if err := a.registry.ReleaseAll(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.driver.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := a.tracing.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if a.traceFile != nil {
		a.traceFile.Close()
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn().Err(err).Msg("Shutdown incomplete")
		_ = a.logger.Close()
		return err
	}
	return a.logger.Close()
}
