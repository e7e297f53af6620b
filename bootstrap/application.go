package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/najoast/raft/config"
	"github.com/najoast/raft/core"
	"github.com/najoast/raft/logs"
)

// Application wires configuration, logging and the runtime into one process.
type Application struct {
	config *config.Config
	logger *logs.Logger

	lifecycleManager *DefaultLifecycleManager
	runtime          *RuntimeService

	// onExit runs after the program finishes and before the services stop
	onExit []func(*RuntimeService)

	mutex   sync.Mutex
	running bool

	shutdownChan chan os.Signal
}

// NewApplication creates an application for cfg. The runtime service is
// always registered; a config watcher is added by WatchConfig.
func NewApplication(cfg *config.Config, logger *logs.Logger) (*Application, error) {
	opts, err := cfg.Options(logger.Logger)
	if err != nil {
		return nil, &ApplicationError{Operation: "configure", Err: err}
	}

	app := &Application{
		config:           cfg,
		logger:           logger,
		lifecycleManager: NewLifecycleManager(logger.Logger),
		runtime:          NewRuntimeService(core.New(opts), logger.Logger),
		shutdownChan:     make(chan os.Signal, 1),
	}
	return app, nil
}

// WatchConfig reloads configFile while the program runs and applies the
// settings that can change live. Call it before Run.
func (app *Application) WatchConfig(configFile string, loader *config.Loader) error {
	watcher, err := config.NewWatcher(configFile, loader, app.logger.Logger)
	if err != nil {
		return &ApplicationError{Operation: "watch config", Err: err}
	}
	watcher.OnConfigChange(app.runtime.ApplyConfig)
	watcher.OnConfigChange(func(oldConfig, newConfig *config.Config) {
		if oldConfig.Log.Level != newConfig.Log.Level {
			app.logger.SetLevel(newConfig.Log.Level)
		}
	})
	return app.lifecycleManager.Register("config-watcher", NewWatcherService(watcher))
}

// Config returns the configuration the application was built from
func (app *Application) Config() *config.Config {
	return app.config
}

// Runtime returns the runtime service
func (app *Application) Runtime() *RuntimeService {
	return app.runtime
}

// LifecycleManager returns the lifecycle manager
func (app *Application) LifecycleManager() LifecycleManager {
	return app.lifecycleManager
}

// OnProgramExit registers fn to run when the program has finished, while
// its actors can still be observed.
func (app *Application) OnProgramExit(fn func(*RuntimeService)) {
	app.mutex.Lock()
	defer app.mutex.Unlock()
	app.onExit = append(app.onExit, fn)
}

// Run starts the services and blocks until the program finishes, a signal
// arrives or ctx is done, then shuts down. The error reports an escalation
// past the root supervisor or an interrupted run.
func (app *Application) Run(ctx context.Context) error {
	app.mutex.Lock()
	if app.running {
		app.mutex.Unlock()
		return &ApplicationError{Operation: "run", Err: core.ErrAlreadyRunning}
	}
	app.running = true
	app.mutex.Unlock()

	var deps []string
	if _, ok := app.lifecycleManager.GetService("config-watcher"); ok {
		deps = append(deps, "config-watcher")
	}
	if err := app.lifecycleManager.Register("runtime", app.runtime, deps...); err != nil {
		return &ApplicationError{Operation: "run", Err: err}
	}

	signal.Notify(app.shutdownChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(app.shutdownChan)

	if err := app.lifecycleManager.Start(ctx); err != nil {
		app.mutex.Lock()
		app.running = false
		app.mutex.Unlock()
		_ = app.runtime.Stop(ctx)
		return err
	}

	select {
	case <-app.runtime.Done():
	case sig := <-app.shutdownChan:
		app.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
		app.logger.Info("context done, shutting down", "error", ctx.Err())
	}

	// Interrupt a run that is still going so its result is final.
	if cancel := app.runtime.cancelFunc(); cancel != nil {
		cancel()
	}
	<-app.runtime.Done()

	app.mutex.Lock()
	hooks := append([]func(*RuntimeService)(nil), app.onExit...)
	app.mutex.Unlock()
	for _, fn := range hooks {
		fn(app.runtime)
	}

	_, runErr := app.runtime.Result()
	if err := app.Shutdown(context.Background()); err != nil {
		return err
	}
	return runErr
}

// Shutdown stops the services in reverse start order
func (app *Application) Shutdown(ctx context.Context) error {
	app.mutex.Lock()
	if !app.running {
		app.mutex.Unlock()
		return nil
	}
	app.running = false
	app.mutex.Unlock()

	shutdownCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := app.lifecycleManager.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("failed to stop services: %w", err)
	}
	return nil
}
