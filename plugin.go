package dropmail

import (
	"context"
	"errors"
	"log/slog"
)

// Plugin defines the interface for dropmail extensions.
// Plugins can hook into email insertion to add custom behavior
// such as spam filtering, rate limiting, or address allow-lists.
//
// For observing other operations (deletes, sweeps),
// use the event system instead (Service.Events()).
type Plugin interface {
	// Name returns the plugin identifier.
	Name() string
	// Init initializes the plugin. Called when service connects.
	Init(ctx context.Context) error
	// Close cleans up plugin resources. Called when service closes.
	Close(ctx context.Context) error
}

// InsertHook is called before/after an email is stored.
type InsertHook interface {
	Plugin
	// BeforeInsert is called before the email is validated and stored.
	// Return an error to reject the email. Rewrites of e are validated.
	BeforeInsert(ctx context.Context, e *Email) error
	// AfterInsert is called after the email is stored.
	// The email is already persisted and cannot be rolled back.
	AfterInsert(ctx context.Context, messageID string, e Email) error
}

// pluginRegistry holds registered plugins.
type pluginRegistry struct {
	all    []Plugin
	insert []InsertHook
	logger *slog.Logger
}

// newPluginRegistry creates a new plugin registry.
func newPluginRegistry(logger *slog.Logger) *pluginRegistry {
	if logger == nil {
		logger = slog.Default()
	}
	return &pluginRegistry{logger: logger}
}

// register adds a plugin to the registry.
func (r *pluginRegistry) register(p Plugin) {
	r.all = append(r.all, p)

	if h, ok := p.(InsertHook); ok {
		r.insert = append(r.insert, h)
	}
}

// initAll initializes all plugins.
// On failure, already-initialized plugins are closed in reverse order.
func (r *pluginRegistry) initAll(ctx context.Context) error {
	for i, p := range r.all {
		if err := p.Init(ctx); err != nil {
			for j := i - 1; j >= 0; j-- {
				if closeErr := r.all[j].Close(ctx); closeErr != nil {
					r.logger.Error("failed to close plugin during init rollback",
						"plugin", r.all[j].Name(), "error", closeErr)
				}
			}
			return &PluginError{Plugin: p.Name(), Op: "init", Err: err}
		}
	}
	return nil
}

// closeAll closes all plugins in reverse order.
func (r *pluginRegistry) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(r.all) - 1; i >= 0; i-- {
		if err := r.all[i].Close(ctx); err != nil {
			errs = append(errs, &PluginError{Plugin: r.all[i].Name(), Op: "close", Err: err})
		}
	}
	return errors.Join(errs...)
}

// PluginError represents an error from a plugin.
type PluginError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *PluginError) Error() string {
	return "plugin " + e.Plugin + " " + e.Op + ": " + e.Err.Error()
}

func (e *PluginError) Unwrap() error {
	return e.Err
}

// Hook execution helpers

func (r *pluginRegistry) beforeInsert(ctx context.Context, e *Email) error {
	for _, h := range r.insert {
		if err := h.BeforeInsert(ctx, e); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "BeforeInsert", Err: err}
		}
	}
	return nil
}

func (r *pluginRegistry) afterInsert(ctx context.Context, messageID string, e Email) error {
	for _, h := range r.insert {
		if err := h.AfterInsert(ctx, messageID, e); err != nil {
			return &PluginError{Plugin: h.Name(), Op: "AfterInsert", Err: err}
		}
	}
	return nil
}
