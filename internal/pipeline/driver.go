package pipeline

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/quanganh2627/platform-bootable-iago/internal/bootprop"
	"github.com/quanganh2627/platform-bootable-iago/internal/options"
)

// Runtime-signal property names the driver publishes (spec §6).
const (
	propState      = "iago.state"
	propProgress   = "iago.progress"
	propError      = "iago.error"
	propInstallID  = "ro.boot.install_id"
	StateWaiting   = "waiting"
	StatePreparing = "preparing"
	StateExecuting = "executing"
	StateComplete  = "complete"
)

// FatalError is the single error kind spec §7 describes: every error
// anywhere in the pipeline collapses into this, carrying the plugin and
// phase it happened in alongside the wrapped cause.
type FatalError struct {
	Plugin string
	Phase  Phase
	Cause  error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("iago::%s.%s - %v", e.Plugin, e.Phase, e.Cause)
}

func (e *FatalError) Unwrap() error { return e.Cause }

// Fatalf builds a *FatalError attributed to plugin/phase.
func Fatalf(plugin string, phase Phase, format string, args ...interface{}) *FatalError {
	return &FatalError{Plugin: plugin, Phase: phase, Cause: errors.Errorf(format, args...)}
}

// Driver owns the registered plugin list and the three stores, and
// sequences prepare → cli_session → execute in registration order
// (spec §2, §4.1).
type Driver struct {
	Stores      Stores
	Props       bootprop.Source
	plugins     []Plugin
	Interactive bool
}

// NewDriver constructs a driver with fresh, empty stores.
func NewDriver(props bootprop.Source) *Driver {
	return &Driver{
		Stores: Stores{
			Options:    options.New(),
			Properties: options.New(),
			KCmdline:   options.New(),
		},
		Props: props,
	}
}

// Register appends plugin to the pipeline. Duplicate registration is
// not guarded against — a configuration bug, not a runtime error (spec
// §4.1 "register(plugin) appends; idempotency is not required").
func (d *Driver) Register(p Plugin) {
	d.plugins = append(d.plugins, p)
}

// Run executes prepare for every plugin, then cli_session if
// Interactive, then execute, publishing the state/progress signals
// spec §4.1 and §6 describe. The first FatalError encountered aborts
// the whole run after publishing iago.error; Run itself returns the
// error rather than calling os.Exit so cmd/iago controls the process
// exit path.
func (d *Driver) Run() error {
	d.publishState(StatePreparing)
	if err := d.runPhase(PhasePrepare); err != nil {
		return d.fail(err)
	}

	if d.Interactive {
		d.publishState(StateWaiting)
		if err := d.runPhase(PhaseCLISession); err != nil {
			return d.fail(err)
		}
	}

	d.publishState(StateExecuting)
	if err := d.runExecutePhase(); err != nil {
		return d.fail(err)
	}

	if id, ok := d.Stores.Options.Get("base:install_id"); ok && d.Props != nil {
		d.Props.Set(propInstallID, id)
	}
	d.publishState(StateComplete)
	return nil
}

func (d *Driver) runPhase(phase Phase) error {
	for _, p := range d.plugins {
		logrus.WithFields(logrus.Fields{"plugin": p.Name(), "phase": phase}).Debug("iago::driver - running handler")

		var err error
		switch phase {
		case PhasePrepare:
			if h, ok := p.(Preparer); ok {
				err = h.Prepare(d.Stores)
			}
		case PhaseCLISession:
			if h, ok := p.(CLISessioner); ok {
				err = h.CLISession(d.Stores)
			}
		}
		if err != nil {
			return asFatal(p.Name(), phase, err)
		}
		d.dumpStoresAtBoundary(p.Name(), phase)
	}
	return nil
}

// runExecutePhase is split out from runPhase because it also computes
// and publishes the monotonic progress percentage spec §4.1 describes:
// floor(100 * i / plugin_count) for the i-th executed plugin.
func (d *Driver) runExecutePhase() error {
	executors := make([]Plugin, 0, len(d.plugins))
	for _, p := range d.plugins {
		if _, ok := p.(Executor); ok {
			executors = append(executors, p)
		}
	}

	for i, p := range executors {
		logrus.WithFields(logrus.Fields{"plugin": p.Name(), "phase": PhaseExecute}).Debug("iago::driver - running handler")

		if err := p.(Executor).Execute(d.Stores); err != nil {
			return asFatal(p.Name(), PhaseExecute, err)
		}

		d.dumpStoresAtBoundary(p.Name(), PhaseExecute)
		progress := 100 * (i + 1) / len(executors)
		d.publishProgress(progress)
	}
	return nil
}

func asFatal(plugin string, phase Phase, err error) *FatalError {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe
	}
	return &FatalError{Plugin: plugin, Phase: phase, Cause: err}
}

func (d *Driver) fail(err error) error {
	logrus.WithError(err).Error("iago::driver - fatal")
	if d.Props != nil {
		d.Props.Set(propError, err.Error())
	}
	return err
}

func (d *Driver) publishState(state string) {
	logrus.WithField("state", state).Info("iago::driver - state")
	if d.Props != nil {
		d.Props.Set(propState, state)
	}
}

func (d *Driver) publishProgress(percent int) {
	logrus.WithField("progress", percent).Debug("iago::driver - progress")
	if d.Props != nil {
		d.Props.Set(propProgress, fmt.Sprintf("%d", percent))
	}
}

func (d *Driver) dumpStoresAtBoundary(plugin string, phase Phase) {
	logrus.WithFields(logrus.Fields{
		"plugin": plugin,
		"phase":  phase,
		"store":  d.Stores.Options.Snapshot(),
	}).Debug("iago::driver - option store dump")
}

// Exit translates a Run() error into a process exit, matching spec §7's
// "log the message ... exit with non-zero status". cmd/iago calls this
// directly rather than duplicating the exit-code policy.
func Exit(err error) {
	if err == nil {
		os.Exit(0)
	}
	os.Exit(1)
}
