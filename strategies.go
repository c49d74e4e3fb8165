package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"omegaclaw/pkg/brain"
	"omegaclaw/pkg/config"
	"omegaclaw/pkg/exec"
	"omegaclaw/pkg/gui"
	"omegaclaw/pkg/invoke"
	"omegaclaw/pkg/logx"
	"omegaclaw/pkg/runner"
)

var errGUIDisabled = errors.New("gui strategy is disabled (set gui.enabled)")

// strategyFactory builds a fresh strategy for every job start.
type strategyFactory struct {
	cfg      *config.Config
	executor exec.Executor
	brain    brain.Brain
	brainErr error
	gui      *gui.Controller
}

// newStrategyFactory prepares the shared pieces of every strategy. A brain
// that cannot be built only disables the script strategy.
func newStrategyFactory(cfg *config.Config, executor exec.Executor, controller *gui.Controller) *strategyFactory {
	f := &strategyFactory{cfg: cfg, executor: executor, gui: controller}
	rotation, err := brain.New(cfg, executor)
	if err != nil {
		f.brainErr = err
		logx.NewLogger("omegaclaw").Warn("Script strategy unavailable: %v", err)
	} else {
		f.brain = rotation
	}
	return f
}

// Strategy implements runner.Strategies.
func (f *strategyFactory) Strategy(mode string) (invoke.Strategy, error) {
	switch mode {
	case config.ModeSimple:
		return invoke.NewSimple(f.executor, f.cfg.Claude.Path, f.cfg.ProjectDir), nil
	case config.ModeInteractive:
		var args []string
		if f.cfg.Claude.Model != "" {
			args = append(args, "--model", f.cfg.Claude.Model)
		}
		return invoke.NewInteractive(f.cfg.Claude.Path, f.cfg.ProjectDir, args...), nil
	case config.ModeScript:
		if f.brain == nil {
			return nil, fmt.Errorf("script strategy: %w", f.brainErr)
		}
		return invoke.NewScriptCycle(f.brain, f.executor, f.cfg.ProjectDir), nil
	case runner.ModeGUI:
		if f.gui == nil {
			return nil, errGUIDisabled
		}
		return invoke.NewGUI(f.gui), nil
	default:
		return nil, fmt.Errorf("unknown invoker mode %q", mode)
	}
}

// newGUIController returns nil when the GUI fallback is disabled.
func newGUIController(cfg *config.Config, executor exec.Executor) (*gui.Controller, error) {
	if !cfg.GUI.Enabled {
		return nil, nil //nolint:nilnil // disabled is not an error
	}
	landmarks := gui.DefaultLandmarks()
	if cfg.GUI.Landmarks != "" {
		loaded, err := gui.LoadLandmarks(cfg.GUI.Landmarks)
		if err != nil {
			return nil, fmt.Errorf("failed to load GUI landmarks: %w", err)
		}
		landmarks = loaded
	}

	opts := gui.DefaultOptions()
	opts.App = cfg.GUI.App
	opts.Interval = cfg.GUI.Interval
	opts.IdleTimeout = cfg.GUI.IdleTimeout
	opts.PlanningModel = cfg.GUI.PlanningModel
	opts.FastModel = cfg.GUI.FastModel
	opts.WidthFraction = cfg.GUI.WidthFraction
	opts.HeightFraction = cfg.GUI.HeightFraction

	shots := filepath.Join(cfg.WorkDir, "state", "screens")
	if err := os.MkdirAll(shots, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create screenshot dir: %w", err)
	}
	return gui.NewController(gui.NewScriptActuator(executor, shots), landmarks, opts), nil
}
