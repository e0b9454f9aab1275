package main

import (
	"testing"

	"github.com/courtside-data/rallycut/internal/config"
	"github.com/courtside-data/rallycut/internal/rally"
)

func TestBuildPipelineConfig_MatchesLibraryDefaults(t *testing.T) {
	cfg := buildPipelineConfig(config.EmptyTuningConfig())
	def := rally.DefaultPipelineConfig()

	if cfg.Tracker != def.Tracker {
		t.Errorf("tracker config diverges from defaults:\n got %+v\nwant %+v", cfg.Tracker, def.Tracker)
	}
	if cfg.Motion != def.Motion {
		t.Errorf("motion thresholds diverge from defaults:\n got %+v\nwant %+v", cfg.Motion, def.Motion)
	}
	if cfg.Gate != def.Gate {
		t.Errorf("gate config diverges from defaults:\n got %+v\nwant %+v", cfg.Gate, def.Gate)
	}
	if cfg.Decider != def.Decider {
		t.Errorf("decider config diverges from defaults:\n got %+v\nwant %+v", cfg.Decider, def.Decider)
	}
	if cfg.Builder != def.Builder {
		t.Errorf("builder config diverges from defaults:\n got %+v\nwant %+v", cfg.Builder, def.Builder)
	}
	if cfg.SignalWindow != def.SignalWindow {
		t.Errorf("SignalWindow: got %d, want %d", cfg.SignalWindow, def.SignalWindow)
	}
	if cfg.ProgressInterval != def.ProgressInterval {
		t.Errorf("ProgressInterval: got %v, want %v", cfg.ProgressInterval, def.ProgressInterval)
	}
}

func TestBuildPipelineConfig_TuningOverridesFlowThrough(t *testing.T) {
	gravity := 1.2
	mergeGap := 3.0
	tc := config.EmptyTuningConfig()
	tc.Gravity = &gravity
	tc.MergeGap = &mergeGap

	cfg := buildPipelineConfig(tc)
	if cfg.Motion.Gravity != 1.2 {
		t.Errorf("gravity override: got %v, want 1.2", cfg.Motion.Gravity)
	}
	if cfg.Builder.MergeGap != 3.0 {
		t.Errorf("merge gap override: got %v, want 3.0", cfg.Builder.MergeGap)
	}
	// Untouched stages keep the defaults, weights included.
	if cfg.Gate != rally.DefaultGateConfig() {
		t.Errorf("gate config must stay at defaults, got %+v", cfg.Gate)
	}
}
