// Command rallycut detects rally segments in volleyball footage. It accepts
// either a video file (decoded with OpenCV, ball detections from a TFLite
// model) or a recorded detection log, runs the analysis pipeline, prints the
// detected segments, and optionally persists the run and writes an HTML
// report. The "migrate" subcommand manages the run database schema:
//
//	rallycut -db rallycut.db migrate up
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/courtside-data/rallycut/internal/config"
	"github.com/courtside-data/rallycut/internal/detect"
	"github.com/courtside-data/rallycut/internal/monitoring"
	"github.com/courtside-data/rallycut/internal/rally"
	"github.com/courtside-data/rallycut/internal/rallydb"
	"github.com/courtside-data/rallycut/internal/report"
	"github.com/courtside-data/rallycut/internal/version"
	"github.com/courtside-data/rallycut/internal/video"
)

var (
	videoPath  = flag.String("video", "", "video file to analyze")
	detlogPath = flag.String("detlog", "", "detection log (JSONL) to replay instead of a video")
	modelPath  = flag.String("model", "models/ball_detector.tflite", "TFLite ball detection model")
	configPath = flag.String("config", "", "tuning config JSON (omitted fields use defaults)")
	dbPath     = flag.String("db", "rallycut.db", "sqlite database for run history (empty to disable)")
	migrations = flag.String("migrations", "migrations", "migrations directory for the migrate subcommand")
	reportPath = flag.String("report", "", "write an HTML report to this path")
	quiet      = flag.Bool("quiet", false, "suppress progress logging")
	showVer    = flag.Bool("version", false, "print version and exit")
)

func main() {
	flag.Parse()
	if *showVer {
		fmt.Printf("rallycut %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
		return
	}
	if err := run(); err != nil {
		log.Fatalf("rallycut: %v", err)
	}
}

func run() error {
	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		if *dbPath == "" {
			return fmt.Errorf("migrate requires -db")
		}
		return rallydb.RunMigrateCommand(*dbPath, *migrations, args[1:])
	}

	if (*videoPath == "") == (*detlogPath == "") {
		return fmt.Errorf("exactly one of -video or -detlog is required")
	}
	if *quiet {
		monitoring.SetLogger(nil)
	}

	tuning := config.EmptyTuningConfig()
	if *configPath != "" {
		var err error
		tuning, err = config.LoadTuningConfig(*configPath)
		if err != nil {
			return err
		}
	}
	pipeCfg := buildPipelineConfig(tuning)

	// Report generation taps the per-frame signal stream.
	var signals []rally.RallySignal
	if *reportPath != "" {
		pipeCfg.OnSignal = func(s rally.RallySignal) {
			signals = append(signals, s)
		}
	}

	src, detector, inputPath, cleanup, err := openInput()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	progress := func(f float64) {
		monitoring.Logf("analyzing %s: %.0f%%", inputPath, 100*f)
	}
	if *quiet {
		progress = nil
	}

	res, err := rally.NewPipeline(pipeCfg).Process(ctx, src, detector, progress)
	if err != nil {
		return err
	}

	printResult(res)

	// A cancelled run carries no segments and is not worth persisting or
	// reporting on.
	if res.Outcome == rally.OutcomeCancelled {
		return nil
	}

	if *dbPath != "" {
		db, err := rallydb.Open(*dbPath)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := db.SaveRun(inputPath, res); err != nil {
			return err
		}
	}

	if *reportPath != "" {
		rep := &report.Report{VideoPath: inputPath, Result: res, Signals: signals}
		if err := rep.WriteFile(*reportPath); err != nil {
			return err
		}
		monitoring.Logf("wrote report to %s", *reportPath)
	}

	return nil
}

// openInput opens either the video or the detection log as the pipeline's
// frame source and detector pair.
func openInput() (rally.FrameSource, rally.Detector, string, func(), error) {
	if *detlogPath != "" {
		replay, err := detect.LoadReplay(*detlogPath)
		if err != nil {
			return nil, nil, "", nil, err
		}
		return replay, replay, *detlogPath, func() {}, nil
	}

	src, err := video.Open(*videoPath)
	if err != nil {
		return nil, nil, "", nil, err
	}
	detector, err := detect.NewTFLiteDetector(detect.TFLiteConfig{
		ModelPath:     *modelPath,
		MinConfidence: 0.2,
	})
	if err != nil {
		src.Close()
		return nil, nil, "", nil, err
	}
	cleanup := func() {
		detector.Close()
		src.Close()
	}
	return src, detector, *videoPath, cleanup, nil
}

func printResult(res rally.Result) {
	fmt.Printf("run %s: %s\n", res.RunID, res.Outcome)
	for i, seg := range res.Segments {
		fmt.Printf("  rally %2d  %8.2fs - %8.2fs  (%5.1fs)  confidence=%.2f quality=%.2f contacts=%d\n",
			i+1, seg.Start, seg.End, seg.Duration(), seg.Confidence, seg.Quality, seg.Contacts)
	}
	if len(res.Segments) > 0 {
		fmt.Printf("%d rallies, %.1fs of play out of %.1fs video (%.1f%%, %.1fx compression)\n",
			res.Export.SegmentCount, res.Export.TotalRallySecs, res.Export.VideoDuration,
			res.Export.CoveragePercent, res.Export.CompressionRatio)
	}
}

// buildPipelineConfig maps the tuning file onto the pipeline stage configs.
// The gate's score weights are not tunable and follow the library defaults.
func buildPipelineConfig(t *config.TuningConfig) rally.PipelineConfig {
	gateDefaults := rally.DefaultGateConfig()
	return rally.PipelineConfig{
		Tracker: rally.TrackerConfig{
			ProcessNoisePos:        t.GetProcessNoisePos(),
			ProcessNoiseVel:        t.GetProcessNoiseVel(),
			MeasurementNoise:       t.GetMeasurementNoise(),
			BaseGateRadius:         t.GetBaseGateRadius(),
			GateVelocityScale:      t.GetGateVelocityScale(),
			MaxMissedFrames:        t.GetMaxMissedFrames(),
			MinDetectionConfidence: t.GetMinDetectionConfidence(),
			ConfidenceDecay:        t.GetConfidenceDecay(),
			ConfidenceBoost:        t.GetConfidenceBoost(),
			MinSegmentPoints:       t.GetMinSegmentPoints(),
		},
		Motion: rally.MotionThresholds{
			Gravity:                 t.GetGravity(),
			GravityTolerance:        t.GetGravityTolerance(),
			MinPoints:               t.GetClassifierMinPoints(),
			CarriedMaxVerticalAccel: t.GetCarriedMaxVerticalAccel(),
			CarriedSpeedVariance:    t.GetCarriedSpeedVariance(),
			RollingMaxVerticalSpeed: t.GetRollingMaxVerticalSpeed(),
			MaxAccelVariance:        t.GetMaxAccelVariance(),
		},
		Gate: rally.GateConfig{
			MinPointsForFit:  t.GetMinPointsForFit(),
			MinRSquared:      t.GetMinRSquared(),
			MinConfidence:    t.GetMinGateConfidence(),
			MaxResidual:      t.GetMaxResidual(),
			TrajectoryWeight: gateDefaults.TrajectoryWeight,
			PhysicsWeight:    gateDefaults.PhysicsWeight,
			SmoothnessWeight: gateDefaults.SmoothnessWeight,
		},
		Decider: rally.DeciderConfig{
			StartDebounceFrames: t.GetStartDebounceFrames(),
			EndDebounceFrames:   t.GetEndDebounceFrames(),
		},
		Builder: rally.BuilderConfig{
			StartPadding:          t.GetStartPadding(),
			EndPadding:            t.GetEndPadding(),
			ShortSegmentThreshold: t.GetShortSegmentThreshold(),
			MaxPrerollForShort:    t.GetMaxPrerollForShort(),
			MergeGap:              t.GetMergeGap(),
			MinSegmentDuration:    t.GetMinSegmentDuration(),
			ContactSpeedJump:      t.GetContactSpeedJump(),
			ContactMinSeparation:  t.GetContactMinSeparation(),
		},
		SignalWindow:     t.GetSignalWindow(),
		ProgressInterval: t.GetProgressInterval(),
	}
}
