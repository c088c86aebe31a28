package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/flyerscan/constants"
	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/core"
	"github.com/joseph-ayodele/flyerscan/internal/entity"
	"github.com/joseph-ayodele/flyerscan/internal/export"
	"github.com/joseph-ayodele/flyerscan/internal/geo"
	"github.com/joseph-ayodele/flyerscan/internal/ingest"
	"github.com/joseph-ayodele/flyerscan/internal/metrics"
)

// printError prints an error message to stderr, falling back to stdout if stderr fails
func printError(format string, args ...interface{}) {
	if _, err := fmt.Fprintf(os.Stderr, format, args...); err != nil {
		fmt.Printf(format, args...)
	}
}

type line struct {
	Path   string                   `json:"path"`
	JobID  string                   `json:"jobId"`
	Result *entity.MultiEventResult `json:"result,omitempty"`
	Error  *entity.JobError         `json:"error,omitempty"`
}

func main() {
	var (
		dir        = flag.String("dir", "", "directory of flyer images (required)")
		out        = flag.String("out", "", "optional XLSX output path")
		cityState  = flag.String("city", "", "user city/state hint")
		lat        = flag.Float64("lat", 0, "user latitude (requires --lon)")
		lon        = flag.Float64("lon", 0, "user longitude (requires --lat)")
		parallel   = flag.Int("parallel", 2, "images processed concurrently")
		skipHidden = flag.Bool("skip-hidden", true, "skip dotfiles and dot-directories")
	)
	flag.Parse()

	if *dir == "" {
		printError("Error: --dir is required\n")
		os.Exit(1)
	}

	cfg, err := common.LoadConfig()
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	// results go to stdout, logs to stderr
	logger := common.NewLogger(cfg.Log, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	user := &geo.UserContext{CityState: *cityState}
	if *lat != 0 || *lon != 0 {
		v := common.NewValidator().
			Field("latitude", *lat, common.Latitude).
			Field("longitude", *lon, common.Longitude)
		if err := common.ValidateAndReturnError(v); err != nil {
			printError("Error: %v\n", err)
			os.Exit(1)
		}
		user.Coordinates = &orb.Point{*lon, *lat}
	}

	counters := metrics.New()
	pipeline, err := core.NewPipeline(ctx, cfg, logger, counters)
	if err != nil {
		printError("Error: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = pipeline.Close() }()

	paths, err := ingest.ListImages(*dir, *skipHidden)
	if err != nil {
		printError("Error: list %s: %v\n", *dir, err)
		os.Exit(1)
	}
	logger.Info("batch.start", "dir", *dir, "images", len(paths))

	var (
		mu   sync.Mutex
		jobs []entity.Job
		enc  = json.NewEncoder(os.Stdout)
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, *parallel))
	for _, p := range paths {
		g.Go(func() error {
			rec := line{Path: p, JobID: uuid.NewString()}
			job := entity.Job{ID: rec.JobID, Source: "batch:" + filepath.Base(p), CreatedAt: time.Now().UTC()}

			image, err := os.ReadFile(p)
			if err == nil {
				rec.Result, err = pipeline.Orchestrator.Process(gctx, core.Request{
					Image:    image,
					MimeType: constants.MimeTypeForExt(filepath.Ext(p)),
					User:     user,
				}, nil)
			}
			job.UpdatedAt = time.Now().UTC()
			if err != nil {
				rec.Error = &entity.JobError{Code: common.JobErrorCode(err), Message: err.Error()}
				job.Status, job.Error = constants.JobStatusFailed, rec.Error
				counters.JobFailed()
			} else {
				job.Status, job.Progress, job.Result = constants.JobStatusCompleted, 100, rec.Result
				counters.JobCompleted()
			}

			mu.Lock()
			defer mu.Unlock()
			jobs = append(jobs, job)
			if err := enc.Encode(rec); err != nil {
				logger.Warn("batch.write.failed", "path", p, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	if *out != "" {
		xlsx, err := export.NewService(logger).EventsXLSX(filepath.Base(*dir), jobs)
		if err != nil {
			printError("Error: export: %v\n", err)
			os.Exit(1)
		}
		if err := os.WriteFile(*out, xlsx, 0o644); err != nil {
			printError("Error: write %s: %v\n", *out, err)
			os.Exit(1)
		}
	}

	snap := counters.Snapshot()
	logger.Info("batch.complete",
		"images", len(paths),
		"completed", snap.JobsCompleted,
		"failed", snap.JobsFailed,
		"cache_hits", snap.CacheHits,
		"output_file", *out,
	)
}
