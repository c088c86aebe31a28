package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/joseph-ayodele/flyerscan/internal/cache"
	"github.com/joseph-ayodele/flyerscan/internal/common"
	"github.com/joseph-ayodele/flyerscan/internal/entity"
	"github.com/joseph-ayodele/flyerscan/internal/geo"
	"github.com/joseph-ayodele/flyerscan/internal/llm"
	"github.com/joseph-ayodele/flyerscan/internal/qr"
)

// Stage is a step of the extraction state machine.
type Stage string

const (
	StageQueued            Stage = "queued"
	StageCacheCheck        Stage = "cache_check"
	StageDecoding          Stage = "decoding"
	StageExtracting        Stage = "extracting"
	StageResolving         Stage = "resolving"
	StagePerEventResolving Stage = "per_event_resolving"
	StageDone              Stage = "done"
	StageFailed            Stage = "failed"
)

// Reporter observes stage transitions. Implementations must not block.
type Reporter interface {
	Progress(stage Stage, percent int, message string)
}

// ReporterFunc adapts a function to Reporter.
type ReporterFunc func(stage Stage, percent int, message string)

func (f ReporterFunc) Progress(stage Stage, percent int, message string) { f(stage, percent, message) }

type nopReporter struct{}

func (nopReporter) Progress(Stage, int, string) {}

// LocationResolver is satisfied by *geo.Resolver.
type LocationResolver interface {
	ResolveLocation(ctx context.Context, clues []string, user *geo.UserContext) entity.ResolvedLocation
}

// Request is one image to process.
type Request struct {
	Image    []byte
	MimeType string
	User     *geo.UserContext
}

// Orchestrator sequences cache lookup, QR decode, vision extraction and
// per-event location resolution for one image.
type Orchestrator struct {
	logger   *slog.Logger
	cache    *cache.Service
	vision   llm.VisionExtractor
	resolver LocationResolver
	decodeQR func([]byte) qr.Result
	now      func() time.Time
}

func NewOrchestrator(
	logger *slog.Logger,
	cacheSvc *cache.Service,
	vision llm.VisionExtractor,
	resolver LocationResolver,
) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cacheSvc == nil {
		cacheSvc = cache.New(cache.WithLogger(logger))
	}
	return &Orchestrator{
		logger:   logger,
		cache:    cacheSvc,
		vision:   vision,
		resolver: resolver,
		decodeQR: qr.Decode,
		now:      time.Now,
	}
}

// Process runs the pipeline for req. A nil error means the result reached
// done; extraction failures return a classified *common.AppError. Location
// resolution problems never fail the run.
func (o *Orchestrator) Process(ctx context.Context, req Request, rep Reporter) (*entity.MultiEventResult, error) {
	if rep == nil {
		rep = nopReporter{}
	}
	if len(req.Image) == 0 {
		return nil, common.NewAppError("INVALID_INPUT", "empty image", common.ErrInvalidInput)
	}
	start := time.Now()
	rep.Progress(StageQueued, 0, "Queued")

	// 1) cache check → a hit skips everything else
	rep.Progress(StageCacheCheck, 10, "Checking for a previous scan")
	fp := o.cache.Fingerprint(req.Image)
	if res, ok := o.lookup(ctx, fp); ok {
		o.logger.Info("orchestrator.cache.hit", "fingerprint", fp, "events", len(res.Events))
		rep.Progress(StageDone, 100, "Loaded from cache")
		return res, nil
	}

	// 2) QR decode and vision extraction run side by side
	rep.Progress(StageDecoding, 20, "Looking for QR codes")
	rep.Progress(StageExtracting, 30, "Reading flyer")
	var (
		local  qr.Result
		res    *entity.MultiEventResult
		extErr error
		g      errgroup.Group
	)
	g.Go(func() error {
		local = o.decodeQR(req.Image)
		return nil
	})
	g.Go(func() error {
		vreq := llm.ExtractRequest{Image: req.Image, MimeType: req.MimeType}
		if req.User != nil {
			vreq.LocationHint = req.User.CityState
		}
		res, extErr = o.vision.Extract(ctx, vreq)
		return nil
	})
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		rep.Progress(StageFailed, 100, "Interrupted")
		return nil, interrupted(err)
	}
	if extErr == nil && (res == nil || !res.Success) {
		msg := "extraction returned no usable events"
		if res != nil && res.Error != "" {
			msg = res.Error
		}
		extErr = common.SchemaViolation(msg, nil)
	}
	if extErr != nil {
		o.logger.Error("orchestrator.extract.failed", "fingerprint", fp, "error", extErr,
			"elapsed_ms", time.Since(start).Milliseconds())
		rep.Progress(StageFailed, 100, "Extraction failed")
		var appErr *common.AppError
		if !errors.As(extErr, &appErr) {
			extErr = common.ProviderFailure("vision extraction", extErr)
		}
		return nil, extErr
	}

	for i := range res.Events {
		ev := &res.Events[i]
		merged := qr.Merge(local, ev.QRDetected, ev.QRPayload)
		ev.QRDetected, ev.QRPayload = merged.Detected, merged.Payload
	}

	// 3) location resolution, once or per event
	if res.IsMultiEvent {
		rep.Progress(StagePerEventResolving, 70, fmt.Sprintf("Locating %d events", len(res.Events)))
	} else {
		rep.Progress(StageResolving, 70, "Locating venue")
	}
	o.resolveAll(ctx, res, req.User)

	// locations resolved under a dead context are degraded and must not be cached
	if err := ctx.Err(); err != nil {
		o.logger.Warn("orchestrator.interrupted", "fingerprint", fp, "stage", StageResolving, "error", err)
		rep.Progress(StageFailed, 100, "Interrupted")
		return nil, interrupted(err)
	}

	// 4) cache write only once the result is final
	if res.IsMultiEvent {
		o.cache.PutMulti(ctx, fp, res)
	} else {
		o.cache.PutSingle(ctx, fp, &res.Events[0])
	}

	o.logger.Info("orchestrator.done",
		"fingerprint", fp,
		"events", len(res.Events),
		"is_multi", res.IsMultiEvent,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	rep.Progress(StageDone, 100, "Done")
	return res, nil
}

// interrupted classifies a dead job context: a deadline is a provider
// timeout, anything else is a cancellation.
func interrupted(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return common.ProviderFailure("processing timed out", err)
	}
	return errors.Join(common.ErrCancelled, err)
}

func (o *Orchestrator) lookup(ctx context.Context, fp string) (*entity.MultiEventResult, bool) {
	res, ok := o.cache.Lookup(ctx, fp)
	if !ok {
		return nil, false
	}
	res.ExtractedAt = o.now().UTC()
	res.Cached = true
	return res, true
}

// resolveAll resolves each event independently; one event's failure leaves
// its siblings untouched.
func (o *Orchestrator) resolveAll(ctx context.Context, res *entity.MultiEventResult, user *geo.UserContext) {
	if o.resolver == nil {
		return
	}
	var g errgroup.Group
	for i := range res.Events {
		ev := &res.Events[i]
		if ev.StructuredEvent == nil {
			continue
		}
		g.Go(func() error {
			loc := o.resolver.ResolveLocation(ctx, ev.StructuredEvent.LocationClues(), user)
			ev.ResolvedLocation = &loc
			if loc.Confidence > 0 && ev.StructuredEvent.Timezone == entity.DefaultTimezone && loc.Timezone != "" {
				ev.StructuredEvent.Timezone = loc.Timezone
			}
			if loc.Confidence == 0 {
				o.logger.Warn("orchestrator.resolve.degraded", "title", ev.StructuredEvent.Title, "error", loc.Error, "notes", loc.Notes)
			}
			return nil
		})
	}
	_ = g.Wait()
}
