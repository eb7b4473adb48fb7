package provider

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/manash/memegen/pkg/models"
)

// Unavailable stands in for a backend that could not be configured.
type Unavailable struct {
	provider models.ProviderType
	reason   error
}

func NewUnavailable(p models.ProviderType, reason error) *Unavailable {
	if reason == nil {
		reason = ErrAPIKeyRequired
	}
	return &Unavailable{provider: p, reason: reason}
}

func (u *Unavailable) Name() models.ProviderType { return u.provider }

func (u *Unavailable) Reason() error { return u.reason }

func (u *Unavailable) SuggestCaptions(context.Context, *models.Image) ([]string, error) {
	return nil, fmt.Errorf("%w: %w", ErrCaptionsFailed, u.reason)
}

func (u *Unavailable) AnalyzeImage(context.Context, *models.Image) (*models.AnalysisResult, error) {
	return nil, fmt.Errorf("%w: %w", ErrAnalysisFailed, u.reason)
}

func (u *Unavailable) EditImage(context.Context, *models.Image, string) (*models.Image, error) {
	return nil, fmt.Errorf("%w: %w", ErrEditFailed, u.reason)
}

const (
	DefaultRate  = 1.0
	DefaultBurst = 2
)

// RateLimited throttles every call of the wrapped gateway with a shared
// token bucket.
type RateLimited struct {
	next    Gateway
	limiter *rate.Limiter
}

func NewRateLimited(next Gateway, perSecond float64, burst int) *RateLimited {
	if perSecond <= 0 {
		perSecond = DefaultRate
	}
	if burst <= 0 {
		burst = DefaultBurst
	}
	return &RateLimited{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(perSecond), burst),
	}
}

func (r *RateLimited) Name() models.ProviderType { return r.next.Name() }

func (r *RateLimited) ModelFor(op models.Operation) string {
	if mr, ok := r.next.(ModelReporter); ok {
		return mr.ModelFor(op)
	}
	return ""
}

func (r *RateLimited) SuggestCaptions(ctx context.Context, img *models.Image) ([]string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptionsFailed, err)
	}
	return r.next.SuggestCaptions(ctx, img)
}

func (r *RateLimited) AnalyzeImage(ctx context.Context, img *models.Image) (*models.AnalysisResult, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}
	return r.next.AnalyzeImage(ctx, img)
}

func (r *RateLimited) EditImage(ctx context.Context, img *models.Image, instruction string) (*models.Image, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEditFailed, err)
	}
	return r.next.EditImage(ctx, img, instruction)
}

// Call describes one finished gateway call.
type Call struct {
	Provider  models.ProviderType
	Model     string
	Operation models.Operation
	Success   bool
	Duration  time.Duration
}

// Recorded reports every call of the wrapped gateway to a callback.
type Recorded struct {
	next   Gateway
	record func(Call)
	now    func() time.Time
}

func NewRecorded(next Gateway, record func(Call)) *Recorded {
	return &Recorded{next: next, record: record, now: time.Now}
}

func (r *Recorded) Name() models.ProviderType { return r.next.Name() }

func (r *Recorded) ModelFor(op models.Operation) string {
	if mr, ok := r.next.(ModelReporter); ok {
		return mr.ModelFor(op)
	}
	return ""
}

func (r *Recorded) SuggestCaptions(ctx context.Context, img *models.Image) ([]string, error) {
	start := r.now()
	captions, err := r.next.SuggestCaptions(ctx, img)
	r.finish(models.OperationCaptions, start, err)
	return captions, err
}

func (r *Recorded) AnalyzeImage(ctx context.Context, img *models.Image) (*models.AnalysisResult, error) {
	start := r.now()
	result, err := r.next.AnalyzeImage(ctx, img)
	r.finish(models.OperationAnalyze, start, err)
	return result, err
}

func (r *Recorded) EditImage(ctx context.Context, img *models.Image, instruction string) (*models.Image, error) {
	start := r.now()
	edited, err := r.next.EditImage(ctx, img, instruction)
	r.finish(models.OperationEdit, start, err)
	return edited, err
}

func (r *Recorded) finish(op models.Operation, start time.Time, err error) {
	if r.record == nil {
		return
	}
	r.record(Call{
		Provider:  r.next.Name(),
		Model:     r.ModelFor(op),
		Operation: op,
		Success:   err == nil,
		Duration:  r.now().Sub(start),
	})
}
