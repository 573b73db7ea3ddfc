// Package pipeline drives one application through the extraction stages:
// submit, poll-to-completion, group, normalize, embed, persist. Stage
// progress is explicit data so failures always name the stage that raised
// them, and every stage is re-derivable from the storage ref alone, which
// makes redelivered jobs safe to restart from the beginning.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/applyline/applyline/constants"
	"github.com/applyline/applyline/internal/blobstore"
	"github.com/applyline/applyline/internal/common"
	"github.com/applyline/applyline/internal/docanalysis"
	"github.com/applyline/applyline/internal/entity"
	"github.com/applyline/applyline/internal/grouping"
	"github.com/applyline/applyline/internal/llm"
	"github.com/applyline/applyline/internal/queue"
	"github.com/applyline/applyline/internal/repository"
)

// Stage names a step of the pipeline for logging and failure reasons.
type Stage string

const (
	StageSubmit    Stage = "submit"
	StagePoll      Stage = "poll"
	StageGroup     Stage = "group"
	StageNormalize Stage = "normalize"
	StageEmbed     Stage = "embed"
	StagePersist   Stage = "persist"
)

// Executor runs the per-job state machine. It is the only writer of
// application status and result fields after creation.
type Executor struct {
	repo       repository.ApplicationRepository
	queue      queue.Queue
	blobs      blobstore.Store
	analyzer   docanalysis.Analyzer
	normalizer llm.Normalizer
	embedder   llm.Embedder
	logger     *slog.Logger

	maxAttempts  int
	backoffBase  time.Duration
	backoffCap   time.Duration
	stageTimeout time.Duration
	pollBudget   time.Duration
	pollStart    time.Duration
	pollMax      time.Duration
}

type Option func(*Executor)

func WithMaxAttempts(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxAttempts = n
		}
	}
}

func WithBackoff(base, cap time.Duration) Option {
	return func(e *Executor) {
		if base > 0 {
			e.backoffBase = base
		}
		if cap > 0 {
			e.backoffCap = cap
		}
	}
}

func WithStageTimeout(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.stageTimeout = d
		}
	}
}

func WithPollBudget(d time.Duration) Option {
	return func(e *Executor) {
		if d > 0 {
			e.pollBudget = d
		}
	}
}

// WithPollSchedule overrides the poll backoff bounds (tests use tiny ones).
func WithPollSchedule(start, max time.Duration) Option {
	return func(e *Executor) {
		if start > 0 {
			e.pollStart = start
		}
		if max > 0 {
			e.pollMax = max
		}
	}
}

func NewExecutor(
	repo repository.ApplicationRepository,
	q queue.Queue,
	blobs blobstore.Store,
	analyzer docanalysis.Analyzer,
	normalizer llm.Normalizer,
	embedder llm.Embedder,
	logger *slog.Logger,
	opts ...Option,
) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Executor{
		repo:         repo,
		queue:        q,
		blobs:        blobs,
		analyzer:     analyzer,
		normalizer:   normalizer,
		embedder:     embedder,
		logger:       logger,
		maxAttempts:  5,
		backoffBase:  5 * time.Second,
		backoffCap:   5 * time.Minute,
		stageTimeout: 2 * time.Minute,
		pollBudget:   10 * time.Minute,
		pollStart:    time.Second,
		pollMax:      30 * time.Second,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// result carries the outputs of a successful run into the persist stage.
type result struct {
	extracted json.RawMessage
	embedding []float32
}

// Execute processes one leased job to an outcome: ack on terminal status,
// requeue with backoff on a retryable failure, or silent abandonment on
// an optimistic-concurrency conflict (the lease will expire and the job
// will be redelivered, or another actor already finished it).
func (e *Executor) Execute(ctx context.Context, d *queue.Descriptor) {
	log := e.logger.With("job_id", d.JobID, "application_id", d.ApplicationID, "attempt", d.Attempt)

	app, err := e.repo.Get(ctx, d.ApplicationID)
	if errors.Is(err, common.ErrNotFound) {
		log.Error("application missing for job; dropping")
		e.finishQueue(ctx, log, e.queue.NackPermanent, d)
		return
	}
	if err != nil {
		log.Error("load application failed", "error", err)
		e.retryOrFail(ctx, log, d, nil, common.Transient("load", "load application", err))
		return
	}

	if app.Status.Terminal() {
		// Redelivery after a completed run; nothing left to do.
		log.Info("application already terminal", "status", app.Status)
		e.finishQueue(ctx, log, e.queue.Ack, d)
		return
	}

	// Claim the run before any stage work so status reads never show
	// QUEUED while a worker holds the lease. The prior status is QUEUED
	// on first delivery and PROCESSING on redelivery after lease expiry.
	err = e.repo.UpdateStatus(ctx, app.ID,
		repository.StatusUpdate{Status: constants.StatusProcessing}, app.Status)
	if errors.Is(err, common.ErrConflict) {
		log.Warn("status moved underneath us; abandoning run")
		return
	}
	if err != nil {
		e.retryOrFail(ctx, log, d, app, common.Transient("claim", "mark processing", err))
		return
	}
	app.Status = constants.StatusProcessing

	res, runErr := e.run(ctx, log, app)
	if runErr != nil {
		e.retryOrFail(ctx, log, d, app, runErr)
		return
	}

	err = e.repo.UpdateStatus(ctx, app.ID, repository.StatusUpdate{
		Status:        constants.StatusCompleted,
		ExtractedData: res.extracted,
		Embedding:     res.embedding,
	}, constants.StatusProcessing)
	if errors.Is(err, common.ErrConflict) {
		log.Warn("terminal update conflicted; abandoning run")
		return
	}
	if err != nil {
		e.retryOrFail(ctx, log, d, app, common.AsClassified(string(StagePersist), err))
		return
	}

	log.Info("application completed", "embedding_dims", len(res.embedding))
	e.finishQueue(ctx, log, e.queue.Ack, d)
}

// run executes the stage sequence once. Each stage either feeds the next
// or returns a classified failure.
func (e *Executor) run(ctx context.Context, log *slog.Logger, app *entity.Application) (result, *common.ClassifiedError) {
	// Submit.
	if app.StorageRef == "" {
		return result{}, common.Permanent(string(StageSubmit), "storage reference is missing", nil)
	}
	if err := e.inStage(ctx, func(sctx context.Context) error {
		return e.blobs.Stat(sctx, app.StorageRef)
	}); err != nil {
		if errors.Is(err, common.ErrNotFound) {
			return result{}, common.Permanent(string(StageSubmit), "stored document not found", err)
		}
		return result{}, common.AsClassified(string(StageSubmit), err)
	}

	var handle string
	if err := e.inStage(ctx, func(sctx context.Context) error {
		var err error
		handle, err = e.analyzer.Submit(sctx, app.StorageRef)
		return err
	}); err != nil {
		return result{}, common.AsClassified(string(StageSubmit), err)
	}
	log.Info("analysis submitted", "job_handle", handle)

	// Poll to completion, then drain all result pages.
	fragments, perr := e.pollAndFetch(ctx, log, handle)
	if perr != nil {
		return result{}, perr
	}
	log.Info("analysis fetched", "fragments", len(fragments))

	// Group.
	grouped := grouping.Group(fragments)
	if grouped.LineCount() == 0 {
		return result{}, common.Permanent(string(StageGroup), "document produced no text", nil)
	}
	log.Debug("grouped text", "sections", len(grouped), "lines", grouped.LineCount())

	// Normalize.
	var extracted json.RawMessage
	if err := e.inStage(ctx, func(sctx context.Context) error {
		var err error
		extracted, err = e.normalizer.Normalize(sctx, grouped)
		return err
	}); err != nil {
		return result{}, common.AsClassified(string(StageNormalize), err)
	}
	// A well-formed response that misses the contract counts as a
	// retryable attempt: the normalizer may succeed next time.
	if err := llm.ValidateJSONAgainstSchema(llm.BuildResumeJSONSchema(), extracted); err != nil {
		return result{}, common.Transient(string(StageNormalize), "normalizer output failed schema validation", err)
	}

	// Embed.
	text, err := llm.FlattenForEmbedding(extracted)
	if err != nil {
		return result{}, common.Transient(string(StageEmbed), "flatten normalized record", err)
	}
	var embedding []float32
	if err := e.inStage(ctx, func(sctx context.Context) error {
		var err error
		embedding, err = e.embedder.Embed(sctx, text)
		return err
	}); err != nil {
		return result{}, common.AsClassified(string(StageEmbed), err)
	}

	return result{extracted: extracted, embedding: embedding}, nil
}

// pollAndFetch polls with bounded exponential backoff until the provider
// reports an outcome, then follows continuation tokens until all pages
// are drained. Exceeding the wall-clock budget is a transient failure.
func (e *Executor) pollAndFetch(ctx context.Context, log *slog.Logger, handle string) ([]grouping.Fragment, *common.ClassifiedError) {
	deadline := time.Now().Add(e.pollBudget)
	interval := e.pollStart
	for {
		var pr docanalysis.PollResult
		if err := e.inStage(ctx, func(sctx context.Context) error {
			var err error
			pr, err = e.analyzer.Poll(sctx, handle)
			return err
		}); err != nil {
			return nil, common.AsClassified(string(StagePoll), err)
		}

		if pr.State == docanalysis.StateDone {
			break
		}
		if pr.State == docanalysis.StateFailed {
			return nil, common.Permanent(string(StagePoll), "provider failed the document: "+pr.Message, nil)
		}
		if time.Now().After(deadline) {
			return nil, common.Transient(string(StagePoll), fmt.Sprintf("analysis not done within %s", e.pollBudget), nil)
		}

		log.Debug("analysis pending", "job_handle", handle, "next_poll", interval)
		select {
		case <-ctx.Done():
			return nil, common.Transient(string(StagePoll), "poll interrupted", ctx.Err())
		case <-time.After(interval):
		}
		interval *= 2
		if interval > e.pollMax {
			interval = e.pollMax
		}
	}

	var fragments []grouping.Fragment
	token := ""
	for {
		var page docanalysis.Page
		if err := e.inStage(ctx, func(sctx context.Context) error {
			var err error
			page, err = e.analyzer.FetchPage(sctx, handle, token)
			return err
		}); err != nil {
			return nil, common.AsClassified(string(StagePoll), err)
		}
		fragments = append(fragments, page.Fragments...)
		if page.NextToken == "" {
			return fragments, nil
		}
		token = page.NextToken
	}
}

// retryOrFail applies the retry policy to a classified run failure:
// requeue with exponential backoff while attempts remain, otherwise mark
// the application FAILED and drop the job.
func (e *Executor) retryOrFail(ctx context.Context, log *slog.Logger, d *queue.Descriptor, app *entity.Application, ce *common.ClassifiedError) {
	permanent := ce.Class == common.ClassPermanent
	exhausted := d.Attempt >= e.maxAttempts

	if !permanent && !exhausted {
		delay := e.backoff(d.Attempt)
		log.Warn("stage failed; requeueing",
			"stage", ce.Stage, "error", ce, "delay", delay)
		if err := e.queue.Requeue(ctx, d.JobID, delay); err != nil {
			// The lease will expire and redeliver on its own.
			log.Error("requeue failed; relying on lease expiry", "error", err)
		}
		return
	}

	reason := ce.Error()
	if !permanent && exhausted {
		reason = fmt.Sprintf("%s (retries exhausted after %d attempts)", ce.Error(), d.Attempt)
	}
	log.Error("run failed terminally", "stage", ce.Stage, "permanent", permanent, "reason", reason)

	// The job is removed only after the application is marked FAILED. With
	// no record in hand we cannot do that, so keep the job and let lease
	// expiry redeliver; the record store may have recovered by then.
	if app == nil {
		log.Error("no application record to mark FAILED; relying on lease expiry")
		return
	}

	err := e.repo.UpdateStatus(ctx, app.ID, repository.StatusUpdate{
		Status:       constants.StatusFailed,
		FailedReason: &reason,
	}, constants.StatusProcessing)
	if errors.Is(err, common.ErrConflict) {
		log.Warn("terminal failure update conflicted; abandoning run")
		return
	}
	if err != nil {
		log.Error("failed to mark application FAILED; relying on lease expiry", "error", err)
		return
	}
	e.finishQueue(ctx, log, e.queue.NackPermanent, d)
}

func (e *Executor) backoff(attempt int) time.Duration {
	delay := e.backoffBase
	for i := 0; i < attempt && delay < e.backoffCap; i++ {
		delay *= 2
	}
	if delay > e.backoffCap {
		delay = e.backoffCap
	}
	return delay
}

// inStage runs fn under the per-stage wall-clock timeout.
func (e *Executor) inStage(ctx context.Context, fn func(context.Context) error) error {
	sctx, cancel := context.WithTimeout(ctx, e.stageTimeout)
	defer cancel()
	return fn(sctx)
}

func (e *Executor) finishQueue(ctx context.Context, log *slog.Logger, op func(context.Context, uuid.UUID) error, d *queue.Descriptor) {
	if err := op(ctx, d.JobID); err != nil && !errors.Is(err, common.ErrNotFound) {
		log.Error("queue finish failed", "error", err)
	}
}
