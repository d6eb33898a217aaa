package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	xerrors "github.com/livepeer/transcode-worker/errors"
	"github.com/livepeer/transcode-worker/log"
	"github.com/livepeer/transcode-worker/metrics"
	"github.com/livepeer/transcode-worker/pipeline"
	"github.com/livepeer/transcode-worker/video"
)

// errorMessageLimit bounds the `error` column's persisted length.
const errorMessageLimit = 2000

// Pipeline is the transcoding-pipeline contract the Runner drives.
// pipeline.Factory satisfies it directly; tests substitute a fake so the
// Runner's state machine can be exercised without ffmpeg/workspace I/O.
type Pipeline interface {
	Run(ctx context.Context, job pipeline.Job) (video.Metadata, error)
}

// PresetLoader resolves a Job's opaque preset_ref into a concrete
// video.Preset. The preset catalog itself (named presets, registries of
// tracks) lives outside this worker; this is the one operation required
// of it.
type PresetLoader interface {
	Load(ctx context.Context, ref string) (video.Preset, error)
}

// PresetLoaderFunc adapts a plain function to PresetLoader.
type PresetLoaderFunc func(ctx context.Context, ref string) (video.Preset, error)

func (f PresetLoaderFunc) Load(ctx context.Context, ref string) (video.Preset, error) {
	return f(ctx, ref)
}

// Runner drives one job through claim/process/finalize. One Runner
// may have ProcessJob called concurrently for distinct job ids; the
// Catalog's row lock is what prevents two Runners (in this process or
// another) from working the same job at once.
type Runner struct {
	Catalog  Catalog
	Pipeline Pipeline
	Presets  PresetLoader
	Metrics  *metrics.WorkerMetrics

	// ClaimRetries bounds the number of times lock() retries a claim
	// rejected for a "logical" reason (row missing/locked/wrong status);
	// transient infrastructure errors retry unbounded regardless. Zero
	// uses defaultClaimRetries.
	ClaimRetries int
	// ClaimRetryInterval is the delay between bounded claim retries.
	// Zero uses defaultClaimRetryInterval.
	ClaimRetryInterval time.Duration
	// RequeueCountdown is the delay the Runner waits before returning
	// from a graceful-shutdown requeue, standing in for the countdown
	// the broker applies before the re-queued task is redelivered.
	RequeueCountdown time.Duration

	// Edges and URLTemplate build the public playback URLs recorded in
	// PersistedMetadata.PlaybackURLs. Empty Edges yields no playback
	// URLs; an empty URLTemplate falls back to defaultURLTemplate.
	Edges       []string
	URLTemplate string
}

const defaultURLTemplate = "results/%s/index.m3u8"

// hexUUID renders a uuid the way workspace trees and playback URLs are
// namespaced: 32 hex digits, no dashes.
func hexUUID(u uuid.UUID) string {
	return strings.ReplaceAll(u.String(), "-", "")
}

// playbackURLs renders one playback URL per configured edge: each edge
// hostname is joined with URLTemplate (or the default template when none
// is configured), which substitutes the job's hex basename into its
// single %s.
func (r Runner) playbackURLs(basename string) []string {
	if len(r.Edges) == 0 {
		return nil
	}
	tmpl := r.URLTemplate
	if tmpl == "" {
		tmpl = defaultURLTemplate
	}
	path := fmt.Sprintf(tmpl, basename)
	urls := make([]string, 0, len(r.Edges))
	for _, edge := range r.Edges {
		urls = append(urls, strings.TrimSuffix(edge, "/")+"/"+strings.TrimPrefix(path, "/"))
	}
	return urls
}

const (
	defaultClaimRetries       = 5
	defaultClaimRetryInterval = 2 * time.Second
)

func (r Runner) claimRetries() int {
	if r.ClaimRetries > 0 {
		return r.ClaimRetries
	}
	return defaultClaimRetries
}

func (r Runner) claimRetryInterval() time.Duration {
	if r.ClaimRetryInterval > 0 {
		return r.ClaimRetryInterval
	}
	return defaultClaimRetryInterval
}

// ProcessJob runs the full claim -> process -> finalize cycle for jobID.
// taskToken is the task identity minted by the producer when it enqueued
// the job (delivered with the broker message); the claim only succeeds if
// the row's task_id still carries that same token. The returned error is
// for the caller's own logging/retry bookkeeping (e.g. whether to
// nack/requeue a broker message); the job's own terminal state has
// already been committed to the catalog by the time this returns, except
// when claim itself never succeeded.
func (r Runner) ProcessJob(ctx context.Context, jobID int64, taskToken uuid.UUID) error {
	j, err := r.lock(ctx, jobID, taskToken)
	if err != nil {
		if r.Metrics != nil && errors.Is(err, ErrNotClaimable) {
			r.Metrics.CatalogContention.Inc()
		}
		return fmt.Errorf("job %d: claim: %w", jobID, err)
	}

	if r.Metrics != nil {
		r.Metrics.JobsClaimed.Inc()
		r.Metrics.JobsInFlight.Inc()
		defer r.Metrics.JobsInFlight.Dec()
	}
	log.AddContext(fmt.Sprint(jobID), "task_id", taskToken.String(), "basename", hexUUID(*j.Basename))
	log.Log(fmt.Sprint(jobID), "job claimed", "source", log.RedactURL(j.SourceURI))

	start := time.Now()

	preset, err := r.loadPreset(ctx, j.PresetRef)
	if err != nil {
		return r.finalizeError(ctx, j, taskToken, err, start)
	}

	result, err := r.Pipeline.Run(ctx, pipeline.Job{
		ID:        j.ID,
		SourceURI: j.SourceURI,
		Basename:  hexUUID(*j.Basename),
		Preset:    preset,
	})

	switch {
	case err == nil:
		return r.finalizeDone(ctx, j, taskToken, result, start)
	case xerrors.IsCancelled(err):
		return r.finalizeRequeue(ctx, j, taskToken, err)
	default:
		return r.finalizeError(ctx, j, taskToken, err, start)
	}
}

func (r Runner) loadPreset(ctx context.Context, ref string) (video.Preset, error) {
	if r.Presets == nil {
		return video.DefaultPreset(), nil
	}
	preset, err := r.Presets.Load(ctx, ref)
	if err != nil {
		return video.Preset{}, err
	}
	return preset, nil
}

// lock claims jobID with a split retry policy: bounded retries for a
// claim rejected because the row is missing/locked/in the wrong state
// (ErrNotClaimable), unbounded exponential backoff for transient catalog
// transport errors.
func (r Runner) lock(ctx context.Context, jobID int64, taskToken uuid.UUID) (Job, error) {
	infraBackoff := backoff.NewExponentialBackOff()
	infraBackoff.InitialInterval = 500 * time.Millisecond
	infraBackoff.MaxInterval = 30 * time.Second
	infraBackoff.MaxElapsedTime = 0

	attempts := 0
	for {
		j, err := r.Catalog.Claim(ctx, jobID, taskToken)
		if err == nil {
			return j, nil
		}

		if xerrors.IsTransient(err) {
			d := infraBackoff.NextBackOff()
			log.LogNoRequestID("claim: transient catalog error, retrying", "job_id", jobID, "err", err.Error(), "wait", d.String())
			if werr := waitOrCancel(ctx, d); werr != nil {
				return Job{}, werr
			}
			continue
		}

		if errors.Is(err, ErrNotClaimable) {
			attempts++
			if attempts > r.claimRetries() {
				return Job{}, fmt.Errorf("exhausted %d claim retries: %w", r.claimRetries(), err)
			}
			if werr := waitOrCancel(ctx, r.claimRetryInterval()); werr != nil {
				return Job{}, werr
			}
			continue
		}

		return Job{}, err
	}
}

func waitOrCancel(ctx context.Context, d time.Duration) error {
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// finalizeDone commits the DONE terminal state: internal-only fields are
// stripped (scenes dropped from every stream) and duration is the min
// over all output stream durations.
func (r Runner) finalizeDone(ctx context.Context, j Job, taskToken uuid.UUID, result video.Metadata, start time.Time) error {
	duration := minStreamDuration(result)
	persisted := stripInternalFields(result)
	if j.Basename != nil {
		persisted.PlaybackURLs = r.playbackURLs(hexUUID(*j.Basename))
	}
	data, err := json.Marshal(persisted)
	if err != nil {
		return fmt.Errorf("job %d: marshaling terminal metadata: %w", j.ID, err)
	}

	err = r.finalizeWithRetry(ctx, j.ID, taskToken, StatusDone, FinalizeFields{
		Metadata: data,
		Duration: &duration,
	})
	r.observeTerminal(StatusDone, start)
	if err != nil {
		return fmt.Errorf("job %d: finalize DONE: %w", j.ID, err)
	}
	log.Log(fmt.Sprint(j.ID), "job done", "duration", duration.String())
	return nil
}

// finalizeError commits the ERROR terminal state with a truncated,
// repr-style message.
func (r Runner) finalizeError(ctx context.Context, j Job, taskToken uuid.UUID, cause error, start time.Time) error {
	msg := truncateError(cause)
	err := r.finalizeWithRetry(ctx, j.ID, taskToken, StatusError, FinalizeFields{Error: &msg})
	r.observeTerminal(StatusError, start)
	if err != nil {
		return fmt.Errorf("job %d: finalize ERROR (cause %v): %w", j.ID, cause, err)
	}
	log.LogError(fmt.Sprint(j.ID), "job error", cause)
	return cause
}

// finalizeRequeue handles a graceful shutdown: the job goes back to
// QUEUED (not ERROR), the shutdown reason is recorded in `error`, and
// the Runner waits RequeueCountdown before returning so the broker's own
// re-delivery countdown has something to line up with.
func (r Runner) finalizeRequeue(ctx context.Context, j Job, taskToken uuid.UUID, reason error) error {
	msg := truncateError(reason)
	err := r.finalizeWithRetry(ctx, j.ID, taskToken, StatusQueued, FinalizeFields{Error: &msg})
	if err != nil {
		return fmt.Errorf("job %d: finalize requeue: %w", j.ID, err)
	}
	log.Log(fmt.Sprint(j.ID), "job requeued on cooperative shutdown", "reason", msg)
	if r.RequeueCountdown > 0 {
		_ = waitOrCancel(context.Background(), r.RequeueCountdown)
	}
	return nil
}

func (r Runner) observeTerminal(status Status, start time.Time) {
	if r.Metrics == nil {
		return
	}
	label := "done"
	if status == StatusError {
		label = "error"
	}
	r.Metrics.JobsCompleted.WithLabelValues(label).Inc()
	r.Metrics.JobDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
}

// finalizeWithRetry retries a Finalize call against transient catalog
// errors with unbounded backoff; a lost-ownership error is fatal for the
// task and never retried.
func (r Runner) finalizeWithRetry(ctx context.Context, jobID int64, taskToken uuid.UUID, status Status, fields FinalizeFields) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0

	operation := func() error {
		err := r.Catalog.Finalize(ctx, jobID, taskToken, status, fields)
		if err == nil {
			return nil
		}
		if xerrors.IsTransient(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(operation, backoff.WithContext(b, ctx))
}

// truncateError renders cause repr-style (kind: message) and bounds its
// length for the `error` column.
func truncateError(cause error) string {
	msg := cause.Error()
	if len(msg) > errorMessageLimit {
		msg = msg[:errorMessageLimit] + "...(truncated)"
	}
	return msg
}

func minStreamDuration(m video.Metadata) time.Duration {
	var min float64
	have := false
	for _, v := range m.Videos {
		if !have || v.Duration < min {
			min, have = v.Duration, true
		}
	}
	for _, a := range m.Audios {
		if !have || a.Duration < min {
			min, have = a.Duration, true
		}
	}
	if !have {
		return 0
	}
	return time.Duration(min * float64(time.Second))
}

// PersistedMetadata is the stable, versioned schema written to the
// catalog's `metadata` column: downstream consumers are coupled to this
// shape, not to video.Metadata's internal fields. Scenes and other
// internal-only fields are never included.
type PersistedMetadata struct {
	Version int    `json:"version"`
	URI     string `json:"uri"`
	// PlaybackURLs is one entry per configured edge; empty when no edges
	// are configured.
	PlaybackURLs []string               `json:"playback_urls,omitempty"`
	Videos       []PersistedVideoStream `json:"videos"`
	Audios       []PersistedAudioStream `json:"audios"`
}

type PersistedVideoStream struct {
	Width     int     `json:"width"`
	Height    int     `json:"height"`
	DAR       float64 `json:"dar"`
	PAR       float64 `json:"par"`
	FrameRate float64 `json:"frame_rate"`
	Frames    int64   `json:"frames"`
	Bitrate   int64   `json:"bitrate"`
	Duration  float64 `json:"duration"`
}

type PersistedAudioStream struct {
	Channels     int     `json:"channels"`
	SamplingRate int     `json:"sampling_rate"`
	Samples      int64   `json:"samples"`
	Bitrate      int64   `json:"bitrate"`
	Duration     float64 `json:"duration"`
}

const persistedMetadataVersion = 1

func stripInternalFields(m video.Metadata) PersistedMetadata {
	out := PersistedMetadata{Version: persistedMetadataVersion, URI: m.URI}
	for _, v := range m.Videos {
		out.Videos = append(out.Videos, PersistedVideoStream{
			Width: v.Width, Height: v.Height, DAR: v.DAR, PAR: v.PAR,
			FrameRate: v.FrameRate, Frames: v.Frames, Bitrate: v.Bitrate, Duration: v.Duration,
		})
	}
	for _, a := range m.Audios {
		out.Audios = append(out.Audios, PersistedAudioStream{
			Channels: a.Channels, SamplingRate: a.SamplingRate, Samples: a.Samples,
			Bitrate: a.Bitrate, Duration: a.Duration,
		})
	}
	return out
}
