// Package pipeline implements the Strategy Orchestrator: the resumable,
// sentinel-guarded pipeline that sequences Analyze, Select, Split,
// per-chunk Transcode, Concat+Segment and Cleanup.
package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/grafov/m3u8"

	xerrors "github.com/livepeer/transcode-worker/errors"
	"github.com/livepeer/transcode-worker/log"
	"github.com/livepeer/transcode-worker/transcode"
	"github.com/livepeer/transcode-worker/video"
	"github.com/livepeer/transcode-worker/workspace"
)

// durationDelta is the minimum acceptable ratio of output duration to
// source duration. A damaged source can transcode "successfully" into a
// result that is much shorter than the source; anything below this ratio
// is rejected as a validation failure.
const durationDelta = 0.95

// Job is the orchestrator's view of the unit of work: everything it needs
// to drive one pipeline run, independent of how the catalog represents it.
type Job struct {
	ID        int64
	SourceURI string
	Basename  string // hex uuid, namespaces both the temp and store trees
	Preset    video.Preset
}

// Config carries the operator-tunable parameters the orchestrator itself
// consults (everything else lives in the workspace.Config each backend
// already received).
type Config struct {
	ChunkDuration   time.Duration
	SegmentDuration time.Duration
	EncodeTimeout   time.Duration
}

// Factory builds a per-job Orchestrator rooted at <temp>/<basename>/ and
// <store>/<basename>/ and runs it. This is what the Job Runner drives: a
// fresh pair of workspaces per job keeps every sentinel, chunk and
// cleanup strictly inside that job's own subtree.
type Factory struct {
	TempBase        string
	ResultsBase     string
	WorkspaceConfig workspace.Config
	Prober          video.Prober
	Config          Config
}

func (f Factory) Run(ctx context.Context, job Job) (video.Metadata, error) {
	temp, err := workspace.New(joinBase(f.TempBase, job.Basename), f.WorkspaceConfig)
	if err != nil {
		return video.Metadata{}, err
	}
	results, err := workspace.New(joinBase(f.ResultsBase, job.Basename), f.WorkspaceConfig)
	if err != nil {
		return video.Metadata{}, err
	}
	o := New(temp, results, f.Prober, f.Config)
	return o.Run(ctx, job)
}

func joinBase(base, basename string) string {
	return strings.TrimSuffix(base, "/") + "/" + basename + "/"
}

// Orchestrator drives one job's pipeline run against a temp workspace (for
// scratch state) and a results workspace (for the final HLS tree), both
// already rooted at the job's own subtree. The newSplitter/newTranscoder/
// newSegmentor fields build the Encoder Driver steps for each stage; New
// wires up the real ffmpeg-backed ones, tests substitute fakes so they
// exercise the sentinel/resume logic without invoking ffmpeg.
type Orchestrator struct {
	Temp    workspace.Workspace
	Results workspace.Workspace
	Prober  video.Prober
	Config  Config

	newSplitter   func(sourceURI, videoPlaylist, audioPlaylist string) transcode.Step
	newTranscoder func(inputURI, outputURI string, tracks []video.VideoTrack) transcode.Step
	newSegmentor  func(concatURI, audioPlaylist, masterPlaylist string, profile video.Profile) transcode.Step
}

// New builds an Orchestrator backed by the real ffmpeg-go Encoder Driver
// steps.
func New(temp, results workspace.Workspace, prober video.Prober, cfg Config) Orchestrator {
	o := Orchestrator{Temp: temp, Results: results, Prober: prober, Config: cfg}
	o.newSplitter = func(sourceURI, videoPlaylist, audioPlaylist string) transcode.Step {
		return transcode.Splitter{
			SourceURI:     sourceURI,
			VideoPlaylist: videoPlaylist,
			AudioPlaylist: audioPlaylist,
			ChunkDuration: cfg.ChunkDuration,
			EncodeTimeout: cfg.EncodeTimeout,
			Prober:        prober,
		}
	}
	o.newTranscoder = func(inputURI, outputURI string, tracks []video.VideoTrack) transcode.Step {
		return transcode.Transcoder{
			InputURI:      inputURI,
			OutputURI:     outputURI,
			Tracks:        tracks,
			AllowedExt:    transcode.SplitSegmentExt,
			EncodeTimeout: cfg.EncodeTimeout,
			Prober:        prober,
		}
	}
	o.newSegmentor = func(concatURI, audioPlaylist, masterPlaylist string, profile video.Profile) transcode.Step {
		return transcode.Segmentor{
			VideoConcatURI:  concatURI,
			AudioPlaylist:   audioPlaylist,
			MasterPlaylist:  masterPlaylist,
			VideoTracks:     profile.Video,
			AudioTracks:     profile.Audio,
			SegmentDuration: cfg.SegmentDuration,
			EncodeTimeout:   cfg.EncodeTimeout,
			Prober:          prober,
		}
	}
	return o
}

var (
	sourcesDir = workspace.NewCollection("sources")
	resultsDir = workspace.NewCollection("results")
)

// Run executes the eight-step pipeline: Initialize, Analyze, Select,
// Split, per-chunk Transcode, Concat+Segment, Validate, Cleanup. Every
// expensive step is guarded by a sentinel artifact under the temp
// workspace; if the sentinel exists at entry the step is skipped and its
// cached result loaded, which is what lets the pipeline survive a worker
// restart without duplicating work.
func (o Orchestrator) Run(ctx context.Context, job Job) (result video.Metadata, err error) {
	defer func() {
		// Cancellation is informational, not a failure: the job goes back
		// to QUEUED and resumes from whatever sentinels already exist, so
		// neither tree is torn down.
		if err == nil {
			o.cleanup(false)
		} else if !xerrors.IsCancelled(err) && !errors.Is(err, context.Canceled) {
			o.cleanup(true)
		}
	}()

	if err = o.initialize(ctx); err != nil {
		return video.Metadata{}, err
	}

	source, err := o.analyze(ctx, job)
	if err != nil {
		return video.Metadata{}, err
	}

	profile, err := o.selectProfile(ctx, job, source)
	if err != nil {
		return video.Metadata{}, err
	}

	if _, err = o.split(ctx, job); err != nil {
		return video.Metadata{}, err
	}

	segments, err := o.enumerateChunks(ctx)
	if err != nil {
		return video.Metadata{}, err
	}
	if len(segments) == 0 {
		err = xerrors.Validation("no segments produced by split")
		return video.Metadata{}, err
	}

	var merged *video.Metadata
	for i, seg := range segments {
		if cerr := ctx.Err(); cerr != nil {
			err = xerrors.Cancelled(cerr.Error())
			return video.Metadata{}, err
		}
		segMeta, serr := o.processSegment(ctx, seg, profile)
		if serr != nil {
			err = serr
			return video.Metadata{}, err
		}
		merged = MergeMetadata(merged, segMeta)
		log.Log(fmt.Sprint(job.ID), "chunk processed", "chunk", i+1, "of", len(segments))
	}

	// All chunks together must already cover the source; a gap here means
	// a chunk came out truncated and segmenting would only bake that in.
	if err = validateResult(source, *merged); err != nil {
		return video.Metadata{}, err
	}

	result, err = o.segment(ctx, segments, profile)
	if err != nil {
		return video.Metadata{}, err
	}

	if err = validateResult(source, result); err != nil {
		return video.Metadata{}, err
	}
	return result, nil
}

func (o Orchestrator) initialize(ctx context.Context) error {
	if _, err := o.Temp.EnsureCollection(ctx, "sources"); err != nil {
		return xerrors.Transient("ensuring sources collection", err)
	}
	if _, err := o.Temp.EnsureCollection(ctx, "results"); err != nil {
		return xerrors.Transient("ensuring results collection", err)
	}
	if _, err := o.Results.EnsureCollection(ctx, ""); err != nil {
		return xerrors.Transient("ensuring store collection", err)
	}
	return nil
}

func (o Orchestrator) sourceSentinel() workspace.File  { return sourcesDir.File("source.json") }
func (o Orchestrator) profileSentinel() workspace.File { return sourcesDir.File("profile.json") }
func (o Orchestrator) splitSentinel() workspace.File   { return sourcesDir.File("split.json") }
func (o Orchestrator) videoPlaylist() workspace.File   { return sourcesDir.File("source-video.m3u8") }
func (o Orchestrator) audioPlaylist() workspace.File   { return sourcesDir.File("source-audio.m3u8") }
func (o Orchestrator) chunkSentinel(fn string) workspace.File {
	return resultsDir.File(fn + ".json")
}
func (o Orchestrator) concatFile() workspace.File { return resultsDir.File("concat.ffconcat") }
func (o Orchestrator) masterPlaylist() string {
	return o.Results.AbsoluteURI(workspace.NewFile("index.m3u8"))
}

// analyze is the sentinel-guarded Analyze step.
func (o Orchestrator) analyze(ctx context.Context, job Job) (video.Metadata, error) {
	if cached, ok := o.loadSentinel(ctx, o.sourceSentinel()); ok {
		return cached, nil
	}
	analyzer := video.Analyzer{Prober: o.Prober, Kind: video.KindSource}
	meta, err := analyzer.Analyze(ctx, job.SourceURI, "")
	if err != nil {
		return video.Metadata{}, err
	}
	if len(meta.Audios) == 0 {
		return video.Metadata{}, xerrors.Analyze("no audio stream found", nil)
	}
	if err := o.writeSentinel(ctx, o.sourceSentinel(), meta); err != nil {
		return video.Metadata{}, err
	}
	return meta, nil
}

func (o Orchestrator) selectProfile(ctx context.Context, job Job, source video.Metadata) (video.Profile, error) {
	if ok, err := o.Temp.Exists(ctx, o.profileSentinel()); err == nil && ok {
		data, err := o.Temp.Read(ctx, o.profileSentinel())
		if err != nil {
			return video.Profile{}, xerrors.Transient("reading profile sentinel", err)
		}
		var cached video.Profile
		if err := json.Unmarshal(data, &cached); err != nil {
			return video.Profile{}, xerrors.Validation("corrupt profile sentinel: " + err.Error())
		}
		return cached, nil
	}

	if len(source.Audios) > 1 {
		log.Log(fmt.Sprint(job.ID), "source has multiple audio streams; only the first is used")
	}

	profile, err := job.Preset.SelectProfile(source.Video(), source.Audio())
	if err != nil {
		return video.Profile{}, err
	}

	data, err := json.Marshal(profile)
	if err != nil {
		return video.Profile{}, fmt.Errorf("marshaling selected profile: %w", err)
	}
	if err := o.Temp.Write(ctx, o.profileSentinel(), data); err != nil {
		return video.Profile{}, xerrors.Transient("writing profile sentinel", err)
	}
	return profile, nil
}

// split is the sentinel-guarded Split step. The sentinel records the
// post-split stream metadata; the chunk list itself is always re-read
// from the video playlist the Splitter wrote (enumerateChunks), which
// survives restarts alongside the sentinel.
func (o Orchestrator) split(ctx context.Context, job Job) (video.Metadata, error) {
	if cached, ok := o.loadSentinel(ctx, o.splitSentinel()); ok {
		return cached, nil
	}

	splitter := o.newSplitter(job.SourceURI, o.Temp.AbsoluteURI(o.videoPlaylist()), o.Temp.AbsoluteURI(o.audioPlaylist()))
	meta, err := splitter.Run(ctx)
	if err != nil {
		return video.Metadata{}, err
	}

	if err := o.writeSentinel(ctx, o.splitSentinel(), meta); err != nil {
		return video.Metadata{}, err
	}
	return meta, nil
}

// enumerateChunks parses the video playlist produced by Split and returns
// the chunk filenames in exact playlist order, never sorted.
func (o Orchestrator) enumerateChunks(ctx context.Context) ([]string, error) {
	content, err := o.Temp.Read(ctx, o.videoPlaylist())
	if err != nil {
		return nil, xerrors.Transient("reading video playlist", err)
	}
	playlist, listType, err := m3u8.DecodeFrom(bytes.NewReader(content), false)
	if err != nil {
		return nil, xerrors.Validation("parsing video playlist: " + err.Error())
	}
	media, ok := playlist.(*m3u8.MediaPlaylist)
	if listType != m3u8.MEDIA || !ok {
		return nil, xerrors.Validation("video playlist is not a media playlist")
	}
	var segments []string
	for _, seg := range media.Segments {
		if seg == nil {
			continue
		}
		segments = append(segments, seg.URI)
	}
	return segments, nil
}

// processSegment is the sentinel-guarded per-chunk Transcode step. The
// chunk artifact is written before its sentinel, never after, so a crash
// between the two leaves the sentinel absent and the chunk re-derived.
func (o Orchestrator) processSegment(ctx context.Context, fn string, profile video.Profile) (video.Metadata, error) {
	sentinel := o.chunkSentinel(fn)
	if cached, ok := o.loadSentinel(ctx, sentinel); ok {
		return cached, nil
	}

	src := sourcesDir.File(fn)
	dst := resultsDir.File(fn)
	transcoder := o.newTranscoder(o.Temp.AbsoluteURI(src), o.Temp.AbsoluteURI(dst), profile.Video)
	meta, err := transcoder.Run(ctx)
	if err != nil {
		return video.Metadata{}, err
	}
	if err := o.writeSentinel(ctx, sentinel, meta); err != nil {
		return video.Metadata{}, err
	}
	return meta, nil
}

// segment is the Concat+Segment step: write the ffconcat list, then mux
// the final HLS output into the results workspace. The Segmentor's probe
// of the master playlist is the authoritative final metadata.
func (o Orchestrator) segment(ctx context.Context, segments []string, profile video.Profile) (video.Metadata, error) {
	var sb strings.Builder
	sb.WriteString("ffconcat version 1.0\n")
	for _, fn := range segments {
		fmt.Fprintf(&sb, "file '%s'\n", fn)
	}
	if err := o.Temp.Write(ctx, o.concatFile(), []byte(sb.String())); err != nil {
		return video.Metadata{}, xerrors.Transient("writing concat list", err)
	}

	master := o.masterPlaylist()
	segmentor := o.newSegmentor(o.Temp.AbsoluteURI(o.concatFile()), o.Temp.AbsoluteURI(o.audioPlaylist()), master, profile)
	result, err := segmentor.Run(ctx)
	if err != nil {
		return video.Metadata{}, err
	}
	result.URI = master
	return result, nil
}

// validateResult rejects an output whose shortest stream covers less than
// durationDelta of the source's longest stream. A damaged source can come
// out of the encoder "successfully" as a truncated result.
func validateResult(source, result video.Metadata) error {
	src := maxStreamDuration(source)
	dst := minStreamDuration(result)
	if dst < durationDelta*src {
		return xerrors.Validation(fmt.Sprintf("incomplete result: %.2fs of %.2fs", dst, src))
	}
	return nil
}

func maxStreamDuration(m video.Metadata) float64 {
	var max float64
	for _, v := range m.Videos {
		if v.Duration > max {
			max = v.Duration
		}
	}
	for _, a := range m.Audios {
		if a.Duration > max {
			max = a.Duration
		}
	}
	return max
}

func minStreamDuration(m video.Metadata) float64 {
	min, have := 0.0, false
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
	return min
}

// cleanup implements the deliberately asymmetric policy: on success the
// temp tree is removed and the results tree kept; on error the results
// tree is removed (nothing playable should exist for a failed job) and
// the temp tree is kept so the next attempt can resume from whatever
// sentinels already exist. Reversed from what a skim reader expects.
// Runs on a fresh context: the trees must be torn down even when the run
// failed because its own context died.
func (o Orchestrator) cleanup(isError bool) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	if isError {
		if err := o.Results.DeleteCollection(ctx, workspace.Root()); err != nil {
			log.LogNoRequestID("cleanup: failed to delete results tree after error", "err", err.Error())
		}
		return
	}
	if err := o.Temp.DeleteCollection(ctx, workspace.Root()); err != nil {
		log.LogNoRequestID("cleanup: failed to delete temp tree after success", "err", err.Error())
	}
}

func (o Orchestrator) loadSentinel(ctx context.Context, f workspace.File) (video.Metadata, bool) {
	ok, err := o.Temp.Exists(ctx, f)
	if err != nil || !ok {
		return video.Metadata{}, false
	}
	data, err := o.Temp.Read(ctx, f)
	if err != nil {
		return video.Metadata{}, false
	}
	var meta video.Metadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return video.Metadata{}, false
	}
	return meta, true
}

func (o Orchestrator) writeSentinel(ctx context.Context, f workspace.File, meta video.Metadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling sentinel %s: %w", workspace.Path(f), err)
	}
	if err := o.Temp.Write(ctx, f, data); err != nil {
		return xerrors.Transient("writing sentinel "+workspace.Path(f), err)
	}
	return nil
}
