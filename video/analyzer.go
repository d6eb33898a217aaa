package video

import (
	"context"
	"strings"

	xerrors "github.com/livepeer/transcode-worker/errors"
	"gopkg.in/vansante/go-ffprobe.v2"
)

// ProbeKind selects which duration/bitrate fallback rules an Analyzer
// applies to the raw probe data it receives. Go favors composition over a
// type per variant (SourceAnalyzer/PlaylistAnalyzer/SegmentAnalyzer/
// HLSResultAnalyzer): one Analyzer struct, parameterized by this field.
type ProbeKind int

const (
	// KindSource is the container-level probe with rich per-track info.
	KindSource ProbeKind = iota
	// KindPlaylist is a stream-of-segments container: when only one
	// stream is present, duration falls back to the container duration.
	KindPlaylist
	// KindSegment extends KindPlaylist: an audio bitrate also falls back
	// to the container bitrate when the per-stream value is zero and it
	// is the only audio stream. Video bitrates have no container fallback.
	KindSegment
	// KindHLSResult skips audio streams that are alternative-group
	// members. A missing per-stream audio bitrate falls back to the
	// container bitrate: as is for the only audio stream, otherwise
	// divided by 1.1 (the encoder's own overhead margin). The HLS variant
	// bandwidth tag is not read.
	KindHLSResult
)

// Analyzer implements the Media Analyzer: probe plus normalization.
type Analyzer struct {
	Prober Prober
	Kind   ProbeKind
}

// Analyze probes uri and returns normalized Metadata. allowedExtensions is
// forwarded to the Prober for non-standard segment extensions (e.g. the
// Matroska intermediate container).
func (a Analyzer) Analyze(ctx context.Context, uri string, allowedExtensions string) (Metadata, error) {
	return a.analyze(ctx, uri, allowedExtensions, true)
}

// AnalyzeAudioOnly is Analyze without the video-stream requirement, for
// containers that have none by construction (the Splitter's audio-only
// playlist).
func (a Analyzer) AnalyzeAudioOnly(ctx context.Context, uri string, allowedExtensions string) (Metadata, error) {
	return a.analyze(ctx, uri, allowedExtensions, false)
}

func (a Analyzer) analyze(ctx context.Context, uri string, allowedExtensions string, requireVideo bool) (Metadata, error) {
	data, err := a.Prober.Probe(ctx, uri, allowedExtensions)
	if err != nil {
		return Metadata{}, err
	}
	if data.Format == nil {
		return Metadata{}, xerrors.Analyze("format information missing", nil)
	}

	containerDuration := data.Format.DurationSeconds
	containerBitrate := parseInt(data.Format.BitRate)

	var videoStreams, audioStreams []*ffprobe.Stream
	for _, s := range data.Streams {
		switch strings.ToLower(s.CodecType) {
		case "video":
			videoStreams = append(videoStreams, s)
		case "audio":
			if a.Kind == KindHLSResult && isAlternateGroupMember(s) {
				continue
			}
			audioStreams = append(audioStreams, s)
		}
	}
	if requireVideo && len(videoStreams) == 0 {
		return Metadata{}, xerrors.Analyze("no video stream found", nil)
	}

	videos := make([]VideoStreamMeta, 0, len(videoStreams))
	for _, s := range videoStreams {
		v, err := a.videoStreamMeta(s, containerDuration, len(videoStreams) == 1)
		if err != nil {
			return Metadata{}, err
		}
		videos = append(videos, v)
	}

	audios := make([]AudioStreamMeta, 0, len(audioStreams))
	for _, s := range audioStreams {
		audios = append(audios, a.audioStreamMeta(s, containerDuration, containerBitrate, len(audioStreams) == 1))
	}

	return Metadata{URI: uri, Videos: videos, Audios: audios}, nil
}

func (a Analyzer) videoStreamMeta(s *ffprobe.Stream, containerDuration float64, soleStream bool) (VideoStreamMeta, error) {
	width, height := s.Width, s.Height
	dar := parseFloat(s.DisplayAspectRatio)
	par := parseFloat(s.SampleAspectRatio)
	dar, par, ok := FixAspect(width, height, dar, par)
	if !ok {
		return VideoStreamMeta{}, xerrors.Analyze("video stream missing width/height", nil)
	}

	duration := parseFloat(s.Duration)
	if duration == 0 && soleStream && (a.Kind == KindPlaylist || a.Kind == KindSegment) {
		duration = containerDuration
	}
	frameRate := parseFrameRate(s.AvgFrameRate)
	if frameRate == 0 {
		frameRate = parseFrameRate(s.RFrameRate)
	}
	frames := parseInt(s.NbFrames)
	duration, frameRate, frames = FixFrames(duration, frameRate, frames)

	bitrate := parseInt(s.BitRate)

	return VideoStreamMeta{
		Width: width, Height: height, DAR: dar, PAR: par,
		FrameRate: frameRate, Frames: frames, Bitrate: bitrate, Duration: duration,
	}, nil
}

func (a Analyzer) audioStreamMeta(s *ffprobe.Stream, containerDuration float64, containerBitrate int64, soleStream bool) AudioStreamMeta {
	duration := parseFloat(s.Duration)
	if duration == 0 && soleStream && (a.Kind == KindPlaylist || a.Kind == KindSegment) {
		duration = containerDuration
	}
	samplingRate := int(parseInt(s.SampleRate))
	samples := parseInt(s.NbFrames) // approximate frame count as sample groups; refined by FixSamples below
	duration, samplingRate, samples = FixSamples(duration, samplingRate, samples)

	bitrate := parseInt(s.BitRate)
	if bitrate == 0 && soleStream && (a.Kind == KindSegment || a.Kind == KindHLSResult) {
		bitrate = containerBitrate
	}
	if bitrate == 0 && a.Kind == KindHLSResult {
		bitrate = int64(float64(containerBitrate) / 1.1)
	}

	return AudioStreamMeta{
		Channels: s.Channels, SamplingRate: samplingRate, Samples: samples,
		Bitrate: bitrate, Duration: duration,
	}
}

// isAlternateGroupMember reports whether a probed audio stream is marked
// as a member of an alternative rendition group rather than the primary
// rendition, using the disposition flags ffprobe surfaces for HLS inputs.
func isAlternateGroupMember(s *ffprobe.Stream) bool {
	return s.Disposition.Dub == 1 || s.Disposition.VisualImpaired == 1
}
