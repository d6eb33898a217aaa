package transcode

import (
	"context"
	"fmt"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/livepeer/transcode-worker/video"
)

// SplitSegmentFormat is the intermediate container the Splitter demuxes
// into. Frozen to Matroska; it must stay losslessly demuxable with
// stream-copy, and its extension must be passed back to the probe as an
// allowed extension when reading the split playlists.
const (
	SplitSegmentFormat = "matroska"
	SplitSegmentExt    = "mkv"
)

// Splitter demuxes a source into parallel video-only and audio-only
// playlists via stream-copy, one segment every ChunkDuration. Both
// outputs are produced by a single encoder invocation.
type Splitter struct {
	SourceURI     string
	VideoPlaylist string
	AudioPlaylist string
	ChunkDuration time.Duration
	EncodeTimeout time.Duration

	Prober video.Prober
}

// segmentPattern derives the numbered-segment output template from its
// playlist URI: sources/source-video.m3u8 -> sources/source-video-%05d.mkv.
func segmentPattern(playlist string) string {
	return strings.TrimSuffix(playlist, ".m3u8") + "-%05d." + SplitSegmentExt
}

func (s Splitter) Run(ctx context.Context) (video.Metadata, error) {
	segmentSeconds := fmt.Sprintf("%.3f", s.ChunkDuration.Seconds())

	input := ffmpeg.Input(s.SourceURI)
	videoOut := input.Output(segmentPattern(s.VideoPlaylist), ffmpeg.KwArgs{
		"map":               "0:v:0",
		"c":                 "copy",
		"f":                 "segment",
		"segment_format":    SplitSegmentFormat,
		"segment_time":      segmentSeconds,
		"segment_list_type": "m3u8",
		"segment_list":      s.VideoPlaylist,
		"copyts":            "",
		"avoid_negative_ts": "disabled",
	})
	audioOut := input.Output(segmentPattern(s.AudioPlaylist), ffmpeg.KwArgs{
		"map":               "0:a:0",
		"c":                 "copy",
		"f":                 "segment",
		"segment_format":    SplitSegmentFormat,
		"segment_time":      segmentSeconds,
		"segment_list_type": "m3u8",
		"segment_list":      s.AudioPlaylist,
		"copyts":            "",
		"avoid_negative_ts": "disabled",
	})

	if err := runFFMpeg(ctx, "split", ffmpeg.MergeOutputs(videoOut, audioOut), s.EncodeTimeout); err != nil {
		return video.Metadata{}, err
	}

	// The split result metadata describes both post-split streams: video
	// from the video playlist, audio from the audio playlist.
	analyzer := video.Analyzer{Prober: s.Prober, Kind: video.KindPlaylist}
	meta, err := analyzer.Analyze(ctx, s.VideoPlaylist, SplitSegmentExt)
	if err != nil {
		return video.Metadata{}, err
	}
	audioMeta, err := analyzer.AnalyzeAudioOnly(ctx, s.AudioPlaylist, SplitSegmentExt)
	if err != nil {
		return video.Metadata{}, err
	}
	meta.Audios = audioMeta.Audios
	return meta, nil
}
