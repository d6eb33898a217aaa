package transcode

import (
	"context"
	"fmt"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/livepeer/transcode-worker/video"
)

// Transcoder reads one source video chunk and produces a multi-rendition
// MPEG-TS output, one video stream per VideoTrack. Audio is split and
// carried separately by Splitter/Segmentor and is never re-encoded here.
type Transcoder struct {
	InputURI      string
	OutputURI     string
	Tracks        []video.VideoTrack
	AllowedExt    string
	EncodeTimeout time.Duration

	Prober video.Prober
}

func (t Transcoder) Run(ctx context.Context) (video.Metadata, error) {
	input := ffmpeg.Input(t.InputURI, ffmpeg.KwArgs{
		"allowed_extensions": t.AllowedExt,
	})

	// The single source video stream is mapped once per rendition; the
	// per-stream options below then address each mapped copy by output
	// index.
	maps := make([]string, len(t.Tracks))
	for i := range maps {
		maps[i] = "0:v:0"
	}
	outputArgs := ffmpeg.KwArgs{
		"map":               maps,
		"f":                 "mpegts",
		"copyts":            "",
		"muxdelay":          "0",
		"avoid_negative_ts": "disabled",
	}
	for i, tr := range t.Tracks {
		p := fmt.Sprintf("%d", i)
		outputArgs["c:v:"+p] = tr.Codec
		outputArgs["s:v:"+p] = fmt.Sprintf("%dx%d", tr.Width, tr.Height)
		outputArgs["crf:v:"+p] = fmt.Sprintf("%d", tr.CRF)
		outputArgs["preset:v:"+p] = tr.Preset
		outputArgs["maxrate:v:"+p] = fmt.Sprintf("%d", tr.MaxRate)
		outputArgs["bufsize:v:"+p] = fmt.Sprintf("%d", tr.BufSize)
		outputArgs["profile:v:"+p] = tr.H264Profile
		outputArgs["pix_fmt:v:"+p] = tr.PixFmt
		outputArgs["r:v:"+p] = fmt.Sprintf("%.3f", tr.FrameRate)
		outputArgs["g:v:"+p] = fmt.Sprintf("%d", tr.GOPSize)
		if tr.ForceKeyFrames != "" {
			outputArgs["force_key_frames:v:"+p] = tr.ForceKeyFrames
		}
	}

	stream := input.Output(t.OutputURI, outputArgs)
	if err := runFFMpeg(ctx, "transcode", stream, t.EncodeTimeout); err != nil {
		return video.Metadata{}, err
	}

	analyzer := video.Analyzer{Prober: t.Prober, Kind: video.KindSegment}
	return analyzer.Analyze(ctx, t.OutputURI, "")
}
