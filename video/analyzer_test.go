package video

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"gopkg.in/vansante/go-ffprobe.v2"
)

type fakeProber struct {
	data *ffprobe.ProbeData
	err  error
}

func (f fakeProber) Probe(ctx context.Context, uri string, allowedExtensions string) (*ffprobe.ProbeData, error) {
	return f.data, f.err
}

func TestAnalyzeSourceBuildsNormalizedMetadata(t *testing.T) {
	data := &ffprobe.ProbeData{
		Format: &ffprobe.Format{DurationSeconds: 10.0, BitRate: "4128000"},
		Streams: []*ffprobe.Stream{
			{
				CodecType:          "video",
				Width:              1920,
				Height:             1080,
				DisplayAspectRatio: "1.778",
				AvgFrameRate:       "30/1",
				NbFrames:           "300",
				BitRate:            "4000000",
			},
			{
				CodecType:  "audio",
				Channels:   2,
				SampleRate: "48000",
				Duration:   "10.0",
				BitRate:    "128000",
			},
		},
	}
	a := Analyzer{Prober: fakeProber{data: data}, Kind: KindSource}
	meta, err := a.Analyze(context.Background(), "file:///tmp/source.mp4", "")
	require.NoError(t, err)
	require.Len(t, meta.Videos, 1)
	require.Equal(t, 1920, meta.Video().Width)
	require.InDelta(t, 1.778, meta.Video().DAR, 0.001)
	require.Equal(t, int64(300), meta.Video().Frames)
	require.Len(t, meta.Audios, 1)
	require.Equal(t, 48000, meta.Audio().SamplingRate)
}

func TestAnalyzeNoVideoStreamIsAnalyzeError(t *testing.T) {
	data := &ffprobe.ProbeData{
		Format:  &ffprobe.Format{DurationSeconds: 10.0},
		Streams: []*ffprobe.Stream{{CodecType: "audio", SampleRate: "48000"}},
	}
	a := Analyzer{Prober: fakeProber{data: data}, Kind: KindSource}
	_, err := a.Analyze(context.Background(), "file:///tmp/source.mp4", "")
	require.Error(t, err)
}

func TestAnalyzePlaylistFallsBackToContainerDuration(t *testing.T) {
	data := &ffprobe.ProbeData{
		Format: &ffprobe.Format{DurationSeconds: 60.0},
		Streams: []*ffprobe.Stream{
			{CodecType: "video", Width: 1280, Height: 720, AvgFrameRate: "25/1", NbFrames: "1500"},
		},
	}
	a := Analyzer{Prober: fakeProber{data: data}, Kind: KindPlaylist}
	meta, err := a.Analyze(context.Background(), "file:///tmp/source-video.m3u8", "")
	require.NoError(t, err)
	require.InDelta(t, 60.0, meta.Video().Duration, 0.001)
}
