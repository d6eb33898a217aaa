package video

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFixAspectDerivesPARFromDAR(t *testing.T) {
	dar, par, ok := FixAspect(1920, 1080, 1.778, 0)
	require.True(t, ok)
	require.InDelta(t, 1.778, dar, 0.001)
	require.InDelta(t, 1.0, par, 0.01)
}

func TestFixAspectDerivesDARFromPAR(t *testing.T) {
	dar, par, ok := FixAspect(1920, 1080, 0, 1.0)
	require.True(t, ok)
	require.InDelta(t, 1920.0/1080.0, dar, 0.001)
	require.InDelta(t, 1.0, par, 0.001)
}

func TestFixAspectDefaultsBothMissing(t *testing.T) {
	dar, par, ok := FixAspect(1920, 1080, 0, 0)
	require.True(t, ok)
	require.Equal(t, 1.0, par)
	require.InDelta(t, 1920.0/1080.0, dar, 0.001)
}

func TestFixAspectInsufficientInfo(t *testing.T) {
	dar, par, ok := FixAspect(0, 1080, 1.778, 1.0)
	require.False(t, ok)
	require.Equal(t, 1.778, dar)
	require.Equal(t, 1.0, par)
}

func TestFixAspectRecomputesInconsistentPAR(t *testing.T) {
	// DAR and PAR both given but inconsistent with width/height: PAR must
	// be recomputed from DAR, the least-reliable-value rule.
	dar, par, ok := FixAspect(1920, 1080, 2.0, 1.0)
	require.True(t, ok)
	require.Equal(t, 2.0, dar)
	require.InDelta(t, 2.0/(1920.0/1080.0), par, 0.001)
}

func TestFixFramesDerivesDuration(t *testing.T) {
	duration, frameRate, frames := FixFrames(0, 30, 300)
	require.InDelta(t, 10.0, duration, 0.001)
	require.Equal(t, float64(30), frameRate)
	require.Equal(t, int64(300), frames)
}

func TestFixFramesDerivesFrames(t *testing.T) {
	duration, frameRate, frames := FixFrames(10, 30, 0)
	require.Equal(t, 10.0, duration)
	require.Equal(t, float64(30), frameRate)
	require.Equal(t, int64(300), frames)
}

func TestFixFramesDerivesFrameRate(t *testing.T) {
	duration, frameRate, frames := FixFrames(10, 0, 300)
	require.Equal(t, 10.0, duration)
	require.InDelta(t, 30.0, frameRate, 0.001)
	require.Equal(t, int64(300), frames)
}

func TestFixFramesNeverFabricatesTwoValues(t *testing.T) {
	duration, frameRate, frames := FixFrames(10, 0, 0)
	require.Equal(t, 10.0, duration)
	require.Equal(t, float64(0), frameRate)
	require.Equal(t, int64(0), frames)
}

func TestFixFramesRecomputesInconsistentFrames(t *testing.T) {
	duration, frameRate, frames := FixFrames(10, 30, 305)
	require.Equal(t, 10.0, duration)
	require.InDelta(t, 30.5, frameRate, 0.001)
	require.Equal(t, int64(305), frames)
}

func TestFixSamplesDerivesSamples(t *testing.T) {
	duration, samplingRate, samples := FixSamples(1.0, 48000, 0)
	require.Equal(t, 1.0, duration)
	require.Equal(t, 48000, samplingRate)
	require.Equal(t, int64(48000), samples)
}

func TestFixSamplesPrefersSamplingRateOverSamplesOnConflict(t *testing.T) {
	// samples slightly off from duration*samplingRate: samples, not
	// sampling_rate, is recomputed because it's the least reliable value.
	duration, samplingRate, samples := FixSamples(1.0, 48000, 48010)
	require.Equal(t, 48000, samplingRate)
	require.Equal(t, int64(48000), samples)
	_ = duration
}

func TestMetadataJSONRoundTrip(t *testing.T) {
	m := Metadata{
		URI: "file:///tmp/source.mp4",
		Videos: []VideoStreamMeta{{
			Width: 1920, Height: 1080, DAR: 1.778, PAR: 1, FrameRate: 30,
			Frames: 300, Bitrate: 4_000_000, Duration: 10,
		}},
		Audios: []AudioStreamMeta{{
			Channels: 2, SamplingRate: 48000, Samples: 480000,
			Bitrate: 128_000, Duration: 10,
		}},
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)

	var decoded Metadata
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, m, decoded)
	require.Equal(t, m.Video(), decoded.Videos[0])
	require.Equal(t, m.Audio(), decoded.Audios[0])
}
