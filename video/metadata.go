// Package video implements source/segment metadata probing and
// normalization (the Media Analyzer) and profile selection (the Profile
// Engine).
package video

import "math"

// VideoStreamMeta mirrors one video stream's normalized properties.
type VideoStreamMeta struct {
	Width     int       `json:"width"`
	Height    int       `json:"height"`
	DAR       float64   `json:"dar"`
	PAR       float64   `json:"par"`
	FrameRate float64   `json:"frame_rate"`
	Frames    int64     `json:"frames"`
	Bitrate   int64     `json:"bitrate"`
	Duration  float64   `json:"duration"`
	Scenes    []float64 `json:"scenes,omitempty"`
}

// AudioStreamMeta mirrors one audio stream's normalized properties.
type AudioStreamMeta struct {
	Channels     int       `json:"channels"`
	SamplingRate int       `json:"sampling_rate"`
	Samples      int64     `json:"samples"`
	Bitrate      int64     `json:"bitrate"`
	Duration     float64   `json:"duration"`
	Scenes       []float64 `json:"scenes,omitempty"`
}

// Metadata is the normalized result of analyzing a source, segment or
// playlist: an ordered list of video streams and an ordered list of audio
// streams.
type Metadata struct {
	URI    string            `json:"uri"`
	Videos []VideoStreamMeta `json:"videos"`
	Audios []AudioStreamMeta `json:"audios"`
}

// Video returns the first video stream. Callers must check len(Videos) > 0
// first; this mirrors the original's Metadata.video property, which
// likewise assumes a non-empty list.
func (m Metadata) Video() VideoStreamMeta { return m.Videos[0] }

// Audio returns the first audio stream.
func (m Metadata) Audio() AudioStreamMeta { return m.Audios[0] }

// FixAspect reconstructs whichever of PAR/DAR is missing so that
// DAR = (width/height)*PAR holds, defaulting PAR=1 when both are missing.
// If width or height is zero there isn't enough information to do
// anything, matching fix_par's "not enough info" early return.
func FixAspect(width, height int, dar, par float64) (fixedDAR, fixedPAR float64, ok bool) {
	if width == 0 || height == 0 {
		return dar, par, false
	}
	ratio := float64(width) / float64(height)

	switch {
	case par == 0 && dar != 0:
		par = dar / ratio
	case dar == 0 && par != 0:
		dar = par * ratio
	case dar == 0 && par == 0:
		par = 1.0
		dar = ratio
	}

	if math.Abs(dar-ratio*par) >= 0.001 {
		// PAR is the least reliable value; recompute it from DAR.
		par = dar / ratio
	}
	return dar, par, true
}

// FixFrames reconstructs whichever of duration/frameRate/frames is the
// single missing value so that duration*frameRate == frames holds. If two
// or more of the three are unknown, nothing can be derived and the inputs
// are returned unchanged (never fabricate more than one value).
func FixFrames(duration, frameRate float64, frames int64) (fixedDuration, fixedFrameRate float64, fixedFrames int64) {
	have := 0
	if duration != 0 {
		have++
	}
	if frameRate != 0 {
		have++
	}
	if frames != 0 {
		have++
	}

	switch {
	case duration == 0 && frames != 0 && frameRate != 0:
		duration = float64(frames) / frameRate
	case frames == 0 && duration != 0 && frameRate != 0:
		frames = int64(math.Round(duration * frameRate))
	case frameRate == 0 && duration != 0 && frames != 0:
		frameRate = float64(frames) / duration
	case have < 2:
		return duration, frameRate, frames
	}

	if math.Abs(float64(frames)-duration*frameRate) > 1 {
		// frames and duration are kept; the frame rate is recomputed.
		frameRate = float64(frames) / duration
	}
	return duration, frameRate, frames
}

// FixSamples reconstructs whichever of duration/samplingRate/samples is
// the single missing value so that duration*samplingRate == samples
// holds. samplingRate is treated as the more reliable of the pair when
// resolving an inconsistency, since it clusters around well-known values
// (44100, 48000); samples is recomputed when the equation is off by more
// than 1.
func FixSamples(duration float64, samplingRate int, samples int64) (fixedDuration float64, fixedSamplingRate int, fixedSamples int64) {
	have := 0
	if duration != 0 {
		have++
	}
	if samplingRate != 0 {
		have++
	}
	if samples != 0 {
		have++
	}

	sr := float64(samplingRate)
	switch {
	case duration == 0 && samples != 0 && samplingRate != 0:
		duration = float64(samples) / sr
	case samples == 0 && duration != 0 && samplingRate != 0:
		samples = int64(math.Round(duration * sr))
	case samplingRate == 0 && duration != 0 && samples != 0:
		sr = float64(samples) / duration
	case have < 2:
		return duration, samplingRate, samples
	}

	samplingRate = int(math.Round(sr))
	duration = math.Round(duration*1000) / 1000

	if math.Abs(float64(samples)-duration*float64(samplingRate)) > 1 {
		samples = int64(math.Round(duration * float64(samplingRate)))
	}
	return duration, samplingRate, samples
}
