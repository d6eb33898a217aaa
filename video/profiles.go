package video

import (
	xerrors "github.com/livepeer/transcode-worker/errors"
)

// VideoTrack is one output video rendition's encode parameters.
type VideoTrack struct {
	ID             string
	Codec          string
	CRF            int
	Preset         string
	MaxRate        int64
	BufSize        int64
	H264Profile    string
	PixFmt         string
	Width          int
	Height         int
	FrameRate      float64
	GOPSize        int
	ForceKeyFrames string
}

// AudioTrack is one output audio rendition's encode parameters.
type AudioTrack struct {
	ID         string
	Codec      string
	Bitrate    int64
	Channels   int
	SampleRate int
}

// VideoCondition gates a VideoProfile on source stream properties. A zero
// field means "no constraint" (min_dar/max_dar of 0 are treated as unset,
// matching the original's "not self.min_dar or ..." semantics).
type VideoCondition struct {
	MinWidth     int
	MinHeight    int
	MinBitrate   int64
	MinFrameRate float64
	MinDAR       float64
	MaxDAR       float64
}

func (c VideoCondition) Matches(v VideoStreamMeta) bool {
	return v.Width >= c.MinWidth &&
		v.Height >= c.MinHeight &&
		v.Bitrate >= c.MinBitrate &&
		v.FrameRate >= c.MinFrameRate &&
		(c.MinDAR == 0 || v.DAR >= c.MinDAR) &&
		(c.MaxDAR == 0 || v.DAR <= c.MaxDAR)
}

// AudioCondition gates an AudioProfile on source stream properties.
type AudioCondition struct {
	MinSampleRate int
	MinBitrate    int64
}

func (c AudioCondition) Matches(a AudioStreamMeta) bool {
	return a.Bitrate >= c.MinBitrate && a.SamplingRate >= c.MinSampleRate
}

// VideoProfile selects a set of video track ids (resolved against the
// Preset's registry) when its condition matches.
type VideoProfile struct {
	Condition       VideoCondition
	SegmentDuration float64
	Video           []string
}

// AudioProfile selects a set of audio track ids when its condition
// matches.
type AudioProfile struct {
	Condition AudioCondition
	Audio     []string
}

// Container carries output-file-format options; segment duration is the
// only one either profile type currently materializes.
type Container struct {
	SegmentDuration float64
}

// Profile is the materialized result of selection: concrete tracks plus
// container options, ready to hand to the Encoder Driver.
type Profile struct {
	Video     []VideoTrack
	Audio     []AudioTrack
	Container Container
}

// Preset is an ordered list of video/audio profiles plus the named track
// registries they draw from.
type Preset struct {
	VideoProfiles []VideoProfile
	AudioProfiles []AudioProfile
	Video         []VideoTrack
	Audio         []AudioTrack
}

// SelectProfile picks the first matching VideoProfile and the first
// matching AudioProfile independently (order of declaration is the sole
// tie-break; there is no scoring), then materializes their track ids
// against the preset's registries.
func (p Preset) SelectProfile(video VideoStreamMeta, audio AudioStreamMeta) (Profile, error) {
	var videoProfile *VideoProfile
	for i := range p.VideoProfiles {
		if p.VideoProfiles[i].Condition.Matches(video) {
			videoProfile = &p.VideoProfiles[i]
			break
		}
	}
	if videoProfile == nil {
		return Profile{}, xerrors.Profile("no compatible video profiles")
	}

	var audioProfile *AudioProfile
	for i := range p.AudioProfiles {
		if p.AudioProfiles[i].Condition.Matches(audio) {
			audioProfile = &p.AudioProfiles[i]
			break
		}
	}
	if audioProfile == nil {
		return Profile{}, xerrors.Profile("no compatible audio profiles")
	}

	return Profile{
		Video:     selectTracks(p.Video, videoProfile.Video),
		Audio:     selectAudioTracks(p.Audio, audioProfile.Audio),
		Container: Container{SegmentDuration: videoProfile.SegmentDuration},
	}, nil
}

func selectTracks(registry []VideoTrack, ids []string) []VideoTrack {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []VideoTrack
	for _, t := range registry {
		if wanted[t.ID] {
			out = append(out, t)
		}
	}
	return out
}

func selectAudioTracks(registry []AudioTrack, ids []string) []AudioTrack {
	wanted := make(map[string]bool, len(ids))
	for _, id := range ids {
		wanted[id] = true
	}
	var out []AudioTrack
	for _, t := range registry {
		if wanted[t.ID] {
			out = append(out, t)
		}
	}
	return out
}
