package video

// DefaultPreset is the catalog job.Runner uses for every job when it has
// no PresetLoader; a job's preset_ref is then not consulted. It emits the
// classic four-rendition ladder (1080/720/480/360) plus a single AAC
// audio rendition. Segment duration of 4.8s is a common multiple of the
// 30fps video frame period and the 1024-sample AAC frame period at 48kHz
// (1024/48000 * 225 == 4.8 == 1/30 * 144).
func DefaultPreset() Preset {
	videoTracks := []VideoTrack{
		{
			ID: "1080p", Codec: "h264", CRF: 23, Preset: "veryfast",
			MaxRate: 5_000_000, BufSize: 10_000_000, H264Profile: "high",
			PixFmt: "yuv420p", Width: 1920, Height: 1080, FrameRate: 30,
			GOPSize: 144, ForceKeyFrames: "expr:gte(t,n_forced*4.8)",
		},
		{
			ID: "720p", Codec: "h264", CRF: 23, Preset: "veryfast",
			MaxRate: 2_800_000, BufSize: 5_600_000, H264Profile: "main",
			PixFmt: "yuv420p", Width: 1280, Height: 720, FrameRate: 30,
			GOPSize: 144, ForceKeyFrames: "expr:gte(t,n_forced*4.8)",
		},
		{
			ID: "480p", Codec: "h264", CRF: 23, Preset: "veryfast",
			MaxRate: 1_400_000, BufSize: 2_800_000, H264Profile: "main",
			PixFmt: "yuv420p", Width: 854, Height: 480, FrameRate: 30,
			GOPSize: 144, ForceKeyFrames: "expr:gte(t,n_forced*4.8)",
		},
		{
			ID: "360p", Codec: "h264", CRF: 23, Preset: "veryfast",
			MaxRate: 800_000, BufSize: 1_600_000, H264Profile: "baseline",
			PixFmt: "yuv420p", Width: 640, Height: 360, FrameRate: 30,
			GOPSize: 144, ForceKeyFrames: "expr:gte(t,n_forced*4.8)",
		},
	}
	audioTracks := []AudioTrack{
		{ID: "stereo192", Codec: "aac", Bitrate: 192_000, Channels: 2, SampleRate: 48000},
	}

	return Preset{
		Video: videoTracks,
		Audio: audioTracks,
		VideoProfiles: []VideoProfile{
			{
				Condition:       VideoCondition{MinWidth: 1920, MinHeight: 1080},
				SegmentDuration: 4.8,
				Video:           []string{"1080p", "720p", "480p", "360p"},
			},
			{
				Condition:       VideoCondition{MinWidth: 1280, MinHeight: 720},
				SegmentDuration: 4.8,
				Video:           []string{"720p", "480p", "360p"},
			},
			{
				// Lowest band: sources under this floor have no
				// compatible profile and the job is rejected.
				Condition:       VideoCondition{MinWidth: 640, MinHeight: 360},
				SegmentDuration: 4.8,
				Video:           []string{"480p", "360p"},
			},
		},
		AudioProfiles: []AudioProfile{
			{Condition: AudioCondition{MinSampleRate: 44100}, Audio: []string{"stereo192"}},
		},
	}
}
