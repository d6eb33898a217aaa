package pipeline

import "github.com/livepeer/transcode-worker/video"

// MergeMetadata accumulates one chunk's metadata into the running result.
// A nil accumulator means "first chunk": the chunk's metadata becomes the
// accumulator verbatim. Otherwise video/audio streams are zipped
// position-wise and their duration/frame/sample counters summed while
// scenes are concatenated, never summed — a scene list longer than one
// chunk's worth is meaningful, a scene *count* added to another isn't.
func MergeMetadata(acc *video.Metadata, chunk video.Metadata) *video.Metadata {
	if acc == nil {
		merged := chunk
		return &merged
	}

	merged := *acc
	merged.Videos = mergeVideoStreams(acc.Videos, chunk.Videos)
	merged.Audios = mergeAudioStreams(acc.Audios, chunk.Audios)
	return &merged
}

func mergeVideoStreams(acc, chunk []video.VideoStreamMeta) []video.VideoStreamMeta {
	n := len(acc)
	if len(chunk) > n {
		n = len(chunk)
	}
	out := make([]video.VideoStreamMeta, n)
	for i := 0; i < n; i++ {
		switch {
		case i >= len(acc):
			out[i] = chunk[i]
		case i >= len(chunk):
			out[i] = acc[i]
		default:
			r, s := acc[i], chunk[i]
			r.Duration += s.Duration
			r.Frames += s.Frames
			r.Scenes = append(append([]float64{}, r.Scenes...), s.Scenes...)
			out[i] = r
		}
	}
	return out
}

func mergeAudioStreams(acc, chunk []video.AudioStreamMeta) []video.AudioStreamMeta {
	n := len(acc)
	if len(chunk) > n {
		n = len(chunk)
	}
	out := make([]video.AudioStreamMeta, n)
	for i := 0; i < n; i++ {
		switch {
		case i >= len(acc):
			out[i] = chunk[i]
		case i >= len(chunk):
			out[i] = acc[i]
		default:
			r, s := acc[i], chunk[i]
			r.Duration += s.Duration
			r.Samples += s.Samples
			r.Scenes = append(append([]float64{}, r.Scenes...), s.Scenes...)
			out[i] = r
		}
	}
	return out
}
