package transcode

import (
	"context"
	"fmt"
	"strings"
	"time"

	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/livepeer/transcode-worker/video"
)

// audioGroup is the single HLS audio rendition group every video variant
// is associated with.
const audioGroup = "aud"

// Segmentor muxes a concatenated video stream and the source audio
// playlist into an HLS master playlist with one audio rendition group
// and N video renditions. Video renditions arrive already encoded (the
// per-chunk Transcoder did that) and are stream-copied; the audio is
// encoded here, once, for the whole timeline.
type Segmentor struct {
	VideoConcatURI  string // ffconcat list of transcoded chunks
	AudioPlaylist   string
	MasterPlaylist  string // destination index.m3u8 URI
	VideoTracks     []video.VideoTrack
	AudioTracks     []video.AudioTrack
	SegmentDuration time.Duration
	EncodeTimeout   time.Duration

	Prober video.Prober
}

// varStreamMap renders ffmpeg's var_stream_map value: one v: entry per
// video rendition carrying its name, nominal bandwidth and audio group,
// then one a: entry per audio rendition declaring the group itself.
// Video entries are not repeated per audio rendition: every audio
// rendition joins the one group, so there are len(videos) v: entries
// whatever the number of audio tracks.
func varStreamMap(videos []video.VideoTrack, audios []video.AudioTrack) string {
	parts := make([]string, 0, len(videos)+len(audios))
	for i, tr := range videos {
		parts = append(parts, fmt.Sprintf("v:%d,agroup:%s,name:%s,bandwidth:%d", i, audioGroup, tr.ID, tr.MaxRate))
	}
	for i := range audios {
		parts = append(parts, fmt.Sprintf("a:%d,agroup:%s,default:yes", i, audioGroup))
	}
	return strings.Join(parts, " ")
}

func (s Segmentor) Run(ctx context.Context) (video.Metadata, error) {
	videoIn := ffmpeg.Input(s.VideoConcatURI, ffmpeg.KwArgs{"f": "concat", "safe": "0"})
	audioIn := ffmpeg.Input(s.AudioPlaylist, ffmpeg.KwArgs{"allowed_extensions": SplitSegmentExt})

	// Input 0 carries one pre-encoded video stream per rendition; input 1
	// carries the single source audio stream, encoded here per track.
	maps := make([]string, 0, len(s.VideoTracks)+len(s.AudioTracks))
	for i := range s.VideoTracks {
		maps = append(maps, fmt.Sprintf("0:v:%d", i))
	}
	for range s.AudioTracks {
		maps = append(maps, "1:a:0")
	}

	outputArgs := ffmpeg.KwArgs{
		"map":                  maps,
		"c:v":                  "copy",
		"copyts":               "",
		"f":                    "hls",
		"hls_playlist_type":    "vod",
		"hls_time":             fmt.Sprintf("%.3f", s.SegmentDuration.Seconds()),
		"hls_segment_filename": segmentFilenameTemplate(s.MasterPlaylist),
		"var_stream_map":       varStreamMap(s.VideoTracks, s.AudioTracks),
		"master_pl_name":       basenameOf(s.MasterPlaylist),
	}
	for i, tr := range s.AudioTracks {
		p := fmt.Sprintf("%d", i)
		outputArgs["c:a:"+p] = tr.Codec
		outputArgs["b:a:"+p] = fmt.Sprintf("%d", tr.Bitrate)
		outputArgs["ac:a:"+p] = fmt.Sprintf("%d", tr.Channels)
		outputArgs["ar:a:"+p] = fmt.Sprintf("%d", tr.SampleRate)
	}

	stream := ffmpeg.Output([]*ffmpeg.Stream{videoIn, audioIn}, s.MasterPlaylist, outputArgs)

	if err := runFFMpeg(ctx, "segment", stream, s.EncodeTimeout); err != nil {
		return video.Metadata{}, err
	}

	analyzer := video.Analyzer{Prober: s.Prober, Kind: video.KindHLSResult}
	return analyzer.Analyze(ctx, s.MasterPlaylist, "")
}

// segmentFilenameTemplate derives the hls_segment_filename pattern from
// the master playlist's directory, containing the %v (rendition) and
// %05d (sequence) placeholders the common contract requires.
func segmentFilenameTemplate(masterPlaylist string) string {
	dir := masterPlaylist
	if i := strings.LastIndex(masterPlaylist, "/"); i >= 0 {
		dir = masterPlaylist[:i]
	}
	return dir + "/%v/segment-%05d.ts"
}

func basenameOf(uri string) string {
	if i := strings.LastIndex(uri, "/"); i >= 0 {
		return uri[i+1:]
	}
	return uri
}
