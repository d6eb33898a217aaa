package transcode

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/livepeer/transcode-worker/video"
)

func TestVarStreamMapShape(t *testing.T) {
	videos := []video.VideoTrack{
		{ID: "1080p", MaxRate: 5_000_000},
		{ID: "720p", MaxRate: 2_800_000},
	}
	audios := []video.AudioTrack{{ID: "stereo192", Bitrate: 192_000}}

	got := varStreamMap(videos, audios)
	require.Equal(t,
		"v:0,agroup:aud,name:1080p,bandwidth:5000000 "+
			"v:1,agroup:aud,name:720p,bandwidth:2800000 "+
			"a:0,agroup:aud,default:yes",
		got)

	// One v: entry per video rendition (|audios|*|videos| here, with a
	// single audio rendition) and one a: entry per audio rendition, every
	// v: referencing the shared agroup.
	require.Equal(t, len(videos)*len(audios), strings.Count(got, "v:"))
	require.Equal(t, len(audios), strings.Count(got, "a:"))
	for _, entry := range strings.Fields(got) {
		require.Contains(t, entry, "agroup:"+audioGroup)
	}
}

func TestVarStreamMapEmpty(t *testing.T) {
	require.Equal(t, "", varStreamMap(nil, nil))
}

func TestSegmentFilenameTemplateContainsPlaceholders(t *testing.T) {
	tmpl := segmentFilenameTemplate("dav://store.example.com/results/abc123/index.m3u8")
	require.Contains(t, tmpl, "%v")
	require.Contains(t, tmpl, "%05d")
	require.True(t, strings.HasPrefix(tmpl, "dav://store.example.com/results/abc123/"))
}

func TestBasenameOf(t *testing.T) {
	require.Equal(t, "index.m3u8", basenameOf("dav://store.example.com/results/abc123/index.m3u8"))
	require.Equal(t, "index.m3u8", basenameOf("index.m3u8"))
}

func TestSegmentPattern(t *testing.T) {
	require.Equal(t,
		"file:///tmp/job/sources/source-video-%05d.mkv",
		segmentPattern("file:///tmp/job/sources/source-video.m3u8"))
}
