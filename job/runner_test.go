package job

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	xerrors "github.com/livepeer/transcode-worker/errors"
	"github.com/livepeer/transcode-worker/pipeline"
	"github.com/livepeer/transcode-worker/video"
)

type fakeCatalog struct {
	claims      []int64
	claimErr    error
	claimJob    Job
	finalized   []finalizeCall
	finalizeErr error
}

type finalizeCall struct {
	jobID     int64
	taskToken uuid.UUID
	status    Status
	fields    FinalizeFields
}

func (f *fakeCatalog) Claim(ctx context.Context, jobID int64, taskToken uuid.UUID) (Job, error) {
	f.claims = append(f.claims, jobID)
	if f.claimErr != nil {
		return Job{}, f.claimErr
	}
	j := f.claimJob
	j.ID = jobID
	j.TaskID = &taskToken
	if j.Basename == nil {
		b := uuid.New()
		j.Basename = &b
	}
	return j, nil
}

func (f *fakeCatalog) Finalize(ctx context.Context, jobID int64, taskToken uuid.UUID, status Status, fields FinalizeFields) error {
	f.finalized = append(f.finalized, finalizeCall{jobID, taskToken, status, fields})
	return f.finalizeErr
}

type fakePipeline struct {
	result video.Metadata
	err    error
}

func (f fakePipeline) Run(ctx context.Context, j pipeline.Job) (video.Metadata, error) {
	return f.result, f.err
}

func TestProcessJobDone(t *testing.T) {
	cat := &fakeCatalog{claimJob: Job{SourceURI: "https://example.com/src.mp4"}}
	pl := fakePipeline{result: video.Metadata{
		URI:    "file:///store/out/index.m3u8",
		Videos: []video.VideoStreamMeta{{Duration: 12.0, Scenes: []float64{1, 2}}},
		Audios: []video.AudioStreamMeta{{Duration: 11.8}},
	}}
	r := Runner{Catalog: cat, Pipeline: pl}

	err := r.ProcessJob(context.Background(), 1, uuid.New())
	require.NoError(t, err)
	require.Len(t, cat.finalized, 1)
	call := cat.finalized[0]
	require.Equal(t, StatusDone, call.status)
	require.NotNil(t, call.fields.Duration)
	require.InDelta(t, 11.8, call.fields.Duration.Seconds(), 0.001)
	require.Contains(t, string(call.fields.Metadata), `"videos"`)
	require.NotContains(t, string(call.fields.Metadata), "scenes")
}

func TestProcessJobError(t *testing.T) {
	cat := &fakeCatalog{claimJob: Job{SourceURI: "https://example.com/src.mp4"}}
	pl := fakePipeline{err: xerrors.Profile("no compatible video profiles")}
	r := Runner{Catalog: cat, Pipeline: pl}

	err := r.ProcessJob(context.Background(), 2, uuid.New())
	require.Error(t, err)
	require.Len(t, cat.finalized, 1)
	require.Equal(t, StatusError, cat.finalized[0].status)
	require.NotNil(t, cat.finalized[0].fields.Error)
}

func TestProcessJobRequeueOnCancellation(t *testing.T) {
	cat := &fakeCatalog{claimJob: Job{SourceURI: "https://example.com/src.mp4"}}
	pl := fakePipeline{err: xerrors.Cancelled("soft stop")}
	r := Runner{Catalog: cat, Pipeline: pl, RequeueCountdown: 0}

	err := r.ProcessJob(context.Background(), 3, uuid.New())
	require.NoError(t, err)
	require.Len(t, cat.finalized, 1)
	require.Equal(t, StatusQueued, cat.finalized[0].status)
	require.Equal(t, "cancellation: soft stop", *cat.finalized[0].fields.Error)
}

func TestProcessJobClaimRetriesBoundedThenGivesUp(t *testing.T) {
	cat := &fakeCatalog{claimErr: ErrNotClaimable}
	r := Runner{Catalog: cat, ClaimRetries: 2, ClaimRetryInterval: time.Millisecond}

	err := r.ProcessJob(context.Background(), 4, uuid.New())
	require.Error(t, err)
	require.Len(t, cat.claims, 3) // initial + 2 retries
	require.Empty(t, cat.finalized)
}

func TestProcessJobDonePlaybackURLs(t *testing.T) {
	basename := uuid.New()
	cat := &fakeCatalog{claimJob: Job{SourceURI: "https://example.com/src.mp4", Basename: &basename}}
	pl := fakePipeline{result: video.Metadata{
		URI:    "file:///store/out/index.m3u8",
		Videos: []video.VideoStreamMeta{{Duration: 12.0}},
		Audios: []video.AudioStreamMeta{{Duration: 11.8}},
	}}
	r := Runner{Catalog: cat, Pipeline: pl, Edges: []string{"https://edge1.example.com", "https://edge2.example.com/"}}

	err := r.ProcessJob(context.Background(), 5, uuid.New())
	require.NoError(t, err)
	require.Len(t, cat.finalized, 1)

	var persisted PersistedMetadata
	require.NoError(t, json.Unmarshal(cat.finalized[0].fields.Metadata, &persisted))
	require.Equal(t, []string{
		"https://edge1.example.com/results/" + hexUUID(basename) + "/index.m3u8",
		"https://edge2.example.com/results/" + hexUUID(basename) + "/index.m3u8",
	}, persisted.PlaybackURLs)
}

func TestPlaybackURLsNoEdgesConfigured(t *testing.T) {
	r := Runner{}
	require.Nil(t, r.playbackURLs(uuid.New().String()))
}

func TestPlaybackURLsCustomTemplate(t *testing.T) {
	r := Runner{Edges: []string{"edge.example.com"}, URLTemplate: "vod/%s/master.m3u8"}
	require.Equal(t, []string{"edge.example.com/vod/abc/master.m3u8"}, r.playbackURLs("abc"))
}
