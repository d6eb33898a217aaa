// Command worker is the transcode worker's entrypoint: it wires the
// pipeline orchestrator, job runner, queue consumer and signal handling
// together, then runs until a stop signal arrives or an unrecoverable
// error takes down the errgroup.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sync/errgroup"

	"github.com/livepeer/transcode-worker/config"
	"github.com/livepeer/transcode-worker/job"
	"github.com/livepeer/transcode-worker/log"
	"github.com/livepeer/transcode-worker/metrics"
	"github.com/livepeer/transcode-worker/pipeline"
	"github.com/livepeer/transcode-worker/queue"
	"github.com/livepeer/transcode-worker/supervisor"
	"github.com/livepeer/transcode-worker/video"
	"github.com/livepeer/transcode-worker/workspace"
)

func main() {
	if err := flag.Set("logtostderr", "true"); err != nil {
		glog.Fatal(err)
	}

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		glog.Fatalf("error parsing config: %s", err)
	}

	ws := workspace.Config{ConnectTimeout: cfg.ConnectTimeout, RequestTimeout: cfg.RequestTimeout}
	// Fail fast on a bad workspace URI before any job is consumed; the
	// per-job trees are derived from the same bases by the Factory.
	if _, err := workspace.New(cfg.TempURI, ws); err != nil {
		glog.Fatalf("error building temp workspace: %s", err)
	}
	if _, err := workspace.New(cfg.ResultsURI, ws); err != nil {
		glog.Fatalf("error building results workspace: %s", err)
	}

	orchestrator := pipeline.Factory{
		TempBase:        cfg.TempURI,
		ResultsBase:     cfg.ResultsURI,
		WorkspaceConfig: ws,
		Prober:          video.Probe{Timeout: cfg.RequestTimeout},
		Config: pipeline.Config{
			ChunkDuration:   cfg.ChunkDuration,
			SegmentDuration: cfg.SegmentDuration,
			EncodeTimeout:   cfg.EncodeTimeout,
		},
	}

	catalog, err := job.NewPostgresCatalog(cfg.DatabaseURL)
	if err != nil {
		glog.Fatalf("error connecting to job catalog: %s", err)
	}

	runner := job.Runner{
		Catalog:          catalog,
		Pipeline:         orchestrator,
		Metrics:          metrics.Metrics,
		RequeueCountdown: 10 * time.Second,
		Edges:            cfg.Edges,
		URLTemplate:      cfg.URLTemplate,
	}

	if err := supervisor.Init(); err != nil {
		glog.Fatalf("error initializing signal boundary: %s", err)
	}

	rootCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	group, ctx := errgroup.WithContext(rootCtx)

	group.Go(func() error {
		return supervisor.HandleSignals(ctx, cancel)
	})

	group.Go(func() error {
		return metrics.ListenAndServe(cfg.MetricsPort)
	})

	for i := 0; i < cfg.Concurrency; i++ {
		consumer := queue.Consumer{
			URL:      cfg.AMQPURL,
			Queue:    cfg.Queue,
			Prefetch: 1,
			Handle:   runner.ProcessJob,
		}
		group.Go(func() error {
			return consumer.Run(ctx)
		})
	}

	err = group.Wait()
	log.LogNoRequestID("shutdown complete", "reason", fmt.Sprint(err))
}
