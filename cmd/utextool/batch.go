package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/goccy/go-json"
	"github.com/urfave/cli/v3"
)

// batchConfig is the JSON job list for batch injection.
type batchConfig struct {
	Version string     `json:"version,omitempty"`
	Jobs    []batchJob `json:"jobs"`
}

type batchJob struct {
	Asset  string `json:"asset"`
	Chain  string `json:"chain"`
	Out    string `json:"out,omitempty"`
	Export *int   `json:"export,omitempty"`
}

// requested returns the export id the job names, or -1 for the default
// (first texture). A pointer keeps export 0 addressable.
func (j batchJob) requested() int {
	if j.Export == nil {
		return -1
	}
	return *j.Export
}

func batchCmd() *cli.Command {
	var (
		configPath string
		workers    int64
	)
	return &cli.Command{
		Name:  "batch",
		Usage: "Inject mip chains into many assets from a JSON job list",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to the job list", Destination: &configPath, Required: true},
			&cli.Int64Flag{Name: "workers", Aliases: []string{"w"}, Usage: "parallel workers", Value: 4, Destination: &workers},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			data, err := os.ReadFile(configPath)
			if err != nil {
				return fmt.Errorf("read config: %w", err)
			}
			var cfg batchConfig
			if err := json.Unmarshal(data, &cfg); err != nil {
				return fmt.Errorf("parse config: %w", err)
			}
			if len(cfg.Jobs) == 0 {
				return fmt.Errorf("config has no jobs")
			}
			n := int(workers)
			if n < 1 {
				n = 1
			}
			return runJobs(cfg, n)
		},
	}
}

// runJobs fans the job list out over a fixed pool of workers. Every job is
// attempted; the first error is reported after the pool drains.
func runJobs(cfg batchConfig, workers int) error {
	jobs := make(chan batchJob)
	errs := make(chan error, len(cfg.Jobs))
	var wg sync.WaitGroup

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobs {
				if err := runJob(cfg.Version, job); err != nil {
					log.Error("job failed", "asset", job.Asset, "error", err)
					errs <- fmt.Errorf("%s: %w", job.Asset, err)
					continue
				}
				log.Info("job done", "asset", job.Asset)
			}
		}()
	}
	for _, job := range cfg.Jobs {
		jobs <- job
	}
	close(jobs)
	wg.Wait()
	close(errs)

	failed := 0
	var first error
	for err := range errs {
		if first == nil {
			first = err
		}
		failed++
	}
	if first != nil {
		return fmt.Errorf("%d of %d jobs failed, first: %w", failed, len(cfg.Jobs), first)
	}
	return nil
}

func runJob(version string, job batchJob) error {
	c, err := openContainer(job.Asset, version)
	if err != nil {
		return err
	}
	id, err := pickTexture(c.Textures(), job.requested())
	if err != nil {
		return err
	}
	chain, err := readChain(job.Chain)
	if err != nil {
		return err
	}
	out, err := c.Patch(id, chain)
	if err != nil {
		return err
	}
	target := job.Out
	if target == "" {
		target = job.Asset
	}
	return saveStreams(target, out)
}
