package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"relentless-frontier/internal/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Config holds the seeds to submit to the API. JSON files parse too.
type Config struct {
	Seeds []string `yaml:"seeds" json:"seeds"`
}

// options are the resolved command-line settings.
type options struct {
	configPath string
	apiBase    string
	batchSize  int
	workers    int
	timeout    time.Duration
}

type crawlResponse struct {
	Status     string `json:"status"`
	Accepted   int    `json:"accepted"`
	Duplicates int    `json:"duplicates"`
	Rejected   int    `json:"rejected"`
}

var errNoSeeds = errors.New("config has no seeds")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "loadgen",
		Short: "Submit seed URLs to the frontier in batches",
		RunE:  runRoot,
	}
	flags := cmd.Flags()
	flags.StringP("config", "c", "seeds.yaml", "Path to YAML or JSON file with a seeds list")
	flags.String("api", "http://localhost:8081", "API base URL")
	flags.IntP("batch", "b", 50, "URLs per POST /crawl request")
	flags.IntP("workers", "w", 4, "Concurrent requests")
	flags.IntP("timeout", "m", 30, "Request timeout (second)")
	flags.Bool("debug", false, "Enable debug logging")
	cmd.SilenceUsage = true
	return cmd
}

func runRoot(cmd *cobra.Command, _ []string) error {
	opts, err := optionsFromFlags(cmd.Flags())
	if err != nil {
		return err
	}
	debug, err := cmd.Flags().GetBool("debug")
	if err != nil {
		return err
	}
	level := "info"
	if debug {
		level = "debug"
	}
	log := logging.Component(logging.New(logging.Options{Level: level}), "loadgen")

	return run(cmd.Context(), opts, &http.Client{Timeout: opts.timeout}, log)
}

func optionsFromFlags(flags *pflag.FlagSet) (options, error) {
	var opts options
	var err error
	if opts.configPath, err = flags.GetString("config"); err != nil {
		return opts, err
	}
	if opts.apiBase, err = flags.GetString("api"); err != nil {
		return opts, err
	}
	if opts.batchSize, err = flags.GetInt("batch"); err != nil {
		return opts, err
	}
	if opts.workers, err = flags.GetInt("workers"); err != nil {
		return opts, err
	}
	if opts.timeout, err = durationFromFlags(flags, "timeout", time.Second); err != nil {
		return opts, err
	}
	return opts, nil
}

func durationFromFlags(flags *pflag.FlagSet, name string, unit time.Duration) (time.Duration, error) {
	v, err := flags.GetInt(name)
	if err != nil {
		return 0, fmt.Errorf("get int %s: %w", name, err)
	}
	return time.Duration(v) * unit, nil
}

// run loads the seeds, splits them into batches and posts the batches with a
// small worker pool. It fails if any batch was not accepted.
func run(ctx context.Context, opts options, client *http.Client, log *logrus.Entry) error {
	cfg, err := loadConfig(opts.configPath)
	if err != nil {
		return err
	}

	baseURL, err := url.Parse(opts.apiBase)
	if err != nil {
		return err
	}
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	workers := opts.workers
	if workers < 1 {
		workers = 1
	}

	batches := splitBatches(cfg.Seeds, opts.batchSize)
	jobs := make(chan int)
	var (
		mu     sync.Mutex
		total  crawlResponse
		failed int
		wg     sync.WaitGroup
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				resp, err := submitBatch(ctx, client, baseURL, batches[idx])
				entry := log.WithFields(logrus.Fields{"batch": idx, "size": len(batches[idx])})
				mu.Lock()
				if err != nil {
					failed++
					entry.WithError(err).Warn("batch failed")
				} else {
					total.Accepted += resp.Accepted
					total.Duplicates += resp.Duplicates
					total.Rejected += resp.Rejected
					entry.WithFields(logrus.Fields{
						"accepted":   resp.Accepted,
						"duplicates": resp.Duplicates,
						"rejected":   resp.Rejected,
					}).Debug("batch submitted")
				}
				mu.Unlock()
			}
		}()
	}
	for i := range batches {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	log.WithFields(logrus.Fields{
		"seeds":      len(cfg.Seeds),
		"batches":    len(batches),
		"failed":     failed,
		"accepted":   total.Accepted,
		"duplicates": total.Duplicates,
		"rejected":   total.Rejected,
	}).Info("submitted seeds")

	if failed > 0 {
		return fmt.Errorf("%d of %d batches failed", failed, len(batches))
	}
	return nil
}

// loadConfig reads and parses the seeds file.
func loadConfig(path string) (Config, error) {
	var cfg Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(cfg.Seeds) == 0 {
		return cfg, errNoSeeds
	}
	return cfg, nil
}

func splitBatches(seeds []string, size int) [][]string {
	if size < 1 {
		size = 1
	}
	var out [][]string
	for start := 0; start < len(seeds); start += size {
		end := start + size
		if end > len(seeds) {
			end = len(seeds)
		}
		out = append(out, seeds[start:end])
	}
	return out
}

func submitBatch(ctx context.Context, client *http.Client, base *url.URL, batch []string) (crawlResponse, error) {
	var out crawlResponse
	payload, err := json.Marshal(batch)
	if err != nil {
		return out, err
	}

	u := base.JoinPath("crawl")
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return out, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return out, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return out, err
	}
	if resp.StatusCode != http.StatusOK {
		return out, fmt.Errorf("status %d", resp.StatusCode)
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return out, fmt.Errorf("decode response: %w", err)
	}
	return out, nil
}
