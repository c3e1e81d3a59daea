package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/maltedev/aliexpress-credential-scraper/internal/browser"
	"github.com/maltedev/aliexpress-credential-scraper/internal/config"
	"github.com/maltedev/aliexpress-credential-scraper/internal/models"
	"github.com/maltedev/aliexpress-credential-scraper/internal/queue"
	"github.com/maltedev/aliexpress-credential-scraper/internal/ratelimit"
	"github.com/maltedev/aliexpress-credential-scraper/internal/scraper"
	"github.com/maltedev/aliexpress-credential-scraper/internal/session"
	"github.com/maltedev/aliexpress-credential-scraper/internal/storage"
	"github.com/maltedev/aliexpress-credential-scraper/pkg/logger"
)

var storeIDRe = regexp.MustCompile(`^\d{6,12}$`)

func main() {
	var (
		stores    = flag.String("stores", "", "Comma-separated list of store numbers to scrape")
		inputFile = flag.String("file", "", "File containing store numbers (one per line)")
		output    = flag.String("output", "scrape_results.json", "Results output file")
		ledger    = flag.String("ledger", "scrape_targets.json", "Target progress file")
		headless  = flag.Bool("headless", true, "Run browser in headless mode")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	log.Info("Starting credential scraper")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Shutdown signal received")
		cancel()
	}()

	b, err := browser.New(&browser.Options{
		Headless:       *headless && cfg.Browser.Headless,
		Timeout:        cfg.Browser.Timeout,
		UserAgent:      cfg.Browser.UserAgent,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		Proxy: &browser.ProxyConfig{
			Server:   cfg.Proxy.Server,
			Username: cfg.Proxy.Username,
			Password: cfg.Proxy.Password,
		},
	})
	if err != nil {
		log.Error("Failed to initialize browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	sessions := session.NewStore(cfg.Session.File, cfg.Session.Validity,
		session.WithMissingTolerance(cfg.Session.MissingTolerance))
	orch := scraper.NewOrchestrator(b, sessions, cfg)

	targets, err := storage.NewTargetLedger(*ledger)
	if err != nil {
		log.Error("Failed to open target ledger", "error", err)
		os.Exit(1)
	}

	taskQueue := queue.NewInMemoryQueue()
	defer taskQueue.Close()

	if err := loadTasks(taskQueue, targets, *stores, *inputFile); err != nil {
		log.Error("Failed to load tasks", "error", err)
		os.Exit(1)
	}

	if taskQueue.Size() == 0 {
		fmt.Println("No stores to process. Use -stores or -file to specify targets.")
		flag.Usage()
		os.Exit(1)
	}

	rateLimiter := ratelimit.NewAdaptiveRateLimiter(
		cfg.Scraper.RateLimitMin,
		cfg.Scraper.RateLimitMax,
	)

	log.Info("Starting scraping", "tasks", taskQueue.Size())

	var results []models.ScrapeResult
	for taskQueue.Size() > 0 {
		select {
		case <-ctx.Done():
			log.Info("Context cancelled, exiting")
			writeResults(*output, results, log)
			return
		default:
		}

		task, err := taskQueue.Pop(ctx)
		if err != nil {
			if err == queue.ErrQueueEmpty || err == queue.ErrQueueClosed {
				break
			}
			log.Error("Failed to get task from queue", "error", err)
			continue
		}

		if err := rateLimiter.Wait(ctx); err != nil {
			log.Error("Rate limiter error", "error", err)
			continue
		}

		log.Info("Processing store", "store_id", task.StoreID, "retry", task.Retries)
		targets.UpdateStatus(task.StoreID, "processing", 0, "")

		batch, err := orch.Run(ctx, []string{task.StoreID})
		if err != nil {
			log.Error("Run aborted", "store_id", task.StoreID, "error", err)
			writeResults(*output, results, log)
			return
		}

		res := batch[0]
		if !res.Succeeded() {
			rateLimiter.RecordError()
			if task.Retries < cfg.Scraper.MaxRetries {
				task.Retries++
				task.Priority--
				taskQueue.Push(task)
				log.Info("Requeueing store", "store_id", task.StoreID, "retry", task.Retries)
				continue
			}
			targets.UpdateStatus(task.StoreID, "failed", 0, res.Error)
			results = append(results, res)
			continue
		}

		rateLimiter.RecordSuccess()
		targets.UpdateStatus(task.StoreID, "completed", len(res.Images), "")
		results = append(results, res)
		log.Info("Store completed", "store_id", task.StoreID, "images", len(res.Images))
	}

	writeResults(*output, results, log)

	summary := storage.Summarize(results)
	log.Info("Scraping completed",
		"stores", summary.Total,
		"succeeded", summary.Succeeded,
		"failed", summary.Failed,
		"images", summary.TotalImages)
	if summary.Succeeded == 0 && summary.Total > 0 {
		os.Exit(1)
	}
}

func loadTasks(q queue.Queue, targets *storage.TargetLedger, stores, inputFile string) error {
	var items []string

	if stores != "" {
		items = append(items, strings.Split(stores, ",")...)
	}

	if inputFile != "" {
		data, err := os.ReadFile(inputFile)
		if err != nil {
			return fmt.Errorf("failed to read input file: %w", err)
		}
		for _, line := range strings.Split(string(data), "\n") {
			line = strings.TrimSpace(line)
			if line != "" && !strings.HasPrefix(line, "#") {
				items = append(items, line)
			}
		}
	}

	for i, item := range items {
		item = strings.TrimSpace(item)
		if !storeIDRe.MatchString(item) {
			if item != "" {
				fmt.Fprintf(os.Stderr, "skipping invalid store number: %q\n", item)
			}
			continue
		}

		targets.Add(item)
		q.Push(&queue.Task{
			ID:        fmt.Sprintf("task-%d", i),
			StoreID:   item,
			Priority:  1,
			CreatedAt: time.Now(),
		})
	}

	return nil
}

func writeResults(filename string, results []models.ScrapeResult, log *slog.Logger) {
	if len(results) == 0 {
		return
	}
	if err := storage.WriteResults(filename, results); err != nil {
		log.Error("Failed to write results", "error", err)
	}
}
