package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/maltedev/aliexpress-credential-scraper/internal/api"
	"github.com/maltedev/aliexpress-credential-scraper/internal/config"
	"github.com/maltedev/aliexpress-credential-scraper/internal/session"
	"github.com/maltedev/aliexpress-credential-scraper/internal/sign"
	"github.com/maltedev/aliexpress-credential-scraper/pkg/logger"
)

// Fetches product data straight from the signed gateway, no browser
// involved. Needs a session file from a prior scraper run for the
// signing token.
func main() {
	var (
		productID = flag.String("product", "", "Product ID to fetch")
		rawAPI    = flag.String("api", "", "Raw mtop API name to call instead of the product query")
		version   = flag.String("v", "1.0", "API version for -api calls")
		data      = flag.String("data", "{}", "JSON payload for -api calls")
	)
	flag.Parse()

	if *productID == "" && *rawAPI == "" {
		fmt.Println("Usage: product -product <id> | -api <name> [-v <version>] [-data <json>]")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logg := logger.New(cfg.Logging.Level, "text")

	store := session.NewStore(cfg.Session.File, cfg.Session.Validity,
		session.WithMissingTolerance(cfg.Session.MissingTolerance))
	sess, err := store.Load()
	if err != nil {
		logg.Error("Failed to load session", "error", err)
		os.Exit(1)
	}
	if sess == nil {
		logg.Error("No stored session; run the scraper first to collect cookies",
			"file", cfg.Session.File)
		os.Exit(1)
	}

	client, err := api.NewClient(cfg.API, cfg.Proxy)
	if err != nil {
		logg.Error("Failed to build API client", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	var resp *api.Response
	if *productID != "" {
		resp, err = client.GetProduct(ctx, sess, *productID)
	} else {
		resp, err = client.Call(ctx, sess, *rawAPI, *version, *data)
	}
	if err != nil {
		if errors.Is(err, sign.ErrMissingToken) {
			logg.Error("Stored session has no signing token; rescrape to refresh cookies")
		} else {
			logg.Error("API call failed", "error", err)
		}
		os.Exit(1)
	}

	out, err := json.MarshalIndent(resp, "", "  ")
	if err != nil {
		logg.Error("Failed to encode response", "error", err)
		os.Exit(1)
	}
	fmt.Println(string(out))
}
