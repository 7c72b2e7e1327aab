package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/siherrmann/parentrag/core/extract"
)

const (
	defaultURL  = "https://arxiv.org/pdf/1709.00666.pdf"
	defaultDest = "ch02-downloaded.pdf"
)

// Usage: download [url] [destination]
func main() {
	url, dest := defaultURL, defaultDest
	if len(os.Args) > 1 {
		url = os.Args[1]
	}
	if len(os.Args) > 2 {
		dest = os.Args[2]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	client := &http.Client{Timeout: 5 * time.Minute}
	n, err := extract.Download(ctx, client, url, dest)
	if err != nil {
		log.Fatalf("Failed to download %s: %v", url, err)
	}
	log.Printf("Downloaded %d bytes to %s", n, dest)
}
