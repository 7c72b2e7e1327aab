package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/siherrmann/parentrag"
)

const defaultPDF = "ch02-downloaded.pdf"

// Usage: ingest [file.pdf]
func main() {
	path := defaultPDF
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rag, err := parentrag.NewRagFromEnv(ctx, nil)
	if err != nil {
		log.Fatalf("Failed to create rag: %v", err)
	}
	defer rag.Close()

	report, err := rag.IngestPDF(ctx, path, false)
	if err != nil {
		log.Fatalf("Failed to ingest %s: %v", path, err)
	}

	log.Printf("Indexed %d of %d parents (%d children) from %d sections in %s",
		report.Indexed, report.Parents, report.Children, report.Sections, report.Elapsed)
	for _, skipped := range report.Skipped {
		log.Printf("Skipped parent %d (%d tokens): %s", skipped.Index, skipped.Tokens, skipped.Reason)
	}
	for _, failed := range report.Failed {
		log.Printf("Failed parent %d [%s]: %s", failed.Index, failed.ErrorKind, failed.Error)
	}
	if !report.OK() {
		os.Exit(1)
	}
}
