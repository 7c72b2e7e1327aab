package main

import (
	"context"
	"log"
	"os"
	"os/signal"

	"github.com/siherrmann/parentrag"
)

const defaultPDF = "ch02-downloaded.pdf"

// Usage: ingestflat [file.pdf]
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

	report, err := rag.IngestPDF(ctx, path, true)
	if err != nil {
		log.Fatalf("Failed to ingest %s: %v", path, err)
	}

	log.Printf("Indexed %d flat chunks in %s", report.Indexed, report.Elapsed)
	for _, failed := range report.Failed {
		log.Printf("Failed %s [%s]: %s", failed.ChunkID, failed.ErrorKind, failed.Error)
	}
	if !report.OK() {
		os.Exit(1)
	}
}
