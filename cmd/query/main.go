package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/siherrmann/parentrag"
	"github.com/siherrmann/parentrag/model"
)

// Usage: query <parent|vector|keyword|hybrid> <query...>
func main() {
	if len(os.Args) < 3 {
		log.Fatalf("Usage: %s <parent|vector|keyword|hybrid> <query...>", os.Args[0])
	}
	method := model.RetrievalMethod(os.Args[1])
	query := strings.Join(os.Args[2:], " ")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rag, err := parentrag.NewRagFromEnv(ctx, nil)
	if err != nil {
		log.Fatalf("Failed to create rag: %v", err)
	}
	defer rag.Close()

	results, err := rag.Search(ctx, query, rag.Engine.Config().TopK, method)
	if err != nil {
		log.Fatalf("Failed to search: %v", err)
	}

	for i, result := range results {
		fmt.Printf("%d. %s (score %.4f, %s)\n", i+1, result.Chunk.ID, result.Score, result.RetrievalMethod)
		fmt.Printf("   %s\n\n", preview(result.Chunk.Content, previewRunes))
	}
}

const previewRunes = 300

// preview flattens content to one line of at most n runes.
func preview(content string, n int) string {
	content = strings.ReplaceAll(content, "\n", " ")
	runes := []rune(content)
	if len(runes) <= n {
		return content
	}
	return string(runes[:n]) + "..."
}
