package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"

	"github.com/siherrmann/parentrag"
)

const defaultQuestion = "What is the trigger system of the experiment?"

// Usage: ask [question...]
//
// The answer is generated by the OpenAI chat model in RAG_CHAT_MODEL and
// needs OPENAI_API_KEY.
func main() {
	question := defaultQuestion
	if len(os.Args) > 1 {
		question = strings.Join(os.Args[1:], " ")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	rag, err := parentrag.NewRagFromEnv(ctx, nil)
	if err != nil {
		log.Fatalf("Failed to create rag: %v", err)
	}
	defer rag.Close()

	if err := rag.UseOpenAI(); err != nil {
		log.Fatalf("Failed to set up completer: %v", err)
	}

	result := rag.Ask(ctx, question, rag.Engine.Config().TopK)
	if !result.OK {
		log.Fatalf("Failed to answer [%s]: %s", result.ErrorKind, result.Error)
	}

	if result.StepBackQuestion != "" {
		fmt.Printf("Step-back question: %s\n\n", result.StepBackQuestion)
	}
	fmt.Println(result.Answer)
}
