package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/anglersden/fishing-assistant/pkg/chatclient"
)

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "Fishing assistant server URL")
	flag.Parse()

	ctx := context.Background()
	client := chatclient.New(*baseURL)

	greeting, err := client.FetchGreeting(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not fetch greeting: %v\n", err)
	}
	session := chatclient.NewSession(greeting)
	if greeting != "" {
		fmt.Printf("assistant: %s\n", greeting)
	}

	fmt.Println("Type your question (Ctrl+D to quit).")
	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			break
		}
		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}

		fmt.Print("assistant: ")
		session.Submit(text)
		convID, err := client.Stream(ctx, session.ConversationID, text, func(content string, done bool) error {
			session.ApplyChunk(content, done)
			fmt.Print(content)
			return nil
		})
		if convID != "" {
			session.ConversationID = convID
		}
		if err != nil {
			session.Fail(err)
			fmt.Printf("\n[error: %v]\n", err)
			continue
		}
		fmt.Println()
	}
	fmt.Println()
}
