package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/EternisAI/silo-fleet/internal/agentclient"
)

func runEnroll(args []string) error {
	fs := flag.NewFlagSet("enroll", flag.ExitOnError)
	server := fs.String("server", "", "Server URL (e.g., http://server:8080)")
	key := fs.String("key", "", "Enrollment key")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if *server == "" {
		return fmt.Errorf("--server is required")
	}
	if *key == "" {
		return fmt.Errorf("--key is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := agentclient.Enroll(ctx, agentclient.Config{URL: *server}, *key)
	if err != nil {
		return fmt.Errorf("enrollment failed: %w", err)
	}

	fmt.Println("Enrollment successful!")
	fmt.Printf("  Agent ID: %s\n", resp.AgentID)
	fmt.Println()
	fmt.Println("Add the following to your agent application.yaml:")
	fmt.Println()
	fmt.Printf("server:\n")
	fmt.Printf("  url: %s\n", *server)
	fmt.Printf("agent:\n")
	fmt.Printf("  id: \"%s\"\n", resp.AgentID)
	fmt.Printf("  api_key: \"%s\"\n", resp.APIKey)
	fmt.Println()
	fmt.Println("The API key is shown only once.")

	return nil
}
