// MeshDrive Agent
//
// Announces a local directory's file list to the server on a fixed interval
// so the dashboard can aggregate this node's storage usage.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/meshdrive/meshdrive/internal/agent"
	"github.com/meshdrive/meshdrive/internal/logging"
)

func main() {
	serverURL := flag.String("server", "http://localhost:8080", "Server URL")
	root := flag.String("root", "", "Directory to share (required)")
	nodeID := flag.String("node-id", "", "Hex node identifier (derived from hostname if empty)")
	nodeName := flag.String("node-name", "", "Node display name (hostname if empty)")
	interval := flag.Duration("interval", 5*time.Minute, "Announce interval")
	username := flag.String("username", "", "Username for login")
	password := flag.String("password", "", "Password for login (or AGENT_PASSWORD)")
	token := flag.String("token", "", "JWT token (skips login)")
	logLevel := flag.String("log-level", "info", "Log level: debug, info, warn, error")
	logFormat := flag.String("log-format", "console", "Log format: json or console")
	flag.Parse()

	if err := logging.Init(logging.Config{Level: *logLevel, Format: *logFormat}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	if *root == "" {
		logging.Fatal("-root is required")
	}
	if *password == "" {
		*password = os.Getenv("AGENT_PASSWORD")
	}
	if *token == "" && *username == "" {
		logging.Fatal("either -token or -username/-password is required")
	}

	client := agent.NewClient(agent.ClientConfig{
		BaseURL: *serverURL,
		Token:   *token,
	})

	a, err := agent.New(agent.Config{
		Client:   client,
		Scanner:  agent.NewScanner(*root),
		NodeID:   *nodeID,
		NodeName: *nodeName,
		Interval: *interval,
		Username: *username,
		Password: *password,
	})
	if err != nil {
		logging.Fatal("agent init failed", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")
		cancel()
	}()

	if err := a.Run(ctx); err != nil && err != context.Canceled {
		logging.Fatal("agent error", zap.Error(err))
	}
}
