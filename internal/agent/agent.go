package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/meshdrive/meshdrive/internal/logging"
)

// Agent runs the periodic scan-announce loop for one node.
type Agent struct {
	client   *Client
	scanner  *Scanner
	nodeID   string
	nodeName string
	interval time.Duration

	username string
	password string
}

// Config holds agent configuration.
type Config struct {
	Client   *Client
	Scanner  *Scanner
	NodeID   string // hex, derived from hostname when empty
	NodeName string // hostname when empty
	Interval time.Duration
	Username string
	Password string
}

// New creates an agent. Node identity defaults to the hostname: the name
// verbatim, the ID as a truncated hash so re-announces replace the same node.
func New(cfg Config) (*Agent, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	nodeName := cfg.NodeName
	if nodeName == "" {
		nodeName = hostname
	}

	nodeID := cfg.NodeID
	if nodeID == "" {
		sum := sha256.Sum256([]byte(hostname))
		nodeID = hex.EncodeToString(sum[:8])
	} else if _, err := hex.DecodeString(nodeID); err != nil {
		return nil, fmt.Errorf("invalid node id %q: %w", nodeID, err)
	}

	interval := cfg.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	return &Agent{
		client:   cfg.Client,
		scanner:  cfg.Scanner,
		nodeID:   nodeID,
		nodeName: nodeName,
		interval: interval,
		username: cfg.Username,
		password: cfg.Password,
	}, nil
}

// NodeID returns the agent's hex node identifier.
func (a *Agent) NodeID() string {
	return a.nodeID
}

// Run announces immediately, then re-announces every interval until the
// context is canceled. A 401 triggers one re-login before the announce is
// retried on the next tick.
func (a *Agent) Run(ctx context.Context) error {
	if a.username != "" {
		if err := a.client.Login(ctx, a.username, a.password); err != nil {
			return fmt.Errorf("initial login: %w", err)
		}
	}

	logging.Info("agent started",
		zap.String("node", a.nodeID),
		zap.String("name", a.nodeName),
		zap.String("root", a.scanner.Root()),
		zap.Duration("interval", a.interval))

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		a.announceOnce(ctx)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (a *Agent) announceOnce(ctx context.Context) {
	files, err := a.scanner.Scan(ctx)
	if err != nil {
		logging.Error("scan failed", zap.Error(err))
		return
	}

	accepted, err := a.client.Announce(ctx, a.nodeID, a.nodeName, files)
	if errors.Is(err, ErrUnauthorized) && a.username != "" {
		logging.Warn("token rejected, logging in again")
		if err := a.client.Login(ctx, a.username, a.password); err != nil {
			logging.Error("re-login failed", zap.Error(err))
			return
		}
		accepted, err = a.client.Announce(ctx, a.nodeID, a.nodeName, files)
	}
	if err != nil {
		logging.Error("announce failed", zap.Error(err))
		return
	}

	logging.Info("announced",
		zap.Int("scanned", len(files)),
		zap.Int("accepted", accepted))
}
