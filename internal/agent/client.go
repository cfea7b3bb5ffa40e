package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/meshdrive/meshdrive/internal/logging"
	"github.com/meshdrive/meshdrive/internal/protocol"
	"github.com/meshdrive/meshdrive/internal/retry"
)

// ErrUnauthorized is returned when the server rejects the token. The caller
// should log in again.
var ErrUnauthorized = errors.New("unauthorized")

// Client talks to the server API with retry and online-state tracking.
type Client struct {
	baseURL    string
	httpClient *http.Client
	policy     retry.Policy

	mu        sync.RWMutex
	online    bool
	authToken string
}

// ClientConfig holds client configuration.
type ClientConfig struct {
	BaseURL string
	Timeout time.Duration
	Policy  retry.Policy
	Token   string
}

// NewClient creates a client for the given server.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Policy.MaxAttempts == 0 && cfg.Policy.InitialWait == 0 {
		cfg.Policy = retry.DefaultPolicy()
	}

	return &Client{
		baseURL: cfg.BaseURL,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        10,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		policy:    cfg.Policy,
		online:    true,
		authToken: cfg.Token,
	}
}

// SetAuthToken sets the JWT auth token for requests.
func (c *Client) SetAuthToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authToken = token
}

func (c *Client) applyAuth(req *http.Request) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
}

// IsOnline returns true if the last request reached the server.
func (c *Client) IsOnline() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.online
}

func (c *Client) setOnline(online bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.online != online {
		if online {
			logging.Info("server is back online")
		} else {
			logging.Warn("server is offline")
		}
	}
	c.online = online
}

// Ping checks if the server is reachable.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/health", nil)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.setOnline(false)
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}

	c.setOnline(true)
	return nil
}

// Login exchanges credentials for a JWT and stores it on the client.
func (c *Client) Login(ctx context.Context, username, password string) error {
	body, err := json.Marshal(protocol.LoginRequest{Username: username, Password: password})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/auth/token", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.setOnline(false)
		return fmt.Errorf("login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("login failed: server returned %d", resp.StatusCode)
	}
	c.setOnline(true)

	var loginResp protocol.LoginResponse
	if err := json.NewDecoder(resp.Body).Decode(&loginResp); err != nil {
		return fmt.Errorf("decode login response: %w", err)
	}

	c.SetAuthToken(loginResp.Token)
	logging.Info("logged in",
		zap.String("username", loginResp.Username),
		zap.Time("token_expires", loginResp.ExpiresAt))
	return nil
}

// Announce sends the node's complete file list to the server. Transport
// errors and 5xx responses are retried; 401 maps to ErrUnauthorized.
func (c *Client) Announce(ctx context.Context, nodeID, nodeName string, files []protocol.AnnouncedFile) (int, error) {
	body, err := json.Marshal(protocol.AnnounceRequest{
		NodeID:   nodeID,
		NodeName: nodeName,
		Files:    files,
	})
	if err != nil {
		return 0, err
	}

	var accepted int
	err = retry.Do(ctx, c.policy, func() error {
		req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/v1/announce", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		c.applyAuth(req)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			c.setOnline(false)
			return retry.Transient(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
		case resp.StatusCode == http.StatusUnauthorized:
			return ErrUnauthorized
		case resp.StatusCode >= 500:
			c.setOnline(false)
			return retry.Transient(fmt.Errorf("server error: %d", resp.StatusCode))
		default:
			return fmt.Errorf("server returned %d", resp.StatusCode)
		}

		c.setOnline(true)

		var announceResp protocol.AnnounceResponse
		if err := json.NewDecoder(resp.Body).Decode(&announceResp); err != nil {
			return fmt.Errorf("decode announce response: %w", err)
		}
		accepted = announceResp.Accepted
		return nil
	})

	return accepted, err
}
