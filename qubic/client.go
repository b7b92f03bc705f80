// Package qubic talks to a Qubic RPC node for network status and records
// simulated ledger transfers used for escrow settlement.
package qubic

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// TotalFeatures is the number of ledger integrations the marketplace exposes:
// tick status, epoch status, escrow lock and escrow settlement.
const TotalFeatures = 4

const (
	StatusHealthy   = "healthy"
	StatusSimulated = "simulated"
)

// simulatedGenesis anchors the fallback tick counter; Qubic ticks roughly once per second.
var simulatedGenesis = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

const simulatedBaseTick = 59115

type Network struct {
	Tick   int64  `json:"tick"`
	Epoch  int64  `json:"epoch"`
	Status string `json:"status"`
}

type Integration struct {
	RPCCalls      int64 `json:"rpcCalls"`
	SimulatedTx   int64 `json:"simulatedTx"`
	TotalFeatures int   `json:"totalFeatures"`
}

type Status struct {
	Connected   bool        `json:"connected"`
	Network     Network     `json:"network"`
	Integration Integration `json:"integration"`
}

type tickInfoResponse struct {
	TickInfo struct {
		Tick        int64 `json:"tick"`
		Duration    int64 `json:"duration"`
		Epoch       int64 `json:"epoch"`
		InitialTick int64 `json:"initialTick"`
	} `json:"tickInfo"`
}

// Client queries the RPC node and falls back to a simulated tick when it is
// unreachable.
type Client struct {
	baseURL string
	http    *http.Client
	now     func() time.Time

	rpcCalls    atomic.Int64
	simulatedTx atomic.Int64

	mu        sync.RWMutex
	connected bool
	last      Network
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		now:     time.Now,
	}
}

// TickInfo fetches the current tick and epoch from the RPC node.
func (c *Client) TickInfo(ctx context.Context) (Network, error) {
	c.rpcCalls.Add(1)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/tick-info", nil)
	if err != nil {
		return Network{}, fmt.Errorf("build tick-info request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return Network{}, fmt.Errorf("tick-info request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Network{}, fmt.Errorf("tick-info status %d", resp.StatusCode)
	}
	var body tickInfoResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Network{}, fmt.Errorf("decode tick-info: %w", err)
	}
	return Network{Tick: body.TickInfo.Tick, Epoch: body.TickInfo.Epoch, Status: StatusHealthy}, nil
}

func (c *Client) simulated() Network {
	elapsed := int64(c.now().Sub(simulatedGenesis) / time.Second)
	if elapsed < 0 {
		elapsed = 0
	}
	return Network{
		Tick:   simulatedBaseTick + elapsed,
		Epoch:  1 + elapsed/(7*24*3600),
		Status: StatusSimulated,
	}
}

// Refresh polls the node once and caches the result.
func (c *Client) Refresh(ctx context.Context) error {
	n, err := c.TickInfo(ctx)
	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.connected = false
		c.last = c.simulated()
		return err
	}
	c.connected = true
	c.last = n
	return nil
}

// Status refreshes from the node and reports connection, network and counters.
func (c *Client) Status(ctx context.Context) Status {
	_ = c.Refresh(ctx)
	return c.Snapshot()
}

// Snapshot reports the last known status without calling the node.
func (c *Client) Snapshot() Status {
	c.mu.RLock()
	connected, network := c.connected, c.last
	c.mu.RUnlock()
	if network.Status == "" {
		network = c.simulated()
	}
	return Status{
		Connected: connected,
		Network:   network,
		Integration: Integration{
			RPCCalls:      c.rpcCalls.Load(),
			SimulatedTx:   c.simulatedTx.Load(),
			TotalFeatures: TotalFeatures,
		},
	}
}

// Connected reports whether the last RPC call succeeded.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SimulateTransfer records a ledger transfer and returns its transaction hash.
func (c *Client) SimulateTransfer(_ context.Context, from, to string, amount float64) (string, error) {
	if amount <= 0 {
		return "", fmt.Errorf("transfer amount must be positive")
	}
	if from == "" || to == "" {
		return "", fmt.Errorf("transfer requires source and destination")
	}
	hash, err := RandomLetters(60, "abcdefghijklmnopqrstuvwxyz")
	if err != nil {
		return "", err
	}
	c.simulatedTx.Add(1)
	return hash, nil
}

// RandomLetters draws n characters uniformly from alphabet using crypto/rand.
func RandomLetters(n int, alphabet string) (string, error) {
	max := big.NewInt(int64(len(alphabet)))
	var b strings.Builder
	b.Grow(n)
	for i := 0; i < n; i++ {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		b.WriteByte(alphabet[idx.Int64()])
	}
	return b.String(), nil
}
