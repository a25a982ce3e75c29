// Package chain wraps go-ethereum clients for the presale contract: a pull
// channel over HTTP (head and range queries) and a push channel over a
// WebSocket log subscription.
package chain

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/marko911/presale-pulse/internal/config"
	"github.com/marko911/presale-pulse/internal/metrics"
	"github.com/marko911/presale-pulse/internal/purchase"
)

// Options configures a Client.
type Options struct {
	RPC      config.RPCConfig
	ChainID  uint64
	Contract common.Address
	Decoder  *purchase.Decoder
}

// Client serves head queries, bounded range queries and live subscriptions
// for TokensPurchased logs of a single contract.
type Client struct {
	opts   Options
	logger *slog.Logger

	mu   sync.RWMutex
	http *ethclient.Client
}

// Dial connects the pull channel and verifies the chain ID.
func Dial(ctx context.Context, opts Options, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Decoder == nil {
		return nil, fmt.Errorf("decoder is required")
	}
	if opts.RPC.Timeout <= 0 {
		opts.RPC.Timeout = 30 * time.Second
	}
	if opts.RPC.DialTimeout <= 0 {
		opts.RPC.DialTimeout = opts.RPC.Timeout
	}

	c := &Client{
		opts:   opts,
		logger: logger.With("component", "chain-client"),
	}

	c.logger.Info("connecting to HTTP RPC endpoint", "url", opts.RPC.URL)

	dialCtx, cancel := context.WithTimeout(ctx, opts.RPC.DialTimeout)
	defer cancel()

	rpcClient, err := rpc.DialContext(dialCtx, opts.RPC.URL)
	if err != nil {
		return nil, fmt.Errorf("dial HTTP RPC: %w", err)
	}
	client := ethclient.NewClient(rpcClient)

	if opts.ChainID != 0 {
		chainID, err := client.ChainID(dialCtx)
		if err != nil {
			client.Close()
			return nil, fmt.Errorf("get chain ID: %w", err)
		}
		if chainID.Uint64() != opts.ChainID {
			client.Close()
			return nil, fmt.Errorf("chain ID mismatch: expected %d, got %d", opts.ChainID, chainID.Uint64())
		}
		c.logger.Info("verified chain ID", "chain_id", chainID)
	}

	c.http = client
	return c, nil
}

// Close releases the pull channel.
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.http != nil {
		c.http.Close()
		c.http = nil
	}
}

func (c *Client) pull() (*ethclient.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.http == nil {
		return nil, ErrNotConnected
	}
	return c.http, nil
}

// Head returns the current chain head block number.
func (c *Client) Head(ctx context.Context) (uint64, error) {
	client, err := c.pull()
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RPC.Timeout)
	defer cancel()

	head, err := client.BlockNumber(ctx)
	if err != nil {
		return 0, fmt.Errorf("get block number: %w", err)
	}
	return head, nil
}

// QueryRange returns the decoded purchases in [from, to], ordered by block
// and log index. Undecodable logs are logged and skipped.
func (c *Client) QueryRange(ctx context.Context, from, to uint64) ([]purchase.Event, error) {
	if to < from {
		return nil, fmt.Errorf("%w: from=%d to=%d", ErrInvalidRange, from, to)
	}

	client, err := c.pull()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RPC.Timeout)
	defer cancel()

	query := c.filterQuery()
	query.FromBlock = new(big.Int).SetUint64(from)
	query.ToBlock = new(big.Int).SetUint64(to)

	logs, err := client.FilterLogs(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}

	events := make([]purchase.Event, 0, len(logs))
	for _, log := range logs {
		if log.Removed {
			continue
		}
		ev, err := c.opts.Decoder.Decode(log)
		if err != nil {
			metrics.DecodeErrors.Inc()
			c.logger.Warn("dropping undecodable log",
				"block", log.BlockNumber,
				"tx", log.TxHash.Hex(),
				"error", err,
			)
			continue
		}
		events = append(events, ev)
	}

	sort.SliceStable(events, func(i, j int) bool {
		if events[i].BlockNumber != events[j].BlockNumber {
			return events[i].BlockNumber < events[j].BlockNumber
		}
		return events[i].LogIndex < events[j].LogIndex
	})

	return events, nil
}

// Subscribe opens a fresh WebSocket connection and subscribes to purchase
// logs. Closing the returned stream also closes its connection.
func (c *Client) Subscribe(ctx context.Context) (purchase.Stream, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.opts.RPC.DialTimeout)
	defer cancel()

	ws, err := ethclient.DialContext(dialCtx, c.opts.RPC.WSURL)
	if err != nil {
		return nil, fmt.Errorf("dial WebSocket RPC: %w", err)
	}

	logs := make(chan types.Log, 256)
	sub, err := ws.SubscribeFilterLogs(dialCtx, c.filterQuery(), logs)
	if err != nil {
		ws.Close()
		return nil, fmt.Errorf("subscribe filter logs: %w", err)
	}

	s := newLogStream(ws, sub, logs, c.opts.Decoder, c.logger)
	go s.run()
	return s, nil
}

func (c *Client) filterQuery() ethereum.FilterQuery {
	return ethereum.FilterQuery{
		Addresses: []common.Address{c.opts.Contract},
		Topics:    [][]common.Hash{{c.opts.Decoder.Topic()}},
	}
}
