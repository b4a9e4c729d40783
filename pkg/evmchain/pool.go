// Package evmchain is the EVM adapter: a per-chain pool of JSON-RPC
// endpoints with probe-and-failover semantics, the read/write calls the
// validator issues against the validator and core contracts, and the
// metadata/timestamp caches that keep those calls cheap.
package evmchain

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/ethereum/go-ethereum/ethclient"
)

// maxProbeFailures is how many failed RPC calls mark an endpoint
// permanently bad (see advance). The count is kept over the endpoint's
// lifetime and is not reset by a successful call. A failed chain-id probe
// in EnsureProbed marks the endpoint bad at once, without this count.
const maxProbeFailures = 10

// ErrChainIDMismatch is wrapped into EnsureProbed's error when an
// endpoint's eth_chainId disagrees with the configured expectation.
// main exits with status 1 on it; other configuration problems exit
// with status 0.
var ErrChainIDMismatch = errors.New("evmchain: endpoint chain id mismatch")

type endpoint struct {
	url        string
	client     *ethclient.Client
	bad        bool
	failures   int
	chainIDOK  bool
}

// Pool is a chain's ordered, round-robin endpoint list. On first use
// every endpoint is probed for eth_chainId; one that disagrees with the
// expected chain id is a fatal configuration error (the process must
// not run against the wrong network). An endpoint whose probe fails once
// is marked bad, as is one whose RPC calls have failed maxProbeFailures
// times in all; bad endpoints are skipped thereafter.
type Pool struct {
	mu           sync.Mutex
	endpoints    []*endpoint
	current      int
	expectedID   uint64
	probed       bool
	logger       *log.Logger
}

// NewPool constructs an endpoint pool for urls, expecting eth_chainId ==
// expectedID.
func NewPool(urls []string, expectedID uint64) (*Pool, error) {
	if len(urls) == 0 {
		return nil, fmt.Errorf("evmchain: no endpoints configured")
	}
	eps := make([]*endpoint, 0, len(urls))
	for _, u := range urls {
		c, err := ethclient.Dial(u)
		if err != nil {
			return nil, fmt.Errorf("evmchain: dial %s: %w", u, err)
		}
		eps = append(eps, &endpoint{url: u, client: c})
	}
	return &Pool{
		endpoints:  eps,
		expectedID: expectedID,
		logger:     log.New(os.Stdout, "[EVMChain] ", log.LstdFlags),
	}, nil
}

// EnsureProbed probes every endpoint's chain id exactly once. A mismatch
// is a fatal configuration error.
func (p *Pool) EnsureProbed(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.probed {
		return nil
	}
	for _, e := range p.endpoints {
		id, err := e.client.ChainID(ctx)
		if err != nil {
			p.logger.Printf("probe failed for %s: %v (marking bad)", e.url, err)
			e.bad = true
			continue
		}
		if id.Uint64() != p.expectedID {
			return fmt.Errorf("%w: endpoint %s reports chain id %d, expected %d", ErrChainIDMismatch, e.url, id.Uint64(), p.expectedID)
		}
		e.chainIDOK = true
	}
	p.probed = true
	return nil
}

// pick returns the currently selected OK endpoint, skipping bad ones.
// Caller must hold p.mu.
func (p *Pool) pick() (*endpoint, error) {
	n := len(p.endpoints)
	for i := 0; i < n; i++ {
		idx := (p.current + i) % n
		e := p.endpoints[idx]
		if !e.bad {
			p.current = idx
			return e, nil
		}
	}
	return nil, fmt.Errorf("evmchain: all endpoints marked bad")
}

// advance rotates to the next OK endpoint after an RPC error. Caller
// must hold p.mu.
func (p *Pool) advance(failed *endpoint) {
	failed.failures++
	if failed.failures >= maxProbeFailures {
		failed.bad = true
		p.logger.Printf("endpoint %s marked permanently bad after %d failures", failed.url, failed.failures)
	}
	p.current = (p.current + 1) % len(p.endpoints)
}

// Client runs fn against the current endpoint, advancing on error. The
// caller observes a plain RPC error; the pool's failover is invisible to
// it beyond that.
func (p *Pool) Client(ctx context.Context, fn func(*ethclient.Client) error) error {
	if err := p.EnsureProbed(ctx); err != nil {
		return err
	}
	p.mu.Lock()
	e, err := p.pick()
	p.mu.Unlock()
	if err != nil {
		return err
	}

	if callErr := fn(e.client); callErr != nil {
		p.mu.Lock()
		p.advance(e)
		p.mu.Unlock()
		return callErr
	}
	return nil
}
