package evmchain

import "sync"

// TokenMeta is the process-lifetime, append-only metadata cached per
// token contract address.
type TokenMeta struct {
	Symbol   string
	Name     string
	Decimals uint8
	Wrapped  bool
	Type     string // "erc20" or "erc721"
}

// MetadataCache caches token metadata keyed by checksummed address, with
// an optional seed table for contracts whose on-chain symbol()
// misreports.
type MetadataCache struct {
	mu   sync.RWMutex
	data map[string]TokenMeta
	seed map[string]TokenMeta
}

// NewMetadataCache returns a cache pre-populated with seed overrides.
func NewMetadataCache(seed map[string]TokenMeta) *MetadataCache {
	s := seed
	if s == nil {
		s = map[string]TokenMeta{}
	}
	return &MetadataCache{data: make(map[string]TokenMeta), seed: s}
}

// Get returns cached metadata for addr, preferring a seed override.
func (c *MetadataCache) Get(addr string) (TokenMeta, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if m, ok := c.seed[addr]; ok {
		return m, true
	}
	m, ok := c.data[addr]
	return m, ok
}

// Set stores freshly-read metadata for addr, unless a seed override
// already covers it.
func (c *MetadataCache) Set(addr string, m TokenMeta) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.seed[addr]; ok {
		return
	}
	c.data[addr] = m
}

// maxTimestampEntries bounds the confirmed block-timestamp cache; the
// oldest entry is evicted once the bound is reached.
const maxTimestampEntries = 200_000

// TimestampCache maps confirmed block heights to their timestamp, and
// separately tracks unconfirmed heights' candidate timestamp/tx-hash
// sets until they clear confirmation depth or fork away.
type TimestampCache struct {
	mu        sync.Mutex
	confirmed map[uint64]uint64
	order     []uint64

	pending map[uint64]*pendingHeight
}

type pendingHeight struct {
	timestamp uint64
	txHashes  map[string]struct{}
}

// NewTimestampCache returns an empty cache.
func NewTimestampCache() *TimestampCache {
	return &TimestampCache{
		confirmed: make(map[uint64]uint64),
		pending:   make(map[uint64]*pendingHeight),
	}
}

// RecordConfirmed stores the timestamp for a height that has cleared
// confirmation depth, evicting the oldest entry if the cache is full.
func (c *TimestampCache) RecordConfirmed(height, timestamp uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.confirmed[height]; !ok {
		c.order = append(c.order, height)
	}
	c.confirmed[height] = timestamp
	for len(c.order) > maxTimestampEntries {
		oldest := c.order[0]
		c.order = c.order[1:]
		delete(c.confirmed, oldest)
	}
}

// RecordPending tracks a not-yet-confirmed height's candidate timestamp
// and transaction hash.
func (c *TimestampCache) RecordPending(height, timestamp uint64, txHash string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.pending[height]
	if !ok {
		p = &pendingHeight{timestamp: timestamp, txHashes: make(map[string]struct{})}
		c.pending[height] = p
	}
	p.txHashes[txHash] = struct{}{}
}

// PurgeConfirmedPending drops pending entries at or below
// head-confirmations, since they are either already in the confirmed
// cache or have been superseded.
func (c *TimestampCache) PurgeConfirmedPending(head, confirmations uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if head < confirmations {
		return
	}
	boundary := head - confirmations
	for h := range c.pending {
		if h <= boundary {
			delete(c.pending, h)
		}
	}
}

// TxTimestampStatus is the three-way outcome of TransactionTimestamp.
type TxTimestampStatus int

const (
	TxSynchronizing TxTimestampStatus = iota
	TxFork
	TxConfirmed
)

// TransactionTimestamp resolves (height, hash) against the cache:
// "synchronizing" if height is beyond head, "fork" if hash is not among
// the pending hashes recorded for that height, else the timestamp.
func (c *TimestampCache) TransactionTimestamp(height, head uint64, hash string) (TxTimestampStatus, uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ts, ok := c.confirmed[height]; ok {
		return TxConfirmed, ts
	}
	if height > head {
		return TxSynchronizing, 0
	}
	p, ok := c.pending[height]
	if !ok {
		return TxFork, 0
	}
	if _, ok := p.txHashes[hash]; !ok {
		return TxFork, 0
	}
	return TxConfirmed, p.timestamp
}
