package proposal

import (
	"fmt"
	"os"

	"golang.org/x/crypto/blake2b"

	"github.com/raicoin/validator-node/pkg/chainid"
)

// Watcher polls a proposal file's blake2b-256 content hash and re-parses
// it only when the hash changes, caching the hash across ticks.
type Watcher struct {
	path     string
	lastHash [32]byte
	primed   bool
}

// NewWatcher returns a Watcher over the proposal file at path.
func NewWatcher(path string) *Watcher {
	return &Watcher{path: path}
}

// Tick re-reads the file, hashes it, and reparses only on a hash change.
// changed is false and table is nil when the content is unchanged since
// the previous tick. The first tick always reports changed, even for a
// missing or empty file.
func (w *Watcher) Tick() (changed bool, table map[chainid.ChainId]map[uint32]Proposal, err error) {
	data, err := os.ReadFile(w.path)
	if os.IsNotExist(err) {
		data = nil
	} else if err != nil {
		return false, nil, fmt.Errorf("proposal: read %s: %w", w.path, err)
	}

	hash := blake2b.Sum256(data)
	if w.primed && hash == w.lastHash {
		return false, nil, nil
	}
	w.lastHash = hash
	w.primed = true

	table, err = Parse(data)
	if err != nil {
		return false, nil, err
	}
	return true, table, nil
}
