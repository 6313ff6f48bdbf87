package chain

import (
	"context"
	"fmt"
	"sort"
	"sync"

	heralderr "github.com/mrz1836/herald/pkg/errors"
)

// ErrUnsupportedChain indicates the chain is not configured.
var ErrUnsupportedChain = &heralderr.HeraldError{
	Code:     "UNSUPPORTED_CHAIN",
	Message:  "unsupported chain",
	ExitCode: heralderr.ExitInput,
}

// Creator is a function type that creates a Network for a chain type.
// This allows registering chain-specific constructors without import cycles.
type Creator func(ctx context.Context, info Info, rpcURL string) (Network, error)

// Networks is the set of configured networks, keyed by chain ID.
// Creators are registered per chain type; networks are opened lazily and
// cached on first lookup.
type Networks struct {
	mu       sync.Mutex
	creators map[Type]Creator
	infos    map[ID]Info
	rpcURLs  map[ID]string
	opened   map[ID]Network
}

// NewNetworks creates an empty network set.
func NewNetworks() *Networks {
	return &Networks{
		creators: make(map[Type]Creator),
		infos:    make(map[ID]Info),
		rpcURLs:  make(map[ID]string),
		opened:   make(map[ID]Network),
	}
}

// RegisterCreator adds a constructor for the given chain type.
func (n *Networks) RegisterCreator(t Type, creator Creator) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.creators[t] = creator
}

// Configure declares a network. It is opened on first Lookup.
func (n *Networks) Configure(info Info, rpcURL string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.infos[info.ID] = info
	n.rpcURLs[info.ID] = rpcURL
	delete(n.opened, info.ID)
}

// Add registers an already constructed network.
func (n *Networks) Add(network Network) {
	n.mu.Lock()
	defer n.mu.Unlock()
	info := network.Info()
	n.infos[info.ID] = info
	n.opened[info.ID] = network
}

// Info returns the metadata of a configured network.
func (n *Networks) Info(id ID) (Info, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	info, ok := n.infos[id]
	return info, ok
}

// Lookup returns the network for id, opening it if needed.
func (n *Networks) Lookup(ctx context.Context, id ID) (Network, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if network, ok := n.opened[id]; ok {
		return network, nil
	}

	info, ok := n.infos[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedChain, id)
	}
	creator, ok := n.creators[info.Type]
	if !ok {
		return nil, fmt.Errorf("%w: no client for chain type %s", ErrUnsupportedChain, info.Type)
	}

	network, err := creator(ctx, info, n.rpcURLs[id])
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", id, err)
	}
	n.opened[id] = network
	return network, nil
}

// IDs returns all configured chain IDs in sorted order.
func (n *Networks) IDs() []ID {
	n.mu.Lock()
	defer n.mu.Unlock()

	ids := make([]ID, 0, len(n.infos))
	for id := range n.infos {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close closes every opened network that holds connections.
func (n *Networks) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	for id, network := range n.opened {
		if closer, ok := network.(ClientCloser); ok {
			closer.Close()
		}
		delete(n.opened, id)
	}
}
