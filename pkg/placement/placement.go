package placement

import (
	"context"
	"fmt"

	"bothost/pkg/constants"
	"bothost/pkg/store/sqlstore/model"
)

// Options tune node selection
type Options struct {
	// EnforceCapacity skips nodes whose load reached capacity. When false
	// capacity only orders candidates and saturated nodes stay eligible.
	EnforceCapacity bool
}

// SelectNode returns the active node with the lowest load/capacity ratio.
// Ties go to the first node in enumeration order. Nil means no candidate.
func SelectNode(nodes []model.Node, opts Options) *model.Node {
	var best *model.Node
	bestRatio := 0.0
	for i := range nodes {
		n := &nodes[i]
		if n.Status != constants.NodeStatusActive.String() || n.Capacity <= 0 {
			continue
		}
		if opts.EnforceCapacity && n.CurrentLoad >= n.Capacity {
			continue
		}
		ratio := n.LoadRatio()
		if best == nil || ratio < bestRatio {
			best = n
			bestRatio = ratio
		}
	}
	return best
}

// NodeLister reads live active nodes
type NodeLister interface {
	ListActive(ctx context.Context) ([]model.Node, error)
}

// Registry supplies placement decisions from the store
type Registry struct {
	nodes NodeLister
	opts  Options
}

// NewRegistry creates a registry over the node store
func NewRegistry(nodes NodeLister, opts Options) *Registry {
	return &Registry{nodes: nodes, opts: opts}
}

// Select picks a node for a new placement; (nil, nil) means none is available
func (r *Registry) Select(ctx context.Context) (*model.Node, error) {
	nodes, err := r.nodes.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read active nodes: %w", err)
	}
	return SelectNode(nodes, r.opts), nil
}
