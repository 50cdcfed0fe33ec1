package pipeline

import (
	"github.com/randr97/mage-ai/internal/graph"
	"github.com/randr97/mage-ai/internal/status"
	streamerrors "github.com/randr97/mage-ai/pkg/errors"
)

// Block is one named unit of transformation code with declared upstream
// dependencies. Upstream order is load-bearing: executed code receives its
// inputs positionally in this order.
type Block struct {
	UUID          string        `yaml:"uuid" validate:"required,block_id"`
	Name          string        `yaml:"name,omitempty"`
	Kind          BlockKind     `yaml:"type" validate:"required,block_kind"`
	Status        status.Status `yaml:"status,omitempty"`
	UpstreamIDs   []string      `yaml:"upstream_blocks,omitempty"`
	DownstreamIDs []string      `yaml:"downstream_blocks,omitempty"`
}

// Pipeline is a DAG of blocks plus authoring metadata. The block slice
// order is the authoring order and must not be confused with execution
// order.
type Pipeline struct {
	UUID   string
	Name   string
	Blocks []*Block

	index map[string]*Block
}

// New creates an empty pipeline.
func New(uuid, name string) *Pipeline {
	return &Pipeline{UUID: uuid, Name: name, index: make(map[string]*Block)}
}

// Block returns the block with the given id.
func (p *Pipeline) Block(id string) (*Block, error) {
	b, ok := p.index[id]
	if !ok {
		return nil, streamerrors.NewDanglingReferenceError(id)
	}
	return b, nil
}

// BlockIDs returns every block id in authoring order.
func (p *Pipeline) BlockIDs() []string {
	ids := make([]string, len(p.Blocks))
	for i, b := range p.Blocks {
		ids[i] = b.UUID
	}
	return ids
}

// AddBlock appends a block in authoring order. The block's upstream
// references must resolve and must not create a cycle; on rejection the
// pipeline is unchanged.
func (p *Pipeline) AddBlock(b *Block) error {
	if b == nil {
		return streamerrors.NewValidationError("block", "block cannot be nil", nil)
	}
	if !b.Kind.Valid() {
		return streamerrors.NewValidationError("type", "unknown block kind "+string(b.Kind), nil)
	}
	if _, exists := p.index[b.UUID]; exists {
		return streamerrors.NewValidationError("uuid", "duplicate block id "+b.UUID, nil)
	}
	if b.Status == "" {
		b.Status = status.NotRun
	}

	p.Blocks = append(p.Blocks, b)
	if p.index == nil {
		p.index = make(map[string]*Block)
	}
	p.index[b.UUID] = b

	if _, err := p.Graph(); err != nil {
		p.Blocks = p.Blocks[:len(p.Blocks)-1]
		delete(p.index, b.UUID)
		return err
	}

	p.recomputeDownstream()
	return nil
}

// RemoveBlock deletes a block. While downstream blocks still reference it
// the removal fails with HasDependentsError unless detachEdges is set, in
// which case every edge touching the block is dropped first.
func (p *Pipeline) RemoveBlock(id string, detachEdges bool) error {
	target, ok := p.index[id]
	if !ok {
		return streamerrors.NewDanglingReferenceError(id)
	}

	if len(target.DownstreamIDs) > 0 && !detachEdges {
		return streamerrors.NewHasDependentsError(id, append([]string(nil), target.DownstreamIDs...))
	}

	for _, b := range p.Blocks {
		b.UpstreamIDs = remove(b.UpstreamIDs, id)
	}
	delete(p.index, id)
	for i, b := range p.Blocks {
		if b.UUID == id {
			p.Blocks = append(p.Blocks[:i], p.Blocks[i+1:]...)
			break
		}
	}
	p.recomputeDownstream()
	return nil
}

// SetUpstream rewires a block's upstream edges. On rejection (unknown
// reference or cycle) the previous wiring is restored.
func (p *Pipeline) SetUpstream(id string, upstream []string) error {
	b, ok := p.index[id]
	if !ok {
		return streamerrors.NewDanglingReferenceError(id)
	}

	previous := b.UpstreamIDs
	b.UpstreamIDs = append([]string(nil), upstream...)
	if _, err := p.Graph(); err != nil {
		b.UpstreamIDs = previous
		return err
	}

	p.recomputeDownstream()
	return nil
}

// Graph builds the dependency graph from the current wiring.
func (p *Pipeline) Graph() (*graph.Graph, error) {
	specs := make([]graph.Spec, len(p.Blocks))
	for i, b := range p.Blocks {
		specs[i] = graph.Spec{ID: b.UUID, UpstreamIDs: b.UpstreamIDs}
	}
	return graph.Build(specs)
}

// Validate checks structural invariants: the wiring forms a DAG and every
// downstream list is the exact inverse of the upstream edges.
func (p *Pipeline) Validate() error {
	if p.UUID == "" {
		return streamerrors.NewValidationError("uuid", "pipeline id cannot be empty", nil)
	}
	if _, err := p.Graph(); err != nil {
		return err
	}

	derived := p.deriveDownstream()
	for _, b := range p.Blocks {
		if !equal(b.DownstreamIDs, derived[b.UUID]) {
			return streamerrors.NewValidationError(
				"downstream_blocks",
				"downstream edges of "+b.UUID+" are not the inverse of the declared upstream edges",
				nil,
			)
		}
	}
	return nil
}

// Statuses returns the status of every block in authoring order.
func (p *Pipeline) Statuses() []status.Status {
	out := make([]status.Status, len(p.Blocks))
	for i, b := range p.Blocks {
		out[i] = b.Status
	}
	return out
}

func (p *Pipeline) recomputeDownstream() {
	derived := p.deriveDownstream()
	for _, b := range p.Blocks {
		b.DownstreamIDs = derived[b.UUID]
	}
}

// deriveDownstream inverts upstream edges, accumulating dependents in
// authoring order.
func (p *Pipeline) deriveDownstream() map[string][]string {
	derived := make(map[string][]string, len(p.Blocks))
	for _, b := range p.Blocks {
		derived[b.UUID] = nil
	}
	for _, b := range p.Blocks {
		for _, up := range b.UpstreamIDs {
			if _, ok := p.index[up]; ok {
				derived[up] = append(derived[up], b.UUID)
			}
		}
	}
	return derived
}

func (p *Pipeline) rebuildIndex() {
	p.index = make(map[string]*Block, len(p.Blocks))
	for _, b := range p.Blocks {
		p.index[b.UUID] = b
	}
}

func remove(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
