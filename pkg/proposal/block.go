package proposal

import (
	"golang.org/x/exp/rand"

	"github.com/scanmc/scanmc/pkg/param"
)

// Block composes disjoint sub-proposals into one proposal over the full
// vector: typically an adaptive multivariate block over the free
// continuous dimensions plus discrete and prior-draw blocks for the
// remaining ones. Adaptation reaches only the components that adapt.
type Block struct {
	components []Proposal
	symmetric  bool
}

// NewBlock combines the given components. The caller guarantees the
// components govern disjoint dimensions.
func NewBlock(components ...Proposal) *Block {
	symmetric := true
	for _, c := range components {
		symmetric = symmetric && c.Symmetric()
	}

	return &Block{components: components, symmetric: symmetric}
}

func (b *Block) Propose(dst, current param.Vector, rng *rand.Rand) {
	copy(dst, current)

	for _, c := range b.components {
		c.Propose(dst, current, rng)
	}
}

func (b *Block) Symmetric() bool { return b.symmetric }

func (b *Block) LogRatio(current, candidate param.Vector) float64 {
	if b.symmetric {
		return 0
	}

	sum := 0.0
	for _, c := range b.components {
		sum += c.LogRatio(current, candidate)
	}

	return sum
}

func (b *Block) Adapt(history []param.Vector, acceptanceRate float64) error {
	for _, c := range b.components {
		err := c.Adapt(history, acceptanceRate)
		if err != nil {
			return err
		}
	}

	return nil
}

// Snapshot exports the adaptive state of the first adaptive component.
func (b *Block) Snapshot() Snapshot {
	for _, c := range b.components {
		if a, ok := c.(Adaptive); ok {
			return a.Snapshot()
		}
	}

	return Snapshot{}
}

// RestoreSnapshot reinstates the adaptive component's state.
func (b *Block) RestoreSnapshot(s Snapshot) error {
	for _, c := range b.components {
		if a, ok := c.(Adaptive); ok {
			return a.RestoreSnapshot(s)
		}
	}

	return nil
}
