package merge

import (
	"fmt"

	"github.com/ruteri/chunkstore/interfaces"
)

// AllSameStrategy merges XML chunks that share an identical root element.
type AllSameStrategy struct {
	*xmlStrategy
}

// NewAllSameStrategy creates a strategy that rejects any chunk whose root
// differs from the first one with ErrNamespaceConflict.
func NewAllSameStrategy() *AllSameStrategy {
	return &AllSameStrategy{newXMLStrategy("allsame", requireSameRoot)}
}

func requireSameRoot(acc, root interfaces.XMLStartElement) (interfaces.XMLStartElement, error) {
	if !acc.Equal(root) {
		return acc, fmt.Errorf("%w: root %s differs from %s", interfaces.ErrNamespaceConflict, root, acc)
	}
	return acc, nil
}
