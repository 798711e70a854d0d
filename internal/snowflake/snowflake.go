// Package snowflake generates time-ordered int64 message ids: 41 bits of
// milliseconds since Epoch, 10 bits of node and a 12-bit per-millisecond
// sequence.
package snowflake

import (
	"fmt"
	"sync"
	"time"
)

const (
	nodeBits  = 10
	stepBits  = 12
	nodeMax   = -1 ^ (-1 << nodeBits)
	stepMask  = -1 ^ (-1 << stepBits)
	timeShift = nodeBits + stepBits
	nodeShift = stepBits
)

// Epoch is 2025-01-01 00:00:00 UTC in milliseconds.
const Epoch int64 = 1735689600000

type Node struct {
	mu   sync.Mutex
	now  func() time.Time
	last int64
	node int64
	step int64
}

func NewNode(node int64) (*Node, error) {
	if node < 0 || node > nodeMax {
		return nil, fmt.Errorf("snowflake: node %d out of range [0, %d]", node, nodeMax)
	}
	return &Node{node: node, now: time.Now}, nil
}

// Generate returns the next id. Ids from one node strictly increase even if
// the wall clock steps backwards; the node then borrows from the last
// millisecond it issued.
func (n *Node) Generate() int64 {
	n.mu.Lock()
	defer n.mu.Unlock()

	ms := n.now().UnixMilli()
	if ms < n.last {
		ms = n.last
	}
	if ms == n.last {
		n.step = (n.step + 1) & stepMask
		if n.step == 0 {
			ms++
		}
	} else {
		n.step = 0
	}
	n.last = ms

	return ((ms - Epoch) << timeShift) | (n.node << nodeShift) | n.step
}

// Time extracts the creation instant encoded in id.
func Time(id int64) time.Time {
	return time.UnixMilli((id >> timeShift) + Epoch).UTC()
}
