package session

import "github.com/ageniuscoder/internchat/backend/internal/model"

const dedupWindow = 4096

// applied remembers the most recent event keys a consumer has folded in, so
// an event seen twice on a replay or through the other topic is applied once.
// The oldest key is forgotten once the window is full.
type applied struct {
	keys map[model.DedupKey]struct{}
	ring []model.DedupKey
	next int
}

func newApplied() *applied {
	return &applied{keys: make(map[model.DedupKey]struct{}, dedupWindow)}
}

// first records k and reports whether it had not been seen yet.
func (a *applied) first(k model.DedupKey) bool {
	if _, ok := a.keys[k]; ok {
		return false
	}
	if len(a.ring) < dedupWindow {
		a.ring = append(a.ring, k)
	} else {
		delete(a.keys, a.ring[a.next])
		a.ring[a.next] = k
		a.next = (a.next + 1) % dedupWindow
	}
	a.keys[k] = struct{}{}
	return true
}
