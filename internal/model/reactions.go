package model

import "sort"

// Reactions maps an emoji to the set of participants who applied it. Sets are
// kept as sorted slices so the JSON form is stable.
type Reactions map[string][]string

// Has reports whether actor has applied emoji.
func (r Reactions) Has(emoji, actor string) bool {
	for _, id := range r[emoji] {
		if id == actor {
			return true
		}
	}
	return false
}

// Toggle returns a copy of r with actor's emoji flipped: removed when present
// (dropping the key once its set is empty), added otherwise. r is not modified.
func (r Reactions) Toggle(emoji, actor string) Reactions {
	out := r.Clone()
	if out.Has(emoji, actor) {
		kept := make([]string, 0, len(out[emoji]))
		for _, id := range out[emoji] {
			if id != actor {
				kept = append(kept, id)
			}
		}
		if len(kept) == 0 {
			delete(out, emoji)
		} else {
			out[emoji] = kept
		}
		return out
	}
	set := append(out[emoji], actor)
	sort.Strings(set)
	out[emoji] = set
	return out
}

// Clone deep-copies r. A nil map clones to an empty one.
func (r Reactions) Clone() Reactions {
	out := make(Reactions, len(r))
	for emoji, ids := range r {
		out[emoji] = append([]string(nil), ids...)
	}
	return out
}

// Normalize drops empty sets and duplicate ids and sorts each set.
func (r Reactions) Normalize() Reactions {
	out := make(Reactions, len(r))
	for emoji, ids := range r {
		if emoji == "" {
			continue
		}
		seen := make(map[string]struct{}, len(ids))
		set := make([]string, 0, len(ids))
		for _, id := range ids {
			if id == "" {
				continue
			}
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			set = append(set, id)
		}
		if len(set) == 0 {
			continue
		}
		sort.Strings(set)
		out[emoji] = set
	}
	return out
}

// Summary is the per-emoji count the presentation layer renders.
type Summary struct {
	Emoji string   `json:"emoji"`
	Count int      `json:"count"`
	Users []string `json:"users"`
}

// Summaries lists the reactions ordered by descending count, then emoji.
func (r Reactions) Summaries() []Summary {
	out := make([]Summary, 0, len(r))
	for emoji, ids := range r {
		out = append(out, Summary{Emoji: emoji, Count: len(ids), Users: append([]string(nil), ids...)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Emoji < out[j].Emoji
	})
	return out
}
