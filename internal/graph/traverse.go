package graph

import (
	"cmp"
	"iter"
	"slices"

	"github.com/abelbrown/sightline/internal/model"
)

// Options bounds a neighborhood query.
type Options struct {
	MaxHops       int     // default 3
	MinConfidence float64 // edges below this are not traversed
}

// DefaultOptions returns the standard neighborhood bounds.
func DefaultOptions() Options {
	return Options{MaxHops: 3, MinConfidence: 0.5}
}

// Neighbor is one entity reached from the query start.
type Neighbor struct {
	Entity     model.EntityRef
	Hops       int
	Confidence float64 // product of edge confidences along Path
	LinkTypes  []model.LinkType
	Path       []model.EntityRef // start first, Entity last
	LinkIDs    []string          // strongest link per hop
}

// edge is the strongest usable connection between two entities.
type edge struct {
	conf   float64
	linkID string
	types  []model.LinkType
}

type step struct {
	conf float64
	prev model.EntityRef
	via  edge
}

// Neighbors returns the entities reachable from start within opts.MaxHops,
// treating links as traversable in both directions. Each entity appears once
// with its best path: highest confidence product, then fewest hops. start is
// never returned. The sequence is computed when ranged over, so ranging again
// reflects links added since.
func (g *Graph) Neighbors(start model.EntityRef, opts Options) iter.Seq[Neighbor] {
	if opts.MaxHops <= 0 {
		opts.MaxHops = DefaultOptions().MaxHops
	}
	return func(yield func(Neighbor) bool) {
		for _, n := range g.neighbors(start, opts) {
			if !yield(n) {
				return
			}
		}
	}
}

// neighbors runs a hop-layered best-path search. layers[h][v] holds the best
// walk of exactly h hops ending at v, so a strong long path never hides a
// weaker short one that could still extend within the hop budget.
func (g *Graph) neighbors(start model.EntityRef, opts Options) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	adj := make(map[model.EntityRef]map[model.EntityRef]edge)
	edgesOf := func(ref model.EntityRef) map[model.EntityRef]edge {
		if e, ok := adj[ref]; ok {
			return e
		}
		e := g.edges(ref, opts.MinConfidence)
		adj[ref] = e
		return e
	}

	layers := []map[model.EntityRef]step{{start: {conf: 1}}}
	for h := 1; h <= opts.MaxHops; h++ {
		next := make(map[model.EntityRef]step)
		for node, st := range layers[h-1] {
			for other, e := range edgesOf(node) {
				c := st.conf * e.conf
				cur, seen := next[other]
				if !seen || c > cur.conf || (c == cur.conf && node.String() < cur.prev.String()) {
					next[other] = step{conf: c, prev: node, via: e}
				}
			}
		}
		if len(next) == 0 {
			break
		}
		layers = append(layers, next)
	}

	// Pick each entity's best layer: highest confidence, then fewest hops.
	bestHop := make(map[model.EntityRef]int)
	for h := 1; h < len(layers); h++ {
		for ref, st := range layers[h] {
			if ref == start {
				continue
			}
			prev, ok := bestHop[ref]
			if !ok || st.conf > layers[prev][ref].conf {
				bestHop[ref] = h
			}
		}
	}

	out := make([]Neighbor, 0, len(bestHop))
	for ref, h := range bestHop {
		n := Neighbor{Entity: ref, Hops: h, Confidence: layers[h][ref].conf}
		path := make([]model.EntityRef, h+1)
		ids := make([]string, h)
		types := make(map[model.LinkType]struct{})
		cur := ref
		for i := h; i >= 1; i-- {
			st := layers[i][cur]
			path[i] = cur
			ids[i-1] = st.via.linkID
			for _, t := range st.via.types {
				types[t] = struct{}{}
			}
			cur = st.prev
		}
		path[0] = start
		n.Path = path
		n.LinkIDs = ids
		for t := range types {
			n.LinkTypes = append(n.LinkTypes, t)
		}
		slices.Sort(n.LinkTypes)
		out = append(out, n)
	}

	slices.SortFunc(out, func(a, b Neighbor) int {
		if c := cmp.Compare(a.Hops, b.Hops); c != 0 {
			return c
		}
		if c := cmp.Compare(b.Confidence, a.Confidence); c != 0 {
			return c
		}
		return cmp.Compare(a.Entity.String(), b.Entity.String())
	})
	return out
}

// edges collects the usable connections of ref. Caller must hold g.mu.
func (g *Graph) edges(ref model.EntityRef, min float64) map[model.EntityRef]edge {
	out := make(map[model.EntityRef]edge)
	visit := func(ids map[string]struct{}) {
		for id := range ids {
			l := g.links[id]
			if l.Confidence < min {
				continue
			}
			other := l.Other(ref)
			if other == ref {
				continue
			}
			e := out[other]
			if l.Confidence > e.conf || (l.Confidence == e.conf && (e.linkID == "" || l.ID < e.linkID)) {
				e.conf = l.Confidence
				e.linkID = l.ID
			}
			if !slices.Contains(e.types, l.Type) {
				e.types = append(e.types, l.Type)
			}
			out[other] = e
		}
	}
	visit(g.out[ref])
	visit(g.in[ref])
	return out
}

// sortLinks orders links by creation time, then id.
func sortLinks(links []model.Link) {
	slices.SortFunc(links, func(a, b model.Link) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}
