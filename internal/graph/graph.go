// Package graph holds the evidence graph: every Link between entities, kept
// in memory as outbound and inbound adjacency and written through to a
// LinkStore so a failed write never leaves the two diverged.
package graph

import (
	"errors"
	"fmt"
	"iter"
	"math"
	"sync"

	"github.com/abelbrown/sightline/internal/model"
)

var (
	// ErrSelfLink is returned when both endpoints of a link are the same entity.
	ErrSelfLink = errors.New("self-link")

	// ErrInvalidConfidence is returned for confidence outside [0,1].
	ErrInvalidConfidence = errors.New("confidence outside [0,1]")
)

// LinkStore persists links. *store.Store satisfies it.
type LinkStore interface {
	SaveLink(model.Link) (bool, error)
	DeleteLink(id string) error
	Links() iter.Seq2[model.Link, error]
}

// Graph is the in-memory evidence graph. Safe for concurrent use.
type Graph struct {
	mu    sync.RWMutex
	links map[string]model.Link
	keys  map[model.LinkKey]string
	out   map[model.EntityRef]map[string]struct{} // A -> link ids
	in    map[model.EntityRef]map[string]struct{} // B -> link ids
	store LinkStore
}

// New returns an empty graph. A nil store keeps the graph memory-only.
func New(store LinkStore) *Graph {
	return &Graph{
		links: make(map[string]model.Link),
		keys:  make(map[model.LinkKey]string),
		out:   make(map[model.EntityRef]map[string]struct{}),
		in:    make(map[model.EntityRef]map[string]struct{}),
		store: store,
	}
}

// Load builds a graph from every link in store.
func Load(store LinkStore) (*Graph, error) {
	g := New(store)
	for l, err := range store.Links() {
		if err != nil {
			return nil, fmt.Errorf("load links: %w", err)
		}
		g.insert(l)
	}
	return g, nil
}

func validate(l model.Link) error {
	if l.A.IsZero() || l.B.IsZero() {
		return fmt.Errorf("%w: link %s has an empty endpoint", model.ErrInvalidEntity, l.ID)
	}
	if l.A == l.B {
		return fmt.Errorf("%w: %s", ErrSelfLink, l.A)
	}
	if math.IsNaN(l.Confidence) || l.Confidence < 0 || l.Confidence > 1 {
		return fmt.Errorf("%w: %v", ErrInvalidConfidence, l.Confidence)
	}
	return nil
}

// AddLink adds l unless a link with the same endpoints, type and evidence
// already exists. Returns whether the link was added.
func (g *Graph) AddLink(l model.Link) (bool, error) {
	if err := validate(l); err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.keys[l.Key()]; ok {
		return false, nil
	}
	if g.store != nil {
		created, err := g.store.SaveLink(l)
		if err != nil {
			return false, fmt.Errorf("persist link %s: %w", l.ID, err)
		}
		if !created {
			return false, nil
		}
	}
	g.insert(l)
	return true, nil
}

// insert adds l to the maps. Caller must hold g.mu or own g exclusively.
func (g *Graph) insert(l model.Link) {
	g.links[l.ID] = l
	g.keys[l.Key()] = l.ID
	addEdge(g.out, l.A, l.ID)
	addEdge(g.in, l.B, l.ID)
}

func addEdge(m map[model.EntityRef]map[string]struct{}, ref model.EntityRef, id string) {
	set, ok := m[ref]
	if !ok {
		set = make(map[string]struct{})
		m[ref] = set
	}
	set[id] = struct{}{}
}

func removeEdge(m map[model.EntityRef]map[string]struct{}, ref model.EntityRef, id string) {
	if set, ok := m[ref]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(m, ref)
		}
	}
}

// RemoveLink deletes a link. Only analysts delete links.
func (g *Graph) RemoveLink(id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	l, ok := g.links[id]
	if !ok {
		return fmt.Errorf("link %s: %w", id, model.ErrNotFound)
	}
	if g.store != nil {
		if err := g.store.DeleteLink(id); err != nil {
			return err
		}
	}
	delete(g.links, id)
	delete(g.keys, l.Key())
	removeEdge(g.out, l.A, id)
	removeEdge(g.in, l.B, id)
	return nil
}

// Link returns a link by id.
func (g *Graph) Link(id string) (model.Link, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	l, ok := g.links[id]
	return l, ok
}

// LinksOf returns every link touching ref, in either direction.
func (g *Graph) LinksOf(ref model.EntityRef) []model.Link {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []model.Link
	for id := range g.out[ref] {
		out = append(out, g.links[id])
	}
	for id := range g.in[ref] {
		out = append(out, g.links[id])
	}
	sortLinks(out)
	return out
}

// Len returns the number of links.
func (g *Graph) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.links)
}
