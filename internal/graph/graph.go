// Package graph holds the in-memory relationship graph derived from the
// cross-reference projection. It is rebuilt at startup and updated edge
// by edge afterwards, never by rescanning the store.
package graph

import (
	"sort"
	"sync"
)

// Edge is one directed cross-reference between two entities. Traversals
// treat edges as connections in both directions; direction is kept for
// callers that list them.
type Edge struct {
	Source        string
	Target        string
	Relationship  string
	Bidirectional bool
}

type edgeKey struct {
	source, target, relationship string
}

// Neighbor is one entity reachable from a traversal origin.
type Neighbor struct {
	EntityID string
	Distance int
}

// Ranked is one entity with its connection count.
type Ranked struct {
	EntityID string
	Degree   int
}

// Graph is safe for concurrent use. Cycles are legal.
type Graph struct {
	mu    sync.RWMutex
	nodes map[string]bool
	edges map[edgeKey]Edge
	adj   map[string]map[string]int
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[string]bool),
		edges: make(map[edgeKey]Edge),
		adj:   make(map[string]map[string]int),
	}
}

// AddNode registers an entity. Adding a known node is a no-op.
func (g *Graph) AddNode(entityID string) {
	if entityID == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.nodes[entityID] = true
}

// AddEdge registers an edge, creating its endpoints as needed. Adding a
// known edge replaces it.
func (g *Graph) AddEdge(e Edge) {
	if e.Source == "" || e.Target == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()

	key := edgeKey{e.Source, e.Target, e.Relationship}
	if _, exists := g.edges[key]; !exists {
		g.link(e.Source, e.Target)
	}
	g.edges[key] = e
	g.nodes[e.Source] = true
	g.nodes[e.Target] = true
}

// RemoveEdge drops an edge. Removing an absent edge is a no-op; the
// endpoints stay registered.
func (g *Graph) RemoveEdge(source, target, relationship string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	key := edgeKey{source, target, relationship}
	if _, exists := g.edges[key]; !exists {
		return
	}
	delete(g.edges, key)
	g.unlink(source, target)
}

func (g *Graph) link(a, b string) {
	if g.adj[a] == nil {
		g.adj[a] = make(map[string]int)
	}
	if g.adj[b] == nil {
		g.adj[b] = make(map[string]int)
	}
	g.adj[a][b]++
	g.adj[b][a]++
}

func (g *Graph) unlink(a, b string) {
	if g.adj[a] != nil {
		if g.adj[a][b]--; g.adj[a][b] <= 0 {
			delete(g.adj[a], b)
		}
	}
	if g.adj[b] != nil {
		if g.adj[b][a]--; g.adj[b][a] <= 0 {
			delete(g.adj[b], a)
		}
	}
}

// HasNode reports whether the entity is registered.
func (g *Graph) HasNode(entityID string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[entityID]
}

// Edges returns every edge touching the entity, outgoing and incoming,
// in a stable order.
func (g *Graph) Edges(entityID string) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Edge
	for key, e := range g.edges {
		if key.source == entityID || key.target == entityID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Source != out[j].Source {
			return out[i].Source < out[j].Source
		}
		if out[i].Target != out[j].Target {
			return out[i].Target < out[j].Target
		}
		return out[i].Relationship < out[j].Relationship
	})
	return out
}

// Neighbors returns entities reachable within depth hops, nearest
// first, ties ordered by entity ID. The origin itself is excluded. An
// unknown origin or depth < 1 yields nothing.
func (g *Graph) Neighbors(entityID string, depth int) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if depth < 1 || !g.nodes[entityID] {
		return nil
	}
	dist := g.bfs(entityID, depth)
	out := make([]Neighbor, 0, len(dist))
	for id, d := range dist {
		if id == entityID {
			continue
		}
		out = append(out, Neighbor{EntityID: id, Distance: d})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}

// ShortestPath returns the node sequence from one entity to another,
// endpoints included. Nil when either endpoint is unknown or no path
// exists; a single-element path when from == to.
func (g *Graph) ShortestPath(from, to string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.nodes[from] || !g.nodes[to] {
		return nil
	}
	if from == to {
		return []string{from}
	}

	prev := map[string]string{from: ""}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, next := range g.sortedAdjacent(cur) {
			if _, seen := prev[next]; seen {
				continue
			}
			prev[next] = cur
			if next == to {
				return buildPath(prev, from, to)
			}
			queue = append(queue, next)
		}
	}
	return nil
}

// Cluster returns the community the entity belongs to, entity included,
// sorted by ID. Communities come from synchronous label propagation with
// lexical tie-breaks, so repeated calls on the same graph agree. An
// unknown entity yields nothing.
func (g *Graph) Cluster(entityID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if !g.nodes[entityID] {
		return nil
	}
	labels := g.propagateLabels()
	want := labels[entityID]
	var out []string
	for id, label := range labels {
		if label == want {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Orphans returns entities with no edges at all, sorted by ID.
func (g *Graph) Orphans() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []string
	for id := range g.nodes {
		if len(g.adj[id]) == 0 {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// MostConnected returns up to n entities ranked by connection count,
// ties broken by entity ID. Entities without edges are not ranked.
func (g *Graph) MostConnected(n int) []Ranked {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if n < 1 {
		return nil
	}
	ranked := make([]Ranked, 0, len(g.adj))
	for id, peers := range g.adj {
		degree := 0
		for _, count := range peers {
			degree += count
		}
		if degree > 0 {
			ranked = append(ranked, Ranked{EntityID: id, Degree: degree})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Degree != ranked[j].Degree {
			return ranked[i].Degree > ranked[j].Degree
		}
		return ranked[i].EntityID < ranked[j].EntityID
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// NodeCount returns the number of registered entities.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of registered edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

func (g *Graph) bfs(origin string, maxDepth int) map[string]int {
	dist := map[string]int{origin: 0}
	queue := []string{origin}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if dist[cur] >= maxDepth {
			continue
		}
		for next := range g.adj[cur] {
			if _, seen := dist[next]; seen {
				continue
			}
			dist[next] = dist[cur] + 1
			queue = append(queue, next)
		}
	}
	return dist
}

func (g *Graph) sortedAdjacent(id string) []string {
	peers := make([]string, 0, len(g.adj[id]))
	for p := range g.adj[id] {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}

// propagateLabels runs label propagation with in-place updates. Each
// node starts labeled with its own ID and adopts the most frequent
// label among its neighbors, smallest label on ties. Updating in place
// over a sorted node order keeps the result deterministic and avoids
// the two-coloring oscillation of synchronous propagation. Bounded
// rounds keep pathological graphs from looping.
func (g *Graph) propagateLabels() map[string]string {
	const maxRounds = 32

	ids := make([]string, 0, len(g.nodes))
	labels := make(map[string]string, len(g.nodes))
	for id := range g.nodes {
		ids = append(ids, id)
		labels[id] = id
	}
	sort.Strings(ids)

	for round := 0; round < maxRounds; round++ {
		changed := false
		for _, id := range ids {
			label := dominantLabel(labels, g.adj[id], labels[id])
			if label != labels[id] {
				labels[id] = label
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return labels
}

func dominantLabel(labels map[string]string, peers map[string]int, own string) string {
	if len(peers) == 0 {
		return own
	}
	counts := make(map[string]int, len(peers))
	for peer, weight := range peers {
		counts[labels[peer]] += weight
	}
	best, bestCount := own, counts[own]
	for label, count := range counts {
		if count > bestCount || (count == bestCount && label < best) {
			best, bestCount = label, count
		}
	}
	return best
}

func buildPath(prev map[string]string, from, to string) []string {
	var path []string
	for cur := to; cur != ""; cur = prev[cur] {
		path = append(path, cur)
		if cur == from {
			break
		}
	}
	for i, j := 0, len(path)-1; i < j; i, j = i+1, j-1 {
		path[i], path[j] = path[j], path[i]
	}
	return path
}
