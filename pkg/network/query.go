package network

import (
	"cmp"
	"fmt"
	"slices"

	"github.com/OFFIS-RIT/regnet/pkg/common"
)

const (
	MinEgoRadius = 1
	MaxEgoRadius = 3
	DefaultTopK  = 10
)

// EgoNetwork returns the subgraph induced by every node within radius hops
// of center over undirected edges of both types. radius is clamped into
// [1, 3]. Nodes keep graph order; only edges with both endpoints inside the
// neighbourhood are kept.
func (g *Graph) EgoNetwork(center string, radius int) (*Graph, error) {
	start, ok := g.index[center]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, center)
	}
	radius = min(max(radius, MinEgoRadius), MaxEgoRadius)

	inside := map[int]bool{start: true}
	frontier := []int{start}
	for hop := 0; hop < radius && len(frontier) > 0; hop++ {
		var next []int
		for _, cur := range frontier {
			for _, nb := range g.adj[cur] {
				if inside[nb] {
					continue
				}
				inside[nb] = true
				next = append(next, nb)
			}
		}
		frontier = next
	}

	nodes := make([]Node, 0, len(inside))
	for i, n := range g.Nodes {
		if inside[i] {
			nodes = append(nodes, n)
		}
	}
	edges := []Edge{}
	for _, e := range g.Edges {
		s, ok1 := g.index[e.Source]
		t, ok2 := g.index[e.Target]
		if ok1 && ok2 && inside[s] && inside[t] {
			edges = append(edges, e)
		}
	}
	return newGraph(nodes, edges, g.Threshold), nil
}

// ShortestPath returns the node ids of a minimum-hop path from source to
// target, both included, using breadth-first search over undirected
// adjacency. Ties resolve by adjacency order. It returns nil when either node
// is unknown or no path exists; a node reaches itself as [source].
func (g *Graph) ShortestPath(source, target string) []string {
	s, ok := g.index[source]
	if !ok {
		return nil
	}
	t, ok := g.index[target]
	if !ok {
		return nil
	}
	if s == t {
		return []string{source}
	}

	parent := make([]int, len(g.Nodes))
	for i := range parent {
		parent[i] = -1
	}
	parent[s] = s
	queue := []int{s}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, nb := range g.adj[cur] {
			if parent[nb] != -1 {
				continue
			}
			parent[nb] = cur
			if nb == t {
				return g.walkBack(parent, s, t)
			}
			queue = append(queue, nb)
		}
	}
	return nil
}

func (g *Graph) walkBack(parent []int, s, t int) []string {
	var rev []string
	for cur := t; ; cur = parent[cur] {
		rev = append(rev, g.Nodes[cur].ID)
		if cur == s {
			break
		}
	}
	slices.Reverse(rev)
	return rev
}

// TopAuthorities returns the k most cited nodes, ties by id ascending.
func (g *Graph) TopAuthorities(k int) []Node {
	return g.top(k, func(n Node) float64 { return float64(n.CitationsIn) })
}

// TopHubs returns the k nodes citing the most others, ties by id ascending.
func (g *Graph) TopHubs(k int) []Node {
	return g.top(k, func(n Node) float64 { return float64(n.CitationsOut) })
}

// TopCentral returns the k nodes with the highest PageRank, ties by id.
func (g *Graph) TopCentral(k int) []Node {
	return g.top(k, func(n Node) float64 { return n.PageRank })
}

func (g *Graph) top(k int, key func(Node) float64) []Node {
	if k <= 0 {
		return []Node{}
	}
	sorted := slices.Clone(g.Nodes)
	slices.SortFunc(sorted, func(a, b Node) int {
		if c := cmp.Compare(key(b), key(a)); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(sorted) > k {
		sorted = sorted[:k]
	}
	if sorted == nil {
		sorted = []Node{}
	}
	return sorted
}

// Statistics describes the shape of a network.
type Statistics struct {
	NodeCount       int     `json:"node_count"`
	EdgeCount       int     `json:"edge_count"`
	CitationEdges   int     `json:"citation_edges"`
	SimilarityEdges int     `json:"similarity_edges"`
	AvgDegree       float64 `json:"avg_degree"`
	MaxDegree       int     `json:"max_degree"`
	MinDegree       int     `json:"min_degree"`
	Density         float64 `json:"density"`
	Communities     int     `json:"communities"`
	TopAuthorities  []Node  `json:"top_authorities"`
	TopHubs         []Node  `json:"top_hubs"`
	TopCentral      []Node  `json:"top_central"`
}

// Stats computes degree distribution and density over every node, counting
// each edge once per endpoint. Density relates the edge count to the number
// of unordered node pairs.
func (g *Graph) Stats(topK int) Statistics {
	st := Statistics{
		NodeCount:      len(g.Nodes),
		EdgeCount:      len(g.Edges),
		Communities:    len(g.Communities),
		TopAuthorities: g.TopAuthorities(topK),
		TopHubs:        g.TopHubs(topK),
		TopCentral:     g.TopCentral(topK),
	}
	if len(g.Nodes) == 0 {
		return st
	}

	degree := make([]int, len(g.Nodes))
	for _, e := range g.Edges {
		switch e.Type {
		case common.EdgeTypeCitation:
			st.CitationEdges++
		default:
			st.SimilarityEdges++
		}
		if s, ok := g.index[e.Source]; ok {
			degree[s]++
		}
		if t, ok := g.index[e.Target]; ok {
			degree[t]++
		}
	}
	total := 0
	st.MinDegree = degree[0]
	for _, d := range degree {
		total += d
		st.MaxDegree = max(st.MaxDegree, d)
		st.MinDegree = min(st.MinDegree, d)
	}
	n := float64(len(g.Nodes))
	st.AvgDegree = float64(total) / n
	if len(g.Nodes) > 1 {
		st.Density = float64(len(g.Edges)) / (n * (n - 1) / 2)
	}
	return st
}
