// Package community groups network nodes into connected components of the
// undirected union of citation and similarity edges. It is a coarse grouping
// for visual navigation, not a modularity-based community detection.
package community

import "github.com/OFFIS-RIT/regnet/pkg/logger"

// Edge is an undirected link between two node ids. Citation direction is
// irrelevant here.
type Edge struct {
	Source string
	Target string
}

// Community is one connected component with at least two members.
type Community struct {
	ID      int      `json:"id"`
	Members []string `json:"members"`
	Size    int      `json:"size"`
}

// Detect runs breadth-first search from every unvisited node in the order of
// nodes. Components receive incrementing ids in first-visit order; singleton
// components are dropped without consuming an id. Edges touching unknown
// nodes are ignored.
func Detect(nodes []string, edges []Edge) []Community {
	adj := make(map[string][]string, len(nodes))
	known := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		known[n] = true
	}
	for _, e := range edges {
		if !known[e.Source] || !known[e.Target] || e.Source == e.Target {
			continue
		}
		adj[e.Source] = append(adj[e.Source], e.Target)
		adj[e.Target] = append(adj[e.Target], e.Source)
	}

	visited := make(map[string]bool, len(nodes))
	out := []Community{}
	for _, start := range nodes {
		if visited[start] {
			continue
		}
		visited[start] = true
		members := []string{start}
		queue := []string{start}
		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]
			for _, nb := range adj[cur] {
				if visited[nb] {
					continue
				}
				visited[nb] = true
				members = append(members, nb)
				queue = append(queue, nb)
			}
		}
		if len(members) < 2 {
			continue
		}
		out = append(out, Community{ID: len(out), Members: members, Size: len(members)})
	}

	logger.Debug("[Community] components detected", "nodes", len(nodes), "communities", len(out))
	return out
}

// Membership maps every node of a non-singleton community to its id.
func Membership(communities []Community) map[string]int {
	m := make(map[string]int)
	for _, c := range communities {
		for _, id := range c.Members {
			m[id] = c.ID
		}
	}
	return m
}
