package network

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/OFFIS-RIT/regnet/pkg/citation"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/community"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
)

var ErrNodeNotFound = errors.New("node not found")

// Node is a section in the composite network.
type Node struct {
	ID           string  `json:"id"`
	EntityID     string  `json:"entity_id"`
	Subject      string  `json:"subject"`
	Citation     string  `json:"citation"`
	TextLength   int     `json:"text_length"`
	CitationsIn  int     `json:"citations_in"`
	CitationsOut int     `json:"citations_out"`
	PageRank     float64 `json:"pagerank"`
	// Importance = (2*citations_in + citations_out + 100*pagerank) / 4
	Importance float64 `json:"importance"`
	// Community is the connected component id, -1 for isolated nodes.
	Community int `json:"community"`
}

// Edge is either a directed citation or an undirected similarity link.
// Strength is 1 for citations and the cosine score for similarity.
type Edge struct {
	Source   string                 `json:"source"`
	Target   string                 `json:"target"`
	Type     string                 `json:"type"`
	Strength float64                `json:"strength"`
	Class    common.SimilarityClass `json:"class,omitempty"`
}

// Graph is a materialized view over citation and similarity edges. It is
// immutable after construction and safe for concurrent queries.
type Graph struct {
	Nodes       []Node                `json:"nodes"`
	Edges       []Edge                `json:"edges"`
	Communities []community.Community `json:"communities"`
	Threshold   float64               `json:"threshold"`

	index map[string]int
	adj   [][]int
}

// BuildParams configures Build.
type BuildParams struct {
	// Threshold drops similarity edges scoring below it.
	Threshold float64
	// MaxSections > 0 keeps only the first MaxSections citation nodes.
	MaxSections int
}

// Build assembles the network from a citation graph, section-level
// similarity edges keyed by entity ID and PageRank scores keyed by section
// number. Citation edges come first, similarity edges follow in their given
// order; edges touching a node outside the network are dropped.
func Build(cit *citation.Graph, similar []common.SimilarityEdge, pagerank map[string]float64, params BuildParams) *Graph {
	cnodes := cit.Nodes
	if params.MaxSections > 0 && len(cnodes) > params.MaxSections {
		cnodes = cnodes[:params.MaxSections]
	}

	nodes := make([]Node, 0, len(cnodes))
	byEntity := make(map[string]string, len(cnodes))
	present := make(map[string]bool, len(cnodes))
	for _, cn := range cnodes {
		pr := pagerank[cn.ID]
		nodes = append(nodes, Node{
			ID:           cn.ID,
			EntityID:     cn.EntityID,
			Subject:      cn.Subject,
			Citation:     cn.Citation,
			TextLength:   cn.TextLength,
			CitationsIn:  cn.CitationsIn,
			CitationsOut: cn.CitationsOut,
			PageRank:     pr,
			Importance:   CombinedImportance(cn.CitationsIn, cn.CitationsOut, pr),
			Community:    -1,
		})
		byEntity[cn.EntityID] = cn.ID
		present[cn.ID] = true
	}

	edges := make([]Edge, 0, len(cit.Edges)+len(similar))
	for _, e := range cit.Edges {
		if !present[e.Source] || !present[e.Target] {
			continue
		}
		edges = append(edges, Edge{Source: e.Source, Target: e.Target, Type: common.EdgeTypeCitation, Strength: 1})
	}
	citationEdges := len(edges)
	for _, e := range similar {
		if e.Score < params.Threshold {
			continue
		}
		s, ok1 := byEntity[e.Entity1]
		t, ok2 := byEntity[e.Entity2]
		if !ok1 || !ok2 {
			continue
		}
		edges = append(edges, Edge{Source: s, Target: t, Type: common.EdgeTypeSimilarity, Strength: e.Score, Class: e.Class})
	}

	g := newGraph(nodes, edges, params.Threshold)

	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	cedges := make([]community.Edge, len(edges))
	for i, e := range edges {
		cedges[i] = community.Edge{Source: e.Source, Target: e.Target}
	}
	g.Communities = community.Detect(ids, cedges)
	for id, c := range community.Membership(g.Communities) {
		g.Nodes[g.index[id]].Community = c
	}

	logger.Info("[Network] graph built",
		"nodes", len(nodes),
		"citation_edges", citationEdges,
		"similarity_edges", len(edges)-citationEdges,
		"communities", len(g.Communities),
	)
	return g
}

// CombinedImportance blends citation degrees with PageRank.
func CombinedImportance(in, out int, pagerank float64) float64 {
	return (float64(in)*2 + float64(out) + pagerank*100) / 4
}

func newGraph(nodes []Node, edges []Edge, threshold float64) *Graph {
	g := &Graph{Nodes: nodes, Edges: edges, Threshold: threshold, Communities: []community.Community{}}
	g.reindex()
	return g
}

// reindex builds the id index and the undirected adjacency in edge order.
func (g *Graph) reindex() {
	g.index = make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		g.index[n.ID] = i
	}
	g.adj = make([][]int, len(g.Nodes))
	for _, e := range g.Edges {
		s, ok1 := g.index[e.Source]
		t, ok2 := g.index[e.Target]
		if !ok1 || !ok2 || s == t {
			continue
		}
		g.adj[s] = append(g.adj[s], t)
		g.adj[t] = append(g.adj[t], s)
	}
}

// Decode restores a graph serialized with json.Marshal, indexes included.
func Decode(data []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("failed to decode network: %w", err)
	}
	if g.Communities == nil {
		g.Communities = []community.Community{}
	}
	g.reindex()
	return &g, nil
}

// Node looks up a node by section number.
func (g *Graph) Node(id string) (Node, bool) {
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.Nodes[i], true
}

// Neighbors returns the distinct undirected neighbours of id in adjacency
// order.
func (g *Graph) Neighbors(id string) []string {
	i, ok := g.index[id]
	if !ok {
		return nil
	}
	seen := make(map[int]bool)
	var out []string
	for _, j := range g.adj[i] {
		if seen[j] {
			continue
		}
		seen[j] = true
		out = append(out, g.Nodes[j].ID)
	}
	return out
}
