package citation

import (
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
)

// Node is a section of the citation graph, keyed by canonical section number.
type Node struct {
	ID           string  `json:"id"`
	EntityID     string  `json:"entity_id"`
	Subject      string  `json:"subject"`
	Citation     string  `json:"citation"`
	TextLength   int     `json:"text_length"`
	CitationsIn  int     `json:"citations_in"`
	CitationsOut int     `json:"citations_out"`
	Importance   float64 `json:"importance"`
}

// Stats summarizes a citation graph.
type Stats struct {
	TotalSections          int     `json:"total_sections"`
	SectionsWithCitations  int     `json:"sections_with_citations"`
	TotalCitations         int     `json:"total_citations"`
	AvgCitationsPerSection float64 `json:"avg_citations_per_section"`
}

// Graph is the directed citation graph of a corpus snapshot. Nodes keep
// corpus order; edges are grouped by source in node order and by target in
// token order.
type Graph struct {
	Nodes []Node                `json:"nodes"`
	Edges []common.CitationEdge `json:"edges"`
	Stats Stats                 `json:"stats"`
	// Unresolved lists, per source, tokens that matched no section. Only
	// populated when the builder reports unresolved references.
	Unresolved map[string][]string `json:"unresolved,omitempty"`

	index map[string]int
}

// Node looks up a node by section number.
func (g *Graph) Node(id string) (Node, bool) {
	if g == nil {
		return Node{}, false
	}
	if g.index == nil {
		// decoded graphs carry no index
		for _, n := range g.Nodes {
			if n.ID == id {
				return n, true
			}
		}
		return Node{}, false
	}
	i, ok := g.index[id]
	if !ok {
		return Node{}, false
	}
	return g.Nodes[i], true
}

// SectionNetwork is the direct neighbourhood of one section.
type SectionNetwork struct {
	Section string   `json:"section"`
	Cites   []string `json:"cites"`
	CitedBy []string `json:"cited_by"`
}

// Neighbourhood returns which sections id cites and which cite it.
func (g *Graph) Neighbourhood(id string) (SectionNetwork, bool) {
	if _, ok := g.Node(id); !ok {
		return SectionNetwork{}, false
	}
	sn := SectionNetwork{Section: id, Cites: []string{}, CitedBy: []string{}}
	for _, e := range g.Edges {
		if e.Source == id {
			sn.Cites = append(sn.Cites, e.Target)
		}
		if e.Target == id {
			sn.CitedBy = append(sn.CitedBy, e.Source)
		}
	}
	return sn, true
}

// NewBuilderParams configures a Builder.
type NewBuilderParams struct {
	Extractor        *Extractor
	ReportUnresolved bool
}

// Builder resolves extracted references against the sections of a corpus.
type Builder struct {
	extractor        *Extractor
	reportUnresolved bool
}

func NewBuilder(params NewBuilderParams) *Builder {
	x := params.Extractor
	if x == nil {
		x = NewExtractor()
	}
	return &Builder{extractor: x, reportUnresolved: params.ReportUnresolved}
}

// Build creates one node per section and an edge source→target for every
// extracted token naming an existing section. Tokens naming nothing are
// dropped. A section citing itself yields a self-loop. When two sections
// share a number, the first in corpus order owns the node.
//
// Degree counts cover resolved edges only, and
// importance = citations_in + 0.5 * citations_out.
func (b *Builder) Build(corpus *common.Corpus) *Graph {
	sections := corpus.Sections()

	g := &Graph{
		Nodes: make([]Node, 0, len(sections)),
		Edges: []common.CitationEdge{},
		index: make(map[string]int, len(sections)),
	}
	if b.reportUnresolved {
		g.Unresolved = make(map[string][]string)
	}

	owners := make([]common.Entity, 0, len(sections))
	for _, s := range sections {
		id := Canonicalize(s.Number)
		if id == "" {
			continue
		}
		if _, dup := g.index[id]; dup {
			logger.Debug("[Citation] duplicate section number", "number", id, "entity", s.ID)
			continue
		}
		subject := s.Name
		if subject == "" {
			subject = "No subject"
		}
		g.index[id] = len(g.Nodes)
		g.Nodes = append(g.Nodes, Node{
			ID:         id,
			EntityID:   s.ID,
			Subject:    subject,
			Citation:   s.Citation,
			TextLength: len(s.Text),
		})
		owners = append(owners, s)
	}

	for i, s := range owners {
		source := g.Nodes[i].ID
		resolved := 0
		for _, token := range b.extractor.Extract(s.Text) {
			t, ok := g.index[token]
			if !ok {
				if b.reportUnresolved {
					g.Unresolved[source] = append(g.Unresolved[source], token)
				}
				continue
			}
			g.Edges = append(g.Edges, common.CitationEdge{
				Source: source,
				Target: token,
				Type:   common.EdgeTypeCitation,
			})
			g.Nodes[i].CitationsOut++
			g.Nodes[t].CitationsIn++
			resolved++
		}
		if resolved > 0 {
			g.Stats.SectionsWithCitations++
		}
	}

	for i := range g.Nodes {
		g.Nodes[i].Importance = float64(g.Nodes[i].CitationsIn) + 0.5*float64(g.Nodes[i].CitationsOut)
	}

	g.Stats.TotalSections = len(g.Nodes)
	g.Stats.TotalCitations = len(g.Edges)
	if len(g.Nodes) > 0 {
		g.Stats.AvgCitationsPerSection = float64(len(g.Edges)) / float64(len(g.Nodes))
	}

	logger.Info("[Citation] graph built",
		"sections", g.Stats.TotalSections,
		"edges", g.Stats.TotalCitations,
		"citing_sections", g.Stats.SectionsWithCitations,
	)
	return g
}
