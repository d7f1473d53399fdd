package graphdb

import (
	"context"
	"testing"

	"github.com/OFFIS-RIT/regnet/pkg/citation"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/network"
)

func testNetwork() *network.Graph {
	corpus := common.NewCorpus([]common.Entity{
		{ID: "e1", Level: common.LevelSection, Number: "1500.1", Name: "Scope", Text: "See § 1500.2."},
		{ID: "e2", Level: common.LevelSection, Number: "1500.2", Name: "Definitions"},
		{ID: "e3", Level: common.LevelSection, Number: "1500.3"},
	})
	cit := citation.NewBuilder(citation.NewBuilderParams{}).Build(corpus)
	sim := []common.SimilarityEdge{
		{Entity1: "e2", Entity2: "e3", Score: 0.88, Class: common.SimilarityRedundant},
	}
	return network.Build(cit, sim, map[string]float64{"1500.2": 0.5}, network.BuildParams{Threshold: 0.75})
}

func TestNodeParams(t *testing.T) {
	nodes := nodeParams(testNetwork(), "pass-1", "2026-01-01T00:00:00Z")
	if len(nodes) != 3 {
		t.Fatalf("nodes = %d, want 3", len(nodes))
	}
	n := nodes[1]
	if n["number"] != "1500.2" || n["entity_id"] != "e2" || n["pass_id"] != "pass-1" {
		t.Fatalf("unexpected node %v", n)
	}
	if n["citations_in"] != int64(1) || n["pagerank"] != 0.5 {
		t.Fatalf("unexpected metrics %v", n)
	}
	if _, ok := n["community"].(int64); !ok {
		t.Fatalf("community must be int64 for the driver, got %T", n["community"])
	}
}

func TestEdgeParams(t *testing.T) {
	cites, similar := edgeParams(testNetwork(), "pass-1")
	if len(cites) != 1 || cites[0]["source"] != "1500.1" || cites[0]["target"] != "1500.2" {
		t.Fatalf("cites = %v", cites)
	}
	if len(similar) != 1 {
		t.Fatalf("similar = %v", similar)
	}
	if similar[0]["strength"] != 0.88 || similar[0]["class"] != "REDUNDANT" {
		t.Fatalf("unexpected similarity edge %v", similar[0])
	}
	if _, ok := cites[0]["strength"]; ok {
		t.Fatal("citation edges carry no strength")
	}
}

func TestExportNetwork_NilClient(t *testing.T) {
	var c *Client
	if err := c.ExportNetwork(context.Background(), "pass-1", testNetwork()); err != nil {
		t.Fatalf("nil client should be a no-op, got %v", err)
	}
	if err := c.Close(context.Background()); err != nil {
		t.Fatalf("close: %v", err)
	}
}
