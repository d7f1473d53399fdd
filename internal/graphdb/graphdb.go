package graphdb

import (
	"context"
	"fmt"
	"time"

	"github.com/OFFIS-RIT/regnet/internal/util"
	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/logger"
	"github.com/OFFIS-RIT/regnet/pkg/network"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Client projects materialized networks into Neo4j for exploration with
// graph tooling. A nil Client is a no-op.
type Client struct {
	Driver   neo4j.DriverWithContext
	Database string
}

// NewFromEnv connects using NEO4J_URI, NEO4J_USER, NEO4J_PASSWORD and
// NEO4J_DATABASE. It returns nil without error when NEO4J_URI is unset.
func NewFromEnv(ctx context.Context) (*Client, error) {
	uri := util.GetEnvString("NEO4J_URI", "")
	if uri == "" {
		return nil, nil
	}
	user := util.GetEnvString("NEO4J_USER", "neo4j")
	timeout := util.GetEnvDuration("NEO4J_TIMEOUT", 10*time.Second)

	driver, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(user, util.GetEnvString("NEO4J_PASSWORD", ""), ""), func(cfg *neo4j.Config) {
		cfg.SocketConnectTimeout = timeout
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init neo4j driver: %w", err)
	}

	vctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := driver.VerifyConnectivity(vctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("failed to reach neo4j: %w", err)
	}
	return &Client{Driver: driver, Database: util.GetEnvString("NEO4J_DATABASE", "")}, nil
}

func (c *Client) Close(ctx context.Context) error {
	if c == nil || c.Driver == nil {
		return nil
	}
	err := c.Driver.Close(ctx)
	c.Driver = nil
	return err
}

const (
	schemaCypher = `CREATE CONSTRAINT section_number_unique IF NOT EXISTS FOR (s:Section) REQUIRE s.number IS UNIQUE`

	upsertSectionsCypher = `
UNWIND $nodes AS n
MERGE (s:Section {number: n.number})
SET s += n`

	clearEdgesCypher = `
MATCH (:Section)-[r:CITES|SIMILAR_TO]->(:Section)
DELETE r`

	citesCypher = `
UNWIND $edges AS e
MATCH (a:Section {number: e.source})
MATCH (b:Section {number: e.target})
MERGE (a)-[r:CITES]->(b)
SET r.pass_id = e.pass_id`

	similarCypher = `
UNWIND $edges AS e
MATCH (a:Section {number: e.source})
MATCH (b:Section {number: e.target})
MERGE (a)-[r:SIMILAR_TO]->(b)
SET r.score = e.strength, r.class = e.class, r.pass_id = e.pass_id`
)

// nodeParams renders network nodes as Cypher parameter maps.
func nodeParams(g *network.Graph, passID, syncedAt string) []map[string]any {
	out := make([]map[string]any, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		out = append(out, map[string]any{
			"number":        n.ID,
			"entity_id":     n.EntityID,
			"subject":       n.Subject,
			"citation":      n.Citation,
			"text_length":   int64(n.TextLength),
			"citations_in":  int64(n.CitationsIn),
			"citations_out": int64(n.CitationsOut),
			"pagerank":      n.PageRank,
			"importance":    n.Importance,
			"community":     int64(n.Community),
			"pass_id":       passID,
			"synced_at":     syncedAt,
		})
	}
	return out
}

// edgeParams splits network edges into citation and similarity parameter
// maps. Self-loops are kept for citations and dropped for similarity.
func edgeParams(g *network.Graph, passID string) (cites, similar []map[string]any) {
	for _, e := range g.Edges {
		rec := map[string]any{
			"source":  e.Source,
			"target":  e.Target,
			"pass_id": passID,
		}
		switch e.Type {
		case common.EdgeTypeCitation:
			cites = append(cites, rec)
		case common.EdgeTypeSimilarity:
			if e.Source == e.Target {
				continue
			}
			rec["strength"] = e.Strength
			rec["class"] = string(e.Class)
			similar = append(similar, rec)
		}
	}
	return cites, similar
}

// ExportNetwork replaces the projected relationships with those of g and
// upserts its sections.
func (c *Client) ExportNetwork(ctx context.Context, passID string, g *network.Graph) error {
	if c == nil || c.Driver == nil || g == nil {
		return nil
	}
	nodes := nodeParams(g, passID, time.Now().UTC().Format(time.RFC3339Nano))
	cites, similar := edgeParams(g, passID)

	session := c.Driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: c.Database,
	})
	defer session.Close(ctx)

	if res, err := session.Run(ctx, schemaCypher, nil); err != nil {
		logger.Warn("[GraphDB] schema init failed (continuing)", "err", err)
	} else {
		_, _ = res.Consume(ctx)
	}

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		steps := []struct {
			cypher string
			params map[string]any
			skip   bool
		}{
			{cypher: upsertSectionsCypher, params: map[string]any{"nodes": nodes}, skip: len(nodes) == 0},
			{cypher: clearEdgesCypher},
			{cypher: citesCypher, params: map[string]any{"edges": cites}, skip: len(cites) == 0},
			{cypher: similarCypher, params: map[string]any{"edges": similar}, skip: len(similar) == 0},
		}
		for _, step := range steps {
			if step.skip {
				continue
			}
			res, err := tx.Run(ctx, step.cypher, step.params)
			if err != nil {
				return nil, err
			}
			if _, err := res.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	if err != nil {
		return fmt.Errorf("failed to export network: %w", err)
	}

	logger.Info("[GraphDB] network exported", "pass", passID, "sections", len(nodes), "cites", len(cites), "similar", len(similar))
	return nil
}
