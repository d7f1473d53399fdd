package analysis

import (
	"fmt"
	"strings"

	"github.com/OFFIS-RIT/regnet/pkg/common"
	"github.com/OFFIS-RIT/regnet/pkg/similarity"
)

// ParityCheck is a structural consistency check of one entity.
type ParityCheck struct {
	EntityID  string       `json:"entity_id"`
	Level     common.Level `json:"level"`
	Name      string       `json:"name"`
	CheckType string       `json:"check_type"`
	Passed    bool         `json:"passed"`
	// Count is the number of children, or the text length for sections.
	Count int `json:"count"`
}

// ParityChecks verifies that every chapter has subchapters, every subchapter
// has parts, every part has sections and every section has text.
func ParityChecks(corpus *common.Corpus, level common.Level) ([]ParityCheck, error) {
	var check string
	switch level {
	case common.LevelChapter:
		check = "has_subchapters"
	case common.LevelSubchapter:
		check = "has_parts"
	case common.LevelPart:
		check = "has_sections"
	case common.LevelSection:
		check = "has_text"
	default:
		return nil, fmt.Errorf("%w: %q", common.ErrInvalidLevel, level)
	}

	entities := corpus.ByLevel(level)
	out := make([]ParityCheck, 0, len(entities))
	for _, e := range entities {
		pc := ParityCheck{EntityID: e.ID, Level: level, Name: DisplayName(e), CheckType: check}
		if level == common.LevelSection {
			pc.Count = len(e.Text)
			pc.Passed = strings.TrimSpace(e.Text) != ""
		} else {
			pc.Count = countChildren(corpus, e.ID, level)
			pc.Passed = pc.Count > 0
		}
		out = append(out, pc)
	}
	return out, nil
}

// countChildren counts direct children one level below parent.
func countChildren(corpus *common.Corpus, id string, parent common.Level) int {
	n := 0
	for _, c := range corpus.Children(id) {
		if c.Level.Depth() == parent.Depth()+1 {
			n++
		}
	}
	return n
}

// Summary is the per-level overview of an analysis.
type Summary struct {
	Level          common.Level `json:"level"`
	Items          int          `json:"items"`
	Embedded       int          `json:"embedded"`
	Pairs          int          `json:"pairs"`
	SimilarPairs   int          `json:"similar_pairs"`
	Overlaps       int          `json:"overlaps"`
	Redundancies   int          `json:"redundancies"`
	ParityPassed   int          `json:"parity_passed"`
	ParityFailed   int          `json:"parity_failed"`
	ClusterCount   int          `json:"cluster_count,omitempty"`
	LargestCluster int          `json:"largest_cluster,omitempty"`
}

// Summarize combines a similarity result, parity checks and clusters of one
// level into counts.
func Summarize(corpus *common.Corpus, level common.Level, sim similarity.Result, parity []ParityCheck, clusters []common.Cluster) Summary {
	s := Summary{
		Level:        level,
		Items:        len(corpus.ByLevel(level)),
		Embedded:     sim.Summary.Items,
		Pairs:        sim.Summary.Pairs,
		SimilarPairs: len(sim.Edges),
		Overlaps:     sim.Summary.Overlap,
		Redundancies: sim.Summary.Redundant,
		ClusterCount: len(clusters),
	}
	for _, p := range parity {
		if p.Passed {
			s.ParityPassed++
		} else {
			s.ParityFailed++
		}
	}
	for _, c := range clusters {
		s.LargestCluster = max(s.LargestCluster, c.Size)
	}
	return s
}
