package common

import (
	"errors"
	"fmt"
	"strings"
)

// Level is a tier of the regulation hierarchy. The hierarchy is strictly
// chapter → subchapter → part → section; sections are the leaves that carry
// text and embeddings.
type Level string

const (
	LevelChapter    Level = "chapter"
	LevelSubchapter Level = "subchapter"
	LevelPart       Level = "part"
	LevelSection    Level = "section"
)

// ErrInvalidLevel is returned for any level outside the hierarchy.
var ErrInvalidLevel = errors.New("invalid level")

// Levels lists every level from root to leaf.
func Levels() []Level {
	return []Level{LevelChapter, LevelSubchapter, LevelPart, LevelSection}
}

// ParseLevel converts user input into a Level. It is the only string entry
// point; matching is case-insensitive and ignores surrounding whitespace.
func ParseLevel(s string) (Level, error) {
	l := Level(strings.ToLower(strings.TrimSpace(s)))
	if !l.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidLevel, s)
	}
	return l, nil
}

// Valid reports whether l is one of the four hierarchy levels.
func (l Level) Valid() bool {
	switch l {
	case LevelChapter, LevelSubchapter, LevelPart, LevelSection:
		return true
	default:
		return false
	}
}

// Depth returns 0 for chapters through 3 for sections, -1 for invalid levels.
func (l Level) Depth() int {
	switch l {
	case LevelChapter:
		return 0
	case LevelSubchapter:
		return 1
	case LevelPart:
		return 2
	case LevelSection:
		return 3
	default:
		return -1
	}
}

// Title returns the capitalized level name used in generated labels.
func (l Level) Title() string {
	if l == "" {
		return ""
	}
	return strings.ToUpper(string(l[:1])) + string(l[1:])
}

func (l Level) String() string {
	return string(l)
}

// Vector is a dense embedding. An all-zero vector carries no information and
// is treated like a missing embedding.
type Vector []float32

// IsZero reports whether v is empty or contains only zeros.
func (v Vector) IsZero() bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}

// Entity is a node of the regulation hierarchy.
//
// Number is the canonical identifier within its level: "1234.56" for a
// section, "1234" for a part, a roman numeral or letter for chapters and
// subchapters. Citation graph nodes are keyed by section Number.
type Entity struct {
	ID        string `json:"id"`
	Level     Level  `json:"level"`
	Number    string `json:"number"`
	Name      string `json:"name"`
	Citation  string `json:"citation,omitempty"`
	Text      string `json:"text,omitempty"`
	ParentID  string `json:"parent_id,omitempty"`
	Embedding Vector `json:"-"`
}

// HasEmbedding reports whether the entity carries a usable vector.
func (e Entity) HasEmbedding() bool {
	return !e.Embedding.IsZero()
}

// SimilarityClass is the threshold band a similarity score falls into.
type SimilarityClass string

const (
	SimilarityNone      SimilarityClass = "NONE"
	SimilaritySimilar   SimilarityClass = "SIMILAR"
	SimilarityOverlap   SimilarityClass = "OVERLAP"
	SimilarityRedundant SimilarityClass = "REDUNDANT"
)

// Edge types of the composite network.
const (
	EdgeTypeCitation   = "citation"
	EdgeTypeSimilarity = "similarity"
)

// SimilarityEdge is an undirected pair with its cosine score. Entity1 always
// sorts before Entity2 by ID.
type SimilarityEdge struct {
	Entity1 string          `json:"entity1"`
	Entity2 string          `json:"entity2"`
	Score   float64         `json:"score"`
	Class   SimilarityClass `json:"class"`
}

// CitationEdge is a directed reference from one section to another, both
// identified by canonical section number.
type CitationEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Cluster is one partition cell of a clustering run at a single level.
type Cluster struct {
	Level           Level    `json:"level"`
	Label           int      `json:"label"`
	Members         []string `json:"members"`
	Representatives []string `json:"representatives"`
	Centroid        Vector   `json:"centroid"`
	Size            int      `json:"size"`
	Name            string   `json:"name"`
	Summary         string   `json:"summary"`
}
