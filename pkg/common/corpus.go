package common

// Corpus is an immutable snapshot of the hierarchy. Entity order is the
// order the corpus reader produced and is preserved by every accessor, so
// downstream passes that iterate a corpus are deterministic.
type Corpus struct {
	entities []Entity
	byID     map[string]int
	children map[string][]int
}

// NewCorpus indexes a copy of entities. Duplicate IDs keep the first entity.
func NewCorpus(entities []Entity) *Corpus {
	c := &Corpus{
		entities: make([]Entity, 0, len(entities)),
		byID:     make(map[string]int, len(entities)),
		children: make(map[string][]int),
	}
	for _, e := range entities {
		if _, ok := c.byID[e.ID]; ok {
			continue
		}
		c.byID[e.ID] = len(c.entities)
		c.entities = append(c.entities, e)
	}
	for i, e := range c.entities {
		if e.ParentID != "" {
			c.children[e.ParentID] = append(c.children[e.ParentID], i)
		}
	}
	return c
}

// Len returns the number of entities in the snapshot.
func (c *Corpus) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entities)
}

// Entities returns every entity in corpus order.
func (c *Corpus) Entities() []Entity {
	if c == nil {
		return nil
	}
	out := make([]Entity, len(c.entities))
	copy(out, c.entities)
	return out
}

// Get looks up an entity by ID.
func (c *Corpus) Get(id string) (Entity, bool) {
	if c == nil {
		return Entity{}, false
	}
	i, ok := c.byID[id]
	if !ok {
		return Entity{}, false
	}
	return c.entities[i], true
}

// ByLevel returns the entities of one level in corpus order.
func (c *Corpus) ByLevel(level Level) []Entity {
	if c == nil {
		return nil
	}
	var out []Entity
	for _, e := range c.entities {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}

// Sections is shorthand for ByLevel(LevelSection).
func (c *Corpus) Sections() []Entity {
	return c.ByLevel(LevelSection)
}

// Children returns the direct children of id in corpus order.
func (c *Corpus) Children(id string) []Entity {
	if c == nil {
		return nil
	}
	idx := c.children[id]
	out := make([]Entity, 0, len(idx))
	for _, i := range idx {
		out = append(out, c.entities[i])
	}
	return out
}

// DescendantSections returns every section transitively contained in id,
// depth first in corpus order. A section is its own single descendant.
func (c *Corpus) DescendantSections(id string) []Entity {
	if c == nil {
		return nil
	}
	root, ok := c.byID[id]
	if !ok {
		return nil
	}
	if c.entities[root].Level == LevelSection {
		return []Entity{c.entities[root]}
	}

	var out []Entity
	visited := map[int]bool{root: true}
	var walk func(int)
	walk = func(n int) {
		for _, k := range c.children[c.entities[n].ID] {
			if visited[k] {
				continue
			}
			visited[k] = true
			if c.entities[k].Level == LevelSection {
				out = append(out, c.entities[k])
				continue
			}
			walk(k)
		}
	}
	walk(root)
	return out
}
