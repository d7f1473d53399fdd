package community

import (
	"reflect"
	"testing"
)

func TestDetect(t *testing.T) {
	nodes := []string{"a", "b", "c", "d", "e", "f", "g"}
	edges := []Edge{
		{Source: "b", Target: "a"},
		{Source: "c", Target: "b"},
		{Source: "e", Target: "f"},
		{Source: "g", Target: "g"},
		{Source: "a", Target: "zzz"},
	}

	got := Detect(nodes, edges)
	want := []Community{
		{ID: 0, Members: []string{"a", "b", "c"}, Size: 3},
		{ID: 1, Members: []string{"e", "f"}, Size: 2},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("Detect = %+v, want %+v", got, want)
	}

	m := Membership(got)
	if m["c"] != 0 || m["f"] != 1 {
		t.Fatalf("membership = %v", m)
	}
	if _, ok := m["d"]; ok {
		t.Fatal("singletons must not be assigned")
	}
}

func TestDetect_FirstVisitOrderFollowsNodeList(t *testing.T) {
	nodes := []string{"x", "y", "p", "q"}
	edges := []Edge{{Source: "p", Target: "q"}, {Source: "y", Target: "x"}}

	got := Detect(nodes, edges)
	if len(got) != 2 || got[0].Members[0] != "x" || got[1].Members[0] != "p" {
		t.Fatalf("unexpected order: %+v", got)
	}
}

func TestDetect_Empty(t *testing.T) {
	got := Detect(nil, nil)
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil slice, got %v", got)
	}
}
