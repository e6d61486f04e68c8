package depgraph

import (
	"testing"

	"xref/internal/location"
)

func TestLinkEstablishesBothDirections(t *testing.T) {
	g := New()
	g.Link(1, 2)

	if got := g.Includes(1); len(got) != 1 || got[0] != 2 {
		t.Errorf("Includes(1) = %v, want [2]", got)
	}
	if got := g.Dependents(2); len(got) != 1 || got[0] != 1 {
		t.Errorf("Dependents(2) = %v, want [1]", got)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLinkIsIdempotent(t *testing.T) {
	g := New()
	g.Link(1, 2)
	g.Link(1, 2)

	if got := g.Includes(1); len(got) != 1 {
		t.Errorf("Includes(1) = %v, want single entry", got)
	}
	if g.Size() != 2 {
		t.Errorf("Size() = %d, want 2", g.Size())
	}
}

func TestRemoveUnlinksPeers(t *testing.T) {
	// a -> h -> h2, b -> h
	g := New()
	g.Link(1, 2)
	g.Link(2, 3)
	g.Link(4, 2)

	g.Remove(2)

	if g.Contains(2) {
		t.Error("node 2 should be gone")
	}
	if got := g.Includes(1); len(got) != 0 {
		t.Errorf("Includes(1) = %v, want empty", got)
	}
	if got := g.Dependents(3); len(got) != 0 {
		t.Errorf("Dependents(3) = %v, want empty", got)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate() after Remove = %v", err)
	}
}

func TestDependencies(t *testing.T) {
	// a(1) -> h1(2) -> h2(3); b(4) -> h1(2)
	g := New()
	g.Link(1, 2)
	g.Link(2, 3)
	g.Link(4, 2)

	tests := []struct {
		name string
		file location.FileID
		mode Mode
		want []location.FileID
	}{
		{"transitive includes of a", 1, ArgDependsOn, []location.FileID{2, 3}},
		{"transitive includes of h1", 2, ArgDependsOn, []location.FileID{3}},
		{"dependents of h2", 3, DependsOnArg, []location.FileID{1, 2, 4}},
		{"dependents of a", 1, DependsOnArg, nil},
		{"unknown file", 99, ArgDependsOn, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := g.Dependencies(tt.file, tt.mode)
			if len(got) != len(tt.want) {
				t.Fatalf("Dependencies(%d, %v) = %v, want %v", tt.file, tt.mode, got, tt.want)
			}
			for _, id := range tt.want {
				if _, ok := got[id]; !ok {
					t.Errorf("Dependencies(%d, %v) missing %d", tt.file, tt.mode, id)
				}
			}
		})
	}
}

func TestDependenciesExcludesSelf(t *testing.T) {
	g := New()
	g.Link(1, 2)

	if deps := g.Dependencies(1, ArgDependsOn); func() bool { _, ok := deps[1]; return ok }() {
		t.Error("file must not appear in its own dependency closure without a cycle")
	}
}

func TestDependenciesToleratesCycles(t *testing.T) {
	// 1 -> 2 -> 3 -> 1: not legal C include semantics, but the traversal
	// must terminate and report each node exactly once.
	g := New()
	g.Link(1, 2)
	g.Link(2, 3)
	g.Link(3, 1)

	deps := g.Dependencies(1, ArgDependsOn)
	if len(deps) != 3 {
		t.Fatalf("Dependencies with cycle = %v, want {1 2 3}", deps)
	}
	if _, ok := deps[1]; !ok {
		t.Error("file reached through a cycle should appear exactly once")
	}
}

func TestDependsOnMatchesClosure(t *testing.T) {
	g := New()
	g.Link(1, 2)
	g.Link(2, 3)

	for _, hdr := range []location.FileID{2, 3} {
		inClosure := func() bool { _, ok := g.Dependencies(1, ArgDependsOn)[hdr]; return ok }()
		if g.DependsOn(1, hdr) != inClosure {
			t.Errorf("DependsOn(1, %d) disagrees with Dependencies closure", hdr)
		}
	}
	if g.DependsOn(3, 1) {
		t.Error("DependsOn(3, 1) = true, want false")
	}
}

func TestSetIncludesReplacesEdgeSet(t *testing.T) {
	g := New()
	g.Link(1, 2)
	g.Link(1, 3)

	g.SetIncludes(1, []location.FileID{3, 4})

	if got := g.Includes(1); len(got) != 2 || got[0] != 3 || got[1] != 4 {
		t.Errorf("Includes(1) = %v, want [3 4]", got)
	}
	if got := g.Dependents(2); len(got) != 0 {
		t.Errorf("Dependents(2) = %v, want empty after edge replacement", got)
	}
	if got := g.Dependents(4); len(got) != 1 || got[0] != 1 {
		t.Errorf("Dependents(4) = %v, want [1]", got)
	}
	if err := g.Validate(); err != nil {
		t.Errorf("Validate() = %v", err)
	}
}

func TestLoadRecomputesReverseLinks(t *testing.T) {
	g := Load(map[location.FileID][]location.FileID{
		1: {2},
		2: {3},
	})

	if err := g.Validate(); err != nil {
		t.Fatalf("Validate() = %v", err)
	}
	if got := g.Dependents(3); len(got) != 1 || got[0] != 2 {
		t.Errorf("Dependents(3) = %v, want [2]", got)
	}
	deps := g.Dependencies(3, DependsOnArg)
	if len(deps) != 2 {
		t.Errorf("Dependencies(3, DependsOnArg) = %v, want {1 2}", deps)
	}
}
