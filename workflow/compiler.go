package workflow

// RoutingTable is the compiled control flow of a Graph. It is immutable and
// shared by every run of the graph.
type RoutingTable struct {
	Start string
	End   string
	// Next holds the unconditional successor of non-Condition nodes.
	Next map[string]string
	// Branch maps a Condition node to its branch tag -> target table.
	Branch map[string]map[string]string
}

// Successor returns the node that follows id after it produced tag.
func (t *RoutingTable) Successor(id, tag string) (string, bool) {
	if branches, ok := t.Branch[id]; ok {
		next, ok := branches[tag]
		return next, ok
	}
	next, ok := t.Next[id]
	return next, ok
}

// Compile derives the routing table of g. Every failure is STRUCTURAL.
func Compile(g *Graph) (*RoutingTable, error) {
	if g == nil {
		return nil, structuralError("", "graph cannot be nil")
	}

	t := &RoutingTable{
		Start:  g.StartID(),
		End:    g.EndID(),
		Next:   make(map[string]string),
		Branch: make(map[string]map[string]string),
	}

	for _, node := range g.Nodes() {
		for _, ref := range node.refs() {
			if r, ok := ref.(OutputRef); ok {
				if _, exists := g.Lookup(r.NodeID); !exists {
					return nil, structuralError(node.ID, "reference to unknown node %q", r.NodeID)
				}
			}
		}

		edges := g.OutgoingEdges(node.ID)

		if node.Kind() == KindCondition {
			branches := make(map[string]string, len(edges))
			for _, e := range edges {
				if e.BranchTag != BranchTrue && e.BranchTag != BranchFalse {
					return nil, structuralError(node.ID, "unknown branch tag %q", e.BranchTag)
				}
				if prev, dup := branches[e.BranchTag]; dup {
					return nil, structuralError(node.ID, "branch %q targets both %q and %q", e.BranchTag, prev, e.Target)
				}
				branches[e.BranchTag] = e.Target
			}
			for _, tag := range []string{BranchTrue, BranchFalse} {
				if _, ok := branches[tag]; !ok {
					return nil, structuralError(node.ID, "condition node has no %q branch", tag)
				}
			}
			t.Branch[node.ID] = branches
			continue
		}

		// The run stops at End; its outgoing edges are never followed.
		if node.ID == t.End {
			continue
		}
		switch len(edges) {
		case 0:
			return nil, structuralError(node.ID, "dead end: node has no successor")
		case 1:
			t.Next[node.ID] = edges[0].Target
		default:
			return nil, structuralError(node.ID, "node has %d unconditional successors, want one", len(edges))
		}
	}

	return t, nil
}
