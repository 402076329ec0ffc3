package requirement

import "fmt"

// Expand replaces every reference to a known shared primitive with a
// namespaced copy of that primitive's logic tree and returns the resulting
// self-contained node list.
//
// The referencing node keeps its own id and becomes an allOf wrapper over the
// copied root, so parents pointing at it stay valid. Copied ids are prefixed
// with "<refNodeID>-expanded." (nested references prefix further), which keeps
// two expansions of the same primitive disjoint. Every copied node carries a
// SharedOrigin tag naming the primitive and the original node id; the tag is
// the judgment-cache key for that condition.
//
// Expanding a tree with no refs left returns an equal node list, so feeding
// an already-expanded tree back through Expand is a no-op.
//
// Cyclic shared references are an authoring error and are not defended
// against; expansion of a cycle does not terminate.
func Expand(nodes []Node, shared []SharedPrimitive) ([]Node, error) {
	ex := &expander{
		sharedByID: make(map[string]*SharedPrimitive, len(shared)),
		seen:       make(map[string]bool, len(nodes)),
	}
	for i := range shared {
		ex.sharedByID[shared[i].ID] = &shared[i]
	}

	for i := range nodes {
		n := &nodes[i]
		sp := ex.refTarget(n)
		if sp == nil {
			ex.emit(n.Clone())
			continue
		}
		prefix := n.ID + "-expanded"
		wrapper := n.Clone()
		wrapper.Kind = KindComposite
		wrapper.Operator = OpAllOf
		wrapper.Ref = ""
		wrapper.Question = nil
		wrapper.Children = []string{prefix + "." + sp.Logic.Root}
		ex.emit(wrapper)
		if err := ex.expandShared(sp, prefix); err != nil {
			return nil, err
		}
	}
	return ex.out, nil
}

type expander struct {
	sharedByID map[string]*SharedPrimitive
	out        []Node
	seen       map[string]bool
}

// refTarget resolves a primitive's ref, or nil when the node needs no
// expansion. Unknown refs are left in place for the engine to reject.
func (ex *expander) refTarget(n *Node) *SharedPrimitive {
	if n.Kind != KindPrimitive || n.Ref == "" {
		return nil
	}
	return ex.sharedByID[n.Ref]
}

func (ex *expander) emit(n *Node) {
	if ex.seen[n.ID] {
		return
	}
	ex.seen[n.ID] = true
	ex.out = append(ex.out, *n)
}

// expandShared emits a namespaced copy of sp's logic tree. All copies within
// one expansion share the given prefix; a nested shared reference opens a new
// prefix rooted at the referencing copy's id.
func (ex *expander) expandShared(sp *SharedPrimitive, prefix string) error {
	byID := make(map[string]*Node, len(sp.Logic.Nodes))
	for i := range sp.Logic.Nodes {
		byID[sp.Logic.Nodes[i].ID] = &sp.Logic.Nodes[i]
	}
	root, ok := byID[sp.Logic.Root]
	if !ok {
		return fmt.Errorf("shared primitive %s: root node %s not found", sp.ID, sp.Logic.Root)
	}
	return ex.copyShared(sp, byID, root, prefix)
}

func (ex *expander) copyShared(sp *SharedPrimitive, byID map[string]*Node, n *Node, prefix string) error {
	newID := prefix + "." + n.ID

	if nested := ex.refTarget(n); nested != nil {
		wrapper := n.Clone()
		wrapper.ID = newID
		wrapper.Kind = KindComposite
		wrapper.Operator = OpAllOf
		wrapper.Ref = ""
		wrapper.Question = nil
		wrapper.Children = []string{newID + "." + nested.Logic.Root}
		wrapper.Shared = &SharedOrigin{PrimitiveID: sp.ID, NodeID: n.ID}
		ex.emit(wrapper)
		return ex.expandShared(nested, newID)
	}

	clone := n.Clone()
	clone.ID = newID
	clone.Shared = &SharedOrigin{PrimitiveID: sp.ID, NodeID: n.ID}
	if n.Kind == KindComposite {
		clone.Children = make([]string, len(n.Children))
		for i, childID := range n.Children {
			clone.Children[i] = prefix + "." + childID
		}
	}
	ex.emit(clone)

	if n.Kind != KindComposite {
		return nil
	}
	for _, childID := range n.Children {
		child, ok := byID[childID]
		if !ok {
			return fmt.Errorf("shared primitive %s: node %s references missing child %s", sp.ID, n.ID, childID)
		}
		if err := ex.copyShared(sp, byID, child, prefix); err != nil {
			return err
		}
	}
	return nil
}
