// Package requirement defines the vocabulary for obligation trees: composite
// and primitive nodes, shared condition sub-trees, and the per-node evaluation
// state produced by the engine and the reconstructor.
package requirement

type Kind string

const (
	KindComposite Kind = "composite"
	KindPrimitive Kind = "primitive"
)

// Operator is a closed set; switches over it must carry a fatal default.
type Operator string

const (
	OpAllOf Operator = "allOf"
	OpAnyOf Operator = "anyOf"
	OpNot   Operator = "not"
	OpXor   Operator = "xor"
)

// ArticleRef points into the legal text a node or context item derives from.
type ArticleRef struct {
	Article   int    `json:"article"`
	Paragraph int    `json:"paragraph,omitempty"`
	Point     string `json:"point,omitempty"`
	Quote     string `json:"quote,omitempty"`
}

// Question is the prompt material of a primitive condition.
type Question struct {
	Prompt     string `json:"prompt"`
	AnswerType string `json:"answer_type,omitempty"`
	Help       string `json:"help,omitempty"`
}

type ContextItem struct {
	Label   string       `json:"label"`
	Kind    string       `json:"kind,omitempty"`
	Text    string       `json:"text"`
	Sources []ArticleRef `json:"sources,omitempty"`
}

type Context struct {
	Items []ContextItem `json:"items"`
}

// SharedOrigin records which shared primitive, and which node inside it, an
// expanded node was copied from. It is the cache key material: two expanded
// copies of the same shared condition carry the same origin and therefore
// share one judgment per case.
type SharedOrigin struct {
	PrimitiveID string `json:"primitiveId"`
	NodeID      string `json:"nodeId"`
}

// Node is one condition in a requirement tree. Composite nodes carry an
// operator and ordered children; primitive nodes carry a question, or a ref
// to a shared primitive that the expander replaces before evaluation.
type Node struct {
	ID       string        `json:"id"`
	Label    string        `json:"label,omitempty"`
	Kind     Kind          `json:"kind"`
	Operator Operator      `json:"operator,omitempty"`
	Children []string      `json:"children,omitempty"`
	Ref      string        `json:"ref,omitempty"`
	Question *Question     `json:"question,omitempty"`
	Context  *Context      `json:"context,omitempty"`
	Sources  []ArticleRef  `json:"sources,omitempty"`
	Shared   *SharedOrigin `json:"sharedRequirement,omitempty"`
}

// SharedKey returns the judgment-cache key for an expanded node, or "" when
// the node did not originate from a shared primitive.
func (n *Node) SharedKey() string {
	if n == nil || n.Shared == nil {
		return ""
	}
	if n.Shared.PrimitiveID == "" || n.Shared.NodeID == "" {
		return ""
	}
	return n.Shared.PrimitiveID + "::" + n.Shared.NodeID
}

// Clone deep-copies the node so expansion can rewrite copies without touching
// the authored catalog data.
func (n *Node) Clone() *Node {
	if n == nil {
		return nil
	}
	out := *n
	if n.Children != nil {
		out.Children = append([]string(nil), n.Children...)
	}
	if n.Question != nil {
		q := *n.Question
		out.Question = &q
	}
	out.Context = n.Context.Clone()
	if n.Sources != nil {
		out.Sources = append([]ArticleRef(nil), n.Sources...)
	}
	if n.Shared != nil {
		s := *n.Shared
		out.Shared = &s
	}
	return &out
}

func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	out := Context{Items: make([]ContextItem, len(c.Items))}
	for i, item := range c.Items {
		out.Items[i] = item
		if item.Sources != nil {
			out.Items[i].Sources = append([]ArticleRef(nil), item.Sources...)
		}
	}
	return &out
}

// Logic is a sub-tree: a designated root id plus the nodes it reaches.
type Logic struct {
	Root  string `json:"root"`
	Nodes []Node `json:"nodes"`
}

type Metadata struct {
	Version        string `json:"version,omitempty"`
	Status         string `json:"status,omitempty"`
	ExtractionDate string `json:"extraction_date,omitempty"`
}

type LegalConsequence struct {
	Verbatim string   `json:"verbatim"`
	Notes    string   `json:"notes,omitempty"`
	Context  *Context `json:"context,omitempty"`
}

// PrescriptiveNorm is a top-level obligation: a requirement tree plus the
// legal metadata around it. The tree may reference shared primitives by id;
// SharedRefs lists which ones the catalog must supply for expansion.
type PrescriptiveNorm struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Type             string           `json:"type,omitempty"`
	ArticleRefs      []ArticleRef     `json:"article_refs,omitempty"`
	LegalConsequence LegalConsequence `json:"legal_consequence"`
	Requirements     Logic            `json:"requirements"`
	SharedRefs       []string         `json:"shared_refs,omitempty"`
	Metadata         Metadata         `json:"metadata,omitempty"`
}

// SharedPrimitive is a named, reusable condition sub-tree referenced from
// multiple obligations. Its logic may itself reference further shared
// primitives; cyclic references are an authoring error.
type SharedPrimitive struct {
	ID          string       `json:"id"`
	Title       string       `json:"title,omitempty"`
	Namespace   string       `json:"namespace,omitempty"`
	ArticleRefs []ArticleRef `json:"article_refs,omitempty"`
	Logic       Logic        `json:"logic"`
	Metadata    Metadata     `json:"metadata,omitempty"`
}
