package resource

// Kind tags the structural role of a value inside a document.
type Kind int

const (
	KindScalar Kind = iota
	KindReference
	KindDocument
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindReference:
		return "reference"
	case KindDocument:
		return "document"
	case KindSequence:
		return "sequence"
	default:
		return "scalar"
	}
}

// Node is a tagged view of a document value. Exactly one of Fields or Items is set for
// document/reference and sequence nodes respectively.
type Node struct {
	Kind   Kind
	Fields map[string]any
	Items  []any
}

// Classify determines the kind of v. Any mapping carrying a "reference" key is a
// reference, regardless of its other fields.
func Classify(v any) Node {
	switch t := v.(type) {
	case map[string]any:
		if _, ok := t[ReferenceKey]; ok {
			return Node{Kind: KindReference, Fields: t}
		}
		return Node{Kind: KindDocument, Fields: t}
	case Resource:
		return Classify(map[string]any(t))
	case []any:
		return Node{Kind: KindSequence, Items: t}
	default:
		return Node{Kind: KindScalar}
	}
}
