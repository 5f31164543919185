package memory

import (
	"github.com/emirpasic/gods/trees/redblacktree"

	"github.com/icanbwell/fhir-server-sub016/pkg/resource"
)

// typeIndex keeps the resources of one type ordered by id, so reads stream in a
// deterministic order without sorting on every query.
type typeIndex struct {
	tree *redblacktree.Tree
}

func newTypeIndex() *typeIndex {
	return &typeIndex{tree: redblacktree.NewWithStringComparator()}
}

func (i *typeIndex) get(id string) (resource.Resource, bool) {
	v, ok := i.tree.Get(id)
	if !ok {
		return nil, false
	}
	return v.(resource.Resource), true
}

func (i *typeIndex) put(id string, r resource.Resource) {
	i.tree.Put(id, r)
}

func (i *typeIndex) size() int {
	return i.tree.Size()
}

// values returns the stored resources in id order.
func (i *typeIndex) values() []resource.Resource {
	out := make([]resource.Resource, 0, i.tree.Size())
	it := i.tree.Iterator()
	for it.Next() {
		out = append(out, it.Value().(resource.Resource))
	}
	return out
}
