// Package libtracer discovers the live roots of a content-addressed store:
// the external filesystem paths and runtime process state that pin store
// objects against garbage collection.
package libtracer

// Roots maps a store object path to the set of external paths that each
// independently keep it alive.
type Roots map[string]map[string]struct{}

// Add records root as keeping storePath alive. Duplicate edges are absorbed.
func (r Roots) Add(storePath, root string) {
	set, ok := r[storePath]
	if !ok {
		set = make(map[string]struct{})
		r[storePath] = set
	}
	set[root] = struct{}{}
}

// Merge folds every edge of other into r.
func (r Roots) Merge(other Roots) {
	for storePath, set := range other {
		for root := range set {
			r.Add(storePath, root)
		}
	}
}

// Edges returns the total number of (store path, external root) pairs.
func (r Roots) Edges() int {
	n := 0
	for _, set := range r {
		n += len(set)
	}
	return n
}

// Result is what a single scan produces: the live roots plus every symlink
// that was found dangling on the way. It lives from request accept to
// response flush and is never reused.
type Result struct {
	Roots     Roots
	DeadLinks map[string]struct{}
}

// NewResult returns an empty Result.
func NewResult() *Result {
	return &Result{
		Roots:     make(Roots),
		DeadLinks: make(map[string]struct{}),
	}
}

// AddDeadLink records link as a dangling symlink.
func (res *Result) AddDeadLink(link string) {
	res.DeadLinks[link] = struct{}{}
}
