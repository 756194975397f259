package timeline

import (
	"slices"
	"time"
)

// Granularity is the time resolution of a bucket.
type Granularity int

const (
	Leaf Granularity = iota
	Day
	Month
	Year
	Root
)

func (g Granularity) String() string {
	switch g {
	case Day:
		return "day"
	case Month:
		return "month"
	case Year:
		return "year"
	case Root:
		return "root"
	default:
		return "leaf"
	}
}

// NodeID addresses a node in a Tree.
type NodeID int

// RootID is the id of the root bucket.
const RootID NodeID = 0

// Node is a bucket or, when Granularity is Leaf, a checkpoint.
type Node struct {
	Granularity Granularity
	// Time is the representative time of a bucket or the checkpoint time.
	Time time.Time
	// Checkpoint indexes Tree.Checkpoints for leaves and is -1 for buckets.
	Checkpoint int
	Children   []NodeID
}

// Tree is the grouped hierarchy built by Group.
type Tree struct {
	Checkpoints []Checkpoint
	nodes       []Node
	parent      []NodeID
	leaf        []NodeID
}

// Group builds the hierarchy for checkpoints, inserting them in order.
func Group(checkpoints []Checkpoint) *Tree {
	t := &Tree{
		Checkpoints: checkpoints,
		nodes:       []Node{{Granularity: Root, Checkpoint: -1}},
		leaf:        make([]NodeID, len(checkpoints)),
	}
	for i, cp := range checkpoints {
		id := t.newNode(Node{Granularity: Leaf, Time: cp.Time, Checkpoint: i})
		t.leaf[i] = id
		t.add(RootID, id)
	}
	t.sort(RootID)
	t.linkParents()
	return t
}

// Node returns a copy of the node with id.
func (t *Tree) Node(id NodeID) Node {
	n := t.nodes[id]
	n.Children = slices.Clone(n.Children)
	return n
}

// Children returns the ordered children of id.
func (t *Tree) Children(id NodeID) []NodeID {
	return slices.Clone(t.nodes[id].Children)
}

// Leaf returns the node holding checkpoint i.
func (t *Tree) Leaf(i int) NodeID {
	return t.leaf[i]
}

// Ancestors returns the buckets above checkpoint i, outermost first,
// excluding the root.
func (t *Tree) Ancestors(i int) []NodeID {
	var chain []NodeID
	for id := t.parent[t.leaf[i]]; id != RootID; id = t.parent[id] {
		chain = append(chain, id)
	}
	slices.Reverse(chain)
	return chain
}

// Path is the resolved year/month/day a checkpoint converges to.
type Path struct {
	Valid bool
	Year  int
	Month time.Month
	Day   int
}

// Path returns the granularity path of checkpoint i. Invalid checkpoints
// have a zero, invalid path.
func (t *Tree) Path(i int) Path {
	cp := t.Checkpoints[i]
	if !cp.Valid {
		return Path{}
	}
	y, m, d := cp.Time.Date()
	return Path{Valid: true, Year: y, Month: m, Day: d}
}

// Walk visits every node below the root depth first in display order.
// Returning false from fn skips the node's children.
func (t *Tree) Walk(fn func(id NodeID, depth int) bool) {
	var visit func(id NodeID, depth int)
	visit = func(id NodeID, depth int) {
		for _, child := range t.nodes[id].Children {
			if fn(child, depth) {
				visit(child, depth+1)
			}
		}
	}
	visit(RootID, 0)
}

func (t *Tree) newNode(n Node) NodeID {
	t.nodes = append(t.nodes, n)
	return NodeID(len(t.nodes) - 1)
}

func (t *Tree) valid(id NodeID) bool {
	n := t.nodes[id]
	if n.Granularity != Leaf {
		return true
	}
	return t.Checkpoints[n.Checkpoint].Valid
}

// add inserts item below bucket.
func (t *Tree) add(bucket, item NodeID) {
	g := t.nodes[bucket].Granularity
	if !t.valid(item) || g <= Day {
		t.appendChild(bucket, item)
		return
	}

	for _, child := range t.nodes[bucket].Children {
		if t.canTake(child, item) {
			t.add(child, item)
			return
		}
	}

	for pos, child := range t.nodes[bucket].Children {
		common := t.commonGranularity(child, item)
		if common < g {
			merged := t.merge(child, item, common)
			t.removeChild(bucket, pos)
			t.add(bucket, merged)
			return
		}
	}
	t.appendChild(bucket, item)
}

// merge creates a bucket at granularity g holding sibling and item and
// returns its id.
func (t *Tree) merge(sibling, item NodeID, g Granularity) NodeID {
	id := t.newNode(Node{Granularity: g, Time: t.nodes[item].Time, Checkpoint: -1})
	t.add(id, sibling)
	t.add(id, item)
	return id
}

// canTake reports whether bucket should absorb item.
func (t *Tree) canTake(bucket, item NodeID) bool {
	b := t.nodes[bucket]
	switch b.Granularity {
	case Leaf:
		return false
	case Root:
		return true
	}
	by, bm, bd := b.Time.Date()
	iy, im, id := t.nodes[item].Time.Date()
	if by != iy {
		return false
	}
	if b.Granularity == Year {
		return true
	}
	if bm != im {
		return false
	}
	if b.Granularity == Month {
		return true
	}
	return bd == id
}

// commonGranularity is the finest bucket that could hold both a and b, but
// always coarser than a itself.
func (t *Tree) commonGranularity(a, b NodeID) Granularity {
	if !t.valid(a) || !t.valid(b) {
		return Root
	}
	ay, am, ad := t.nodes[a].Time.Date()
	by, bm, bd := t.nodes[b].Time.Date()
	common := Root
	if ay == by {
		common = Year
		if am == bm {
			common = Month
			if ad == bd {
				common = Day
			}
		}
	}
	if own := t.nodes[a].Granularity; common <= own {
		return own + 1
	}
	return common
}

func (t *Tree) appendChild(bucket, item NodeID) {
	t.nodes[bucket].Children = append(t.nodes[bucket].Children, item)
}

func (t *Tree) removeChild(bucket NodeID, pos int) {
	t.nodes[bucket].Children = slices.Delete(t.nodes[bucket].Children, pos, pos+1)
}

// sort orders children newest first with invalid checkpoints last, keeping
// arrival order among equals.
func (t *Tree) sort(id NodeID) {
	children := t.nodes[id].Children
	for _, child := range children {
		if t.nodes[child].Granularity != Leaf {
			t.sort(child)
		}
	}
	slices.SortStableFunc(children, func(a, b NodeID) int {
		av, bv := t.valid(a), t.valid(b)
		switch {
		case av && !bv:
			return -1
		case !av && bv:
			return 1
		case !av && !bv:
			return 0
		}
		return t.nodes[b].Time.Compare(t.nodes[a].Time)
	})
}

func (t *Tree) linkParents() {
	t.parent = make([]NodeID, len(t.nodes))
	for id := range t.nodes {
		for _, child := range t.nodes[id].Children {
			t.parent[child] = NodeID(id)
		}
	}
}
