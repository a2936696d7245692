package entity

// Capability is a single bit of a PermX bitmask (spec.md 3's "each PermX
// variant has an associated capability enum"). Each permgraph.Graph
// instance (one per graph.EdgeType in graph.PermEdgeTypes) interprets its
// own bitmask independently.
type Capability uint64

const (
	CapRead Capability = 1 << iota
	CapWrite
	CapManage
	CapDelete
	CapSubmit
	CapBind
	CapModerate
	CapAdmin
)

// ViewCapabilities enumerates the bits meaningful on a PermView edge.
var ViewCapabilities = []Capability{CapRead}

// ManageCapabilities enumerates the bits meaningful on a PermManage edge.
var ManageCapabilities = []Capability{CapWrite, CapManage, CapDelete}

// ProblemCapabilities enumerates the bits meaningful on a PermProblem edge.
var ProblemCapabilities = []Capability{CapRead, CapWrite, CapSubmit}

// PagesCapabilities enumerates the bits meaningful on a PermPages edge.
var PagesCapabilities = []Capability{CapRead, CapWrite, CapModerate}

// SystemCapabilities enumerates the bits meaningful on a PermSystem edge.
var SystemCapabilities = []Capability{CapAdmin, CapBind}
