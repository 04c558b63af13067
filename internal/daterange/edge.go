package daterange

import "fmt"

// Edge names one end of a time range.
type Edge int

const (
	// Oldest is the lower bound of a range.
	Oldest Edge = iota
	// Newest is the upper bound of a range.
	Newest
)

func (e Edge) String() string {
	switch e {
	case Oldest:
		return "oldest"
	case Newest:
		return "newest"
	default:
		return fmt.Sprintf("edge(%d)", int(e))
	}
}

// ParseEdge converts "oldest" or "newest" into an Edge.
func ParseEdge(s string) (Edge, error) {
	switch s {
	case "oldest":
		return Oldest, nil
	case "newest":
		return Newest, nil
	default:
		return 0, fmt.Errorf("unknown edge %q (want oldest or newest)", s)
	}
}
