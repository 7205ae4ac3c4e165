package core

import "fmt"

// DepthCompare selects the depth convention of the whole pipeline.
//
// DepthLess is conventional depth: cleared to 1, nearer is smaller, the Hi-Z
// reduction is max. DepthGreater is reverse-Z: cleared to 0, nearer is larger,
// the reduction is min.
type DepthCompare uint32

const (
	DepthLess DepthCompare = iota
	DepthGreater
)

func (c DepthCompare) String() string {
	switch c {
	case DepthLess:
		return "less"
	case DepthGreater:
		return "greater"
	}
	return fmt.Sprintf("DepthCompare(%d)", uint32(c))
}

func ParseDepthCompare(s string) (DepthCompare, error) {
	switch s {
	case "less":
		return DepthLess, nil
	case "greater", "reverse":
		return DepthGreater, nil
	}
	return DepthLess, fmt.Errorf("unknown depth compare %q", s)
}

func (c DepthCompare) ClearDepth() float32 {
	if c == DepthGreater {
		return 0
	}
	return 1
}

// WindowDepth maps NDC z in [-1, 1] to stored depth in [0, 1].
func (c DepthCompare) WindowDepth(ndcZ float32) float32 {
	d := ndcZ*0.5 + 0.5
	if c == DepthGreater {
		return 1 - d
	}
	return d
}

// Passes reports whether a fragment at depth d replaces stored.
func (c DepthCompare) Passes(d, stored float32) bool {
	if c == DepthGreater {
		return d > stored
	}
	return d < stored
}

// Farthest is the Hi-Z reduction.
func (c DepthCompare) Farthest(a, b float32) float32 {
	if c == DepthGreater {
		return min(a, b)
	}
	return max(a, b)
}

func (c DepthCompare) Nearest(a, b float32) float32 {
	if c == DepthGreater {
		return max(a, b)
	}
	return min(a, b)
}

// BeyondBy reports whether a lies farther than b by more than eps.
func (c DepthCompare) BeyondBy(a, b, eps float32) bool {
	if c == DepthGreater {
		return a < b-eps
	}
	return a > b+eps
}
