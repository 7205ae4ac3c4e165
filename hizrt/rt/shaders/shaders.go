package shaders

import (
	_ "embed"
)

// FullscreenWGSL samples the frame texture at binding 0 with the sampler at
// binding 1 over a single fullscreen triangle.
//
//go:embed fullscreen.wgsl
var FullscreenWGSL string

// HiZReduceWGSL writes one pyramid level from the level below.
// Bindings: 0 source level, 1 destination storage texture, 2 params.
//
//go:embed hiz_reduce.wgsl
var HiZReduceWGSL string

//go:embed box_test.wgsl
var boxTestWGSL string

//go:embed instance_cull.wgsl
var instanceCullWGSL string

//go:embed octree_cull.wgsl
var octreeCullWGSL string

// InstanceCullWGSL returns the flat cull module, entry points fill_id_map and
// instance_cull.
func InstanceCullWGSL() string { return boxTestWGSL + "\n" + instanceCullWGSL }

// OctreeCullWGSL returns the octree module, entry points init_buffer,
// calc_args, node_test, gather_args and gather.
func OctreeCullWGSL() string { return boxTestWGSL + "\n" + octreeCullWGSL }
