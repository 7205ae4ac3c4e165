package kernels

import "github.com/gekko3d/hizcull/hizrt/rt/device"

// CullWorkgroup is the 1D workgroup size of the instance kernels.
const CullWorkgroup = 64

// Cull results layout.
const (
	CullTotal = iota
	CullVisible
	CullCulled
	CullResultWords
)

// Cull params layout.
const (
	CullParamIndexOffset = iota
	CullParamTotal
	CullParamWords
)

const (
	CullCameraBinding = iota
	CullHiZBinding
	CullBoxesBinding
	CullInBinding
	CullOutBinding
	CullResultsBinding
	CullParamsBinding
)

// FillIDMapDescriptor writes ids[i] = i for i < params.total.
func FillIDMapDescriptor() *device.ComputePipelineDescriptor {
	return &device.ComputePipelineDescriptor{
		Label:         "fill id map",
		Kernel:        fillIDMap,
		WorkgroupSize: [3]uint32{CullWorkgroup, 1, 1},
		Layout: []device.BindGroupLayoutEntry{
			{Binding: CullOutBinding, Type: device.BindingStorageBuffer},
			{Binding: CullParamsBinding, Type: device.BindingUniformBuffer},
		},
	}
}

func fillIDMap(inv *device.Invocation) {
	i := inv.GlobalID[0]
	if i >= inv.Buffer(CullParamsBinding).Load(CullParamTotal) {
		return
	}
	inv.Buffer(CullOutBinding).Store(int(i), i)
}

// InstanceCullDescriptor tests in[offset+i] for i < params.total. Visible ids
// are packed from the front of out, occluded ids from the back:
//
//	out[atomicAdd(visible)] = id
//	out[total-1-atomicAdd(culled)] = id
func InstanceCullDescriptor() *device.ComputePipelineDescriptor {
	return &device.ComputePipelineDescriptor{
		Label:         "instance cull",
		Kernel:        instanceCull,
		WorkgroupSize: [3]uint32{CullWorkgroup, 1, 1},
		Layout: []device.BindGroupLayoutEntry{
			{Binding: CullCameraBinding, Type: device.BindingUniformBuffer},
			{Binding: CullHiZBinding, Type: device.BindingSampledTexture},
			{Binding: CullBoxesBinding, Type: device.BindingStorageBuffer},
			{Binding: CullInBinding, Type: device.BindingStorageBuffer},
			{Binding: CullOutBinding, Type: device.BindingStorageBuffer},
			{Binding: CullResultsBinding, Type: device.BindingStorageBuffer},
			{Binding: CullParamsBinding, Type: device.BindingUniformBuffer},
		},
	}
}

func instanceCull(inv *device.Invocation) {
	params := inv.Buffer(CullParamsBinding)
	total := params.Load(CullParamTotal)
	i := inv.GlobalID[0]
	if i >= total {
		return
	}
	id := inv.Buffer(CullInBinding).Load(int(params.Load(CullParamIndexOffset) + i))
	cam := LoadCamera(inv.Buffer(CullCameraBinding))
	box := LoadBox(inv.Buffer(CullBoxesBinding), BoxWords*int(id))

	out := inv.Buffer(CullOutBinding)
	results := inv.Buffer(CullResultsBinding)
	if TestBox(&cam, inv.Texture(CullHiZBinding), box) {
		slot := results.AtomicAdd(CullVisible, 1)
		out.Store(int(slot), id)
		return
	}
	slot := results.AtomicAdd(CullCulled, 1)
	out.Store(int(total-1-slot), id)
}
