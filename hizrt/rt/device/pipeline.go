package device

import "fmt"

// Kernel is the body of a compute shader, run once per invocation.
// inv is reused between invocations of a workgroup and must not be retained.
type Kernel func(inv *Invocation)

type BindingType uint8

const (
	BindingUniformBuffer BindingType = iota
	BindingStorageBuffer
	// BindingSampledTexture binds a whole mip chain.
	BindingSampledTexture
	// BindingStorageTexture binds a single mip level.
	BindingStorageTexture
)

func (t BindingType) String() string {
	switch t {
	case BindingUniformBuffer:
		return "uniform buffer"
	case BindingStorageBuffer:
		return "storage buffer"
	case BindingSampledTexture:
		return "sampled texture"
	case BindingStorageTexture:
		return "storage texture"
	}
	return fmt.Sprintf("BindingType(%d)", uint8(t))
}

func (t BindingType) accepts(e BindGroupEntry) bool {
	switch t {
	case BindingUniformBuffer, BindingStorageBuffer:
		return e.Buffer != nil
	case BindingSampledTexture:
		return e.Texture != nil
	case BindingStorageTexture:
		return e.TextureView != nil
	}
	return false
}

type BindGroupLayoutEntry struct {
	Binding uint32
	Type    BindingType
}

type BindGroupLayout struct {
	entries []BindGroupLayoutEntry
}

type ComputePipelineDescriptor struct {
	Label         string
	Kernel        Kernel
	WorkgroupSize [3]uint32
	Layout        []BindGroupLayoutEntry
}

type ComputePipeline struct {
	label  string
	kernel Kernel
	size   [3]uint32
	layout *BindGroupLayout
}

func (p *ComputePipeline) Label() string            { return p.label }
func (p *ComputePipeline) WorkgroupSize() [3]uint32 { return p.size }

func (p *ComputePipeline) GetBindGroupLayout(group int) *BindGroupLayout {
	if group != 0 {
		return nil
	}
	return p.layout
}

func (p *ComputePipeline) runWorkgroup(g *BindGroup, wgID, groups [3]uint32) {
	inv := Invocation{
		WorkgroupID:   wgID,
		NumWorkgroups: groups,
		group:         g,
	}
	for lz := uint32(0); lz < p.size[2]; lz++ {
		for ly := uint32(0); ly < p.size[1]; ly++ {
			for lx := uint32(0); lx < p.size[0]; lx++ {
				inv.LocalID = [3]uint32{lx, ly, lz}
				inv.GlobalID = [3]uint32{
					wgID[0]*p.size[0] + lx,
					wgID[1]*p.size[1] + ly,
					wgID[2]*p.size[2] + lz,
				}
				inv.LocalIndex = (lz*p.size[1]+ly)*p.size[0] + lx
				p.kernel(&inv)
			}
		}
	}
}

type BindGroupEntry struct {
	Binding     uint32
	Buffer      *Buffer
	Texture     *Texture
	TextureView *TextureView
}

type BindGroupDescriptor struct {
	Label   string
	Layout  *BindGroupLayout
	Entries []BindGroupEntry
}

type BindGroup struct {
	label   string
	entries []BindGroupEntry
}

func (g *BindGroup) Label() string { return g.label }

func (g *BindGroup) set(e BindGroupEntry) {
	for i := range g.entries {
		if g.entries[i].Binding == e.Binding {
			g.entries[i] = e
			return
		}
	}
	g.entries = append(g.entries, e)
}

func (g *BindGroup) entry(binding uint32) (BindGroupEntry, bool) {
	for _, e := range g.entries {
		if e.Binding == binding {
			return e, true
		}
	}
	return BindGroupEntry{}, false
}

// Invocation is the view one kernel invocation has of the dispatch.
type Invocation struct {
	GlobalID      [3]uint32
	LocalID       [3]uint32
	LocalIndex    uint32
	WorkgroupID   [3]uint32
	NumWorkgroups [3]uint32

	group *BindGroup
}

// Buffer returns the buffer bound at binding, or nil.
func (inv *Invocation) Buffer(binding uint32) *Buffer {
	e, _ := inv.group.entry(binding)
	return e.Buffer
}

// Texture returns the mip chain bound at binding, or nil.
func (inv *Invocation) Texture(binding uint32) *Texture {
	e, _ := inv.group.entry(binding)
	return e.Texture
}

// View returns the single-level view bound at binding, or nil.
func (inv *Invocation) View(binding uint32) *TextureView {
	e, _ := inv.group.entry(binding)
	return e.TextureView
}
