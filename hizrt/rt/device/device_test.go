package device

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var storageLayout = []BindGroupLayoutEntry{{Binding: 0, Type: BindingStorageBuffer}}

func newTestDevice(t *testing.T) *Device {
	t.Helper()
	d := NewDevice(&Descriptor{Label: "test", Workers: 4})
	t.Cleanup(d.Release)
	return d
}

func counterPipeline(t *testing.T, d *Device) *ComputePipeline {
	t.Helper()
	p, err := d.CreateComputePipeline(&ComputePipelineDescriptor{
		Label:         "count",
		WorkgroupSize: [3]uint32{64, 1, 1},
		Layout:        storageLayout,
		Kernel: func(inv *Invocation) {
			buf := inv.Buffer(0)
			buf.AtomicAdd(0, 1)
			buf.Store(1+int(inv.GlobalID[0]), inv.GlobalID[0]+1)
		},
	})
	require.NoError(t, err)
	return p
}

func TestDispatchRunsEveryInvocation(t *testing.T) {
	d := newTestDevice(t)
	p := counterPipeline(t, d)
	buf := d.CreateBuffer(&BufferDescriptor{Label: "out", Size: 1 + 64*10})
	bg, err := d.CreateBindGroup(&BindGroupDescriptor{
		Layout:  p.GetBindGroupLayout(0),
		Entries: []BindGroupEntry{{Binding: 0, Buffer: buf}},
	})
	require.NoError(t, err)

	enc := d.CreateCommandEncoder("test")
	pass := enc.BeginComputePass("count")
	pass.SetPipeline(p)
	pass.SetBindGroup(0, bg)
	pass.DispatchWorkgroups(10, 1, 1)
	require.NoError(t, pass.End())
	cb, err := enc.Finish()
	require.NoError(t, err)
	d.GetQueue().Submit(cb)

	out := d.GetQueue().ReadBuffer(buf, 0, buf.Size())
	require.Len(t, out, 1+640)
	assert.Equal(t, uint32(640), out[0])
	for i := 0; i < 640; i++ {
		assert.Equal(t, uint32(i+1), out[1+i])
	}

	st := d.Stats()
	assert.Equal(t, uint64(1), st.Dispatches)
	assert.Equal(t, uint64(10), st.Workgroups)
	assert.Equal(t, uint64(1), st.Readbacks)
}

func TestIndirectDispatchReadsArgsAfterBarrier(t *testing.T) {
	d := newTestDevice(t)
	args := d.CreateBuffer(&BufferDescriptor{Label: "args", Size: 3})
	hits := d.CreateBuffer(&BufferDescriptor{Label: "hits", Size: 1})

	writeArgs, err := d.CreateComputePipeline(&ComputePipelineDescriptor{
		Label:         "args",
		WorkgroupSize: [3]uint32{1, 1, 1},
		Layout:        storageLayout,
		Kernel: func(inv *Invocation) {
			b := inv.Buffer(0)
			b.Store(0, 7)
			b.Store(1, 1)
			b.Store(2, 1)
		},
	})
	require.NoError(t, err)
	count, err := d.CreateComputePipeline(&ComputePipelineDescriptor{
		Label:         "hits",
		WorkgroupSize: [3]uint32{1, 1, 1},
		Layout:        storageLayout,
		Kernel:        func(inv *Invocation) { inv.Buffer(0).AtomicAdd(0, 1) },
	})
	require.NoError(t, err)
	argsBG, err := d.CreateBindGroup(&BindGroupDescriptor{Layout: writeArgs.GetBindGroupLayout(0), Entries: []BindGroupEntry{{Binding: 0, Buffer: args}}})
	require.NoError(t, err)
	hitsBG, err := d.CreateBindGroup(&BindGroupDescriptor{Layout: count.GetBindGroupLayout(0), Entries: []BindGroupEntry{{Binding: 0, Buffer: hits}}})
	require.NoError(t, err)

	enc := d.CreateCommandEncoder("indirect")
	pass := enc.BeginComputePass("args")
	pass.SetPipeline(writeArgs)
	pass.SetBindGroup(0, argsBG)
	pass.DispatchWorkgroups(1, 1, 1)
	require.NoError(t, pass.End())
	enc.MemoryBarrier(BarrierAll)
	pass = enc.BeginComputePass("hits")
	pass.SetPipeline(count)
	pass.SetBindGroup(0, hitsBG)
	pass.DispatchWorkgroupsIndirect(args, 0)
	require.NoError(t, pass.End())
	cb, err := enc.Finish()
	require.NoError(t, err)
	d.GetQueue().Submit(cb)

	assert.Equal(t, []uint32{7}, d.GetQueue().ReadBuffer(hits, 0, 1))
	st := d.Stats()
	assert.Equal(t, uint64(2), st.Dispatches)
	assert.Equal(t, uint64(1), st.IndirectDispatches)
	assert.Equal(t, uint64(1), st.Barriers)
}

func TestCreateComputePipeline_Invalid(t *testing.T) {
	d := newTestDevice(t)
	_, err := d.CreateComputePipeline(&ComputePipelineDescriptor{Label: "nil", WorkgroupSize: [3]uint32{1, 1, 1}})
	assert.ErrorIs(t, err, ErrInvalidPipeline)

	_, err = d.CreateComputePipeline(&ComputePipelineDescriptor{Label: "zero", Kernel: func(*Invocation) {}})
	assert.ErrorIs(t, err, ErrInvalidPipeline)
}

func TestCreateBindGroup_ValidatesLayout(t *testing.T) {
	d := newTestDevice(t)
	p := counterPipeline(t, d)
	tex, err := d.CreateTexture(&TextureDescriptor{Width: 4, Height: 4})
	require.NoError(t, err)

	_, err = d.CreateBindGroup(&BindGroupDescriptor{Layout: p.GetBindGroupLayout(0)})
	assert.ErrorIs(t, err, ErrInvalidBindGroup)

	_, err = d.CreateBindGroup(&BindGroupDescriptor{
		Layout:  p.GetBindGroupLayout(0),
		Entries: []BindGroupEntry{{Binding: 0, Texture: tex}},
	})
	assert.ErrorIs(t, err, ErrInvalidBindGroup)

	_, err = d.CreateBindGroup(&BindGroupDescriptor{
		Layout:  p.GetBindGroupLayout(0),
		Entries: []BindGroupEntry{{Binding: 0, Buffer: &Buffer{}, Texture: tex}},
	})
	assert.ErrorIs(t, err, ErrInvalidBindGroup)
}

func TestEncoder_DispatchWithoutPipelineFails(t *testing.T) {
	d := newTestDevice(t)
	enc := d.CreateCommandEncoder("bad")
	pass := enc.BeginComputePass("bad")
	pass.DispatchWorkgroups(1, 1, 1)
	require.NoError(t, pass.End())
	_, err := enc.Finish()
	assert.ErrorIs(t, err, ErrInvalidCommand)

	enc = d.CreateCommandEncoder("open")
	enc.BeginComputePass("never ended")
	_, err = enc.Finish()
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestTextureMipChain(t *testing.T) {
	assert.Equal(t, 1, MipLevelCount(1, 1))
	assert.Equal(t, 2, MipLevelCount(2, 1))
	assert.Equal(t, 4, MipLevelCount(5, 3))
	assert.Equal(t, 12, MipLevelCount(1600, 900))

	d := newTestDevice(t)
	tex, err := d.CreateTexture(&TextureDescriptor{Label: "chain", Width: 5, Height: 3, MipLevelCount: 4})
	require.NoError(t, err)
	sizes := [][2]int{{5, 3}, {3, 2}, {2, 1}, {1, 1}}
	for i, s := range sizes {
		v, err := tex.CreateView(i)
		require.NoError(t, err)
		assert.Equal(t, s[0], v.Width(), "level %d", i)
		assert.Equal(t, s[1], v.Height(), "level %d", i)
		w, h := MipSize(5, 3, i)
		assert.Equal(t, s, [2]int{w, h})
	}
	_, err = tex.CreateView(4)
	assert.ErrorIs(t, err, ErrInvalidTexture)

	_, err = d.CreateTexture(&TextureDescriptor{Width: 5, Height: 3, MipLevelCount: 5})
	assert.ErrorIs(t, err, ErrInvalidTexture)
	_, err = d.CreateTexture(&TextureDescriptor{Width: 0, Height: 3})
	assert.ErrorIs(t, err, ErrInvalidTexture)
}

func TestTextureView_RobustAccess(t *testing.T) {
	d := newTestDevice(t)
	tex, err := d.CreateTexture(&TextureDescriptor{Width: 2, Height: 2})
	require.NoError(t, err)
	v := tex.Level(0)
	v.StoreFloat(1, 1, 0.5)
	v.StoreFloat(5, 5, 1)
	assert.Equal(t, float32(0), v.LoadFloat(-1, 0))
	assert.Equal(t, float32(0.5), v.LoadFloatClamped(9, 9))
	assert.True(t, v.AtomicCompareAndSwap(0, 0, 0, 3))
	assert.False(t, v.AtomicCompareAndSwap(0, 0, 0, 4))
	assert.Equal(t, uint32(3), v.Load(0, 0))
}

func TestQueue_WriteCopyAndRead(t *testing.T) {
	d := newTestDevice(t)
	q := d.GetQueue()
	a := d.CreateBuffer(&BufferDescriptor{Size: 4})
	b := d.CreateBuffer(&BufferDescriptor{Size: 4})
	q.WriteBuffer(a, 1, []uint32{5, 6})

	src, err := d.CreateTexture(&TextureDescriptor{Width: 2, Height: 2})
	require.NoError(t, err)
	dst, err := d.CreateTexture(&TextureDescriptor{Width: 2, Height: 2, MipLevelCount: 2})
	require.NoError(t, err)
	q.WriteTexture(src.Level(0), []uint32{1, 2, 3, 4})

	enc := d.CreateCommandEncoder("copy")
	enc.CopyBufferToBuffer(a, 0, b, 0, 4)
	enc.CopyTextureToTexture(src.Level(0), dst.Level(0))
	cb, err := enc.Finish()
	require.NoError(t, err)
	q.Submit(cb)

	assert.Equal(t, []uint32{0, 5, 6, 0}, q.ReadBuffer(b, 0, 4))
	assert.Equal(t, []uint32{1, 2, 3, 4}, q.ReadTexture(dst.Level(0)))
	assert.Equal(t, uint64(2), d.Stats().Copies)
	assert.Equal(t, uint64(2), d.Stats().Readbacks)
}

func TestRelease_DropsLaterWork(t *testing.T) {
	d := NewDevice(nil)
	buf := d.CreateBuffer(&BufferDescriptor{Size: 1})
	d.Release()
	d.Release()
	d.GetQueue().WriteBuffer(buf, 0, []uint32{1})
	assert.Nil(t, d.GetQueue().ReadBuffer(buf, 0, 1))
	assert.Equal(t, uint32(0), buf.Load(0))
}

func TestBuffer_RobustAccess(t *testing.T) {
	b := &Buffer{words: make([]uint32, 2)}
	b.Store(5, 1)
	assert.Equal(t, uint32(0), b.Load(-1))
	assert.Equal(t, uint32(0), b.AtomicAdd(3, 1))
	assert.Equal(t, uint32(0), b.AtomicAdd(1, 2))
	assert.Equal(t, uint32(2), b.AtomicAdd(1, 2))
	b.StoreFloat(0, 1.5)
	assert.Equal(t, float32(1.5), b.LoadFloat(0))
}

func TestStats_AddSub(t *testing.T) {
	a := Stats{Submits: 2, Dispatches: 5, IndirectDispatches: 1, Readbacks: 3}
	b := Stats{Submits: 1, Dispatches: 2, Workgroups: 8, Readbacks: 1}
	sum := a.Add(b)
	assert.Equal(t, Stats{Submits: 3, Dispatches: 7, IndirectDispatches: 1, Workgroups: 8, Readbacks: 4}, sum)
	assert.Equal(t, a, sum.Sub(b))
}
