// Package device is a software compute accelerator with a WebGPU-shaped API.
//
// Kernels are Go functions run once per invocation. Workgroups of one dispatch
// run concurrently with no ordering guarantee. Commands are executed by the
// queue goroutine in submission order; consecutive dispatches with no
// MemoryBarrier (or other non-dispatch command) between them may overlap.
// The controller only blocks in Queue.ReadBuffer, Queue.ReadTexture and
// Queue.Finish.
package device

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

var (
	ErrInvalidPipeline  = errors.New("device: invalid compute pipeline")
	ErrInvalidBindGroup = errors.New("device: invalid bind group")
	ErrInvalidTexture   = errors.New("device: invalid texture")
	ErrInvalidCommand   = errors.New("device: invalid command")
	ErrDeviceReleased   = errors.New("device: released")
)

type Descriptor struct {
	Label string
	// Workers bounds the number of workgroups executing at once.
	// Zero means GOMAXPROCS.
	Workers int
}

type Device struct {
	label   string
	workers int
	sem     *semaphore.Weighted
	queue   *Queue

	submits    atomic.Uint64
	dispatches atomic.Uint64
	indirect   atomic.Uint64
	workgroups atomic.Uint64
	barriers   atomic.Uint64
	copies     atomic.Uint64
	writes     atomic.Uint64
	readbacks  atomic.Uint64

	releaseOnce sync.Once
}

// Stats are cumulative counters since device creation.
type Stats struct {
	Submits            uint64
	Dispatches         uint64
	IndirectDispatches uint64
	Workgroups         uint64
	Barriers           uint64
	Copies             uint64
	Writes             uint64
	Readbacks          uint64
}

// Add returns s + o field by field.
func (s Stats) Add(o Stats) Stats {
	return Stats{
		Submits:            s.Submits + o.Submits,
		Dispatches:         s.Dispatches + o.Dispatches,
		IndirectDispatches: s.IndirectDispatches + o.IndirectDispatches,
		Workgroups:         s.Workgroups + o.Workgroups,
		Barriers:           s.Barriers + o.Barriers,
		Copies:             s.Copies + o.Copies,
		Writes:             s.Writes + o.Writes,
		Readbacks:          s.Readbacks + o.Readbacks,
	}
}

// Sub returns s - o field by field.
func (s Stats) Sub(o Stats) Stats {
	return Stats{
		Submits:            s.Submits - o.Submits,
		Dispatches:         s.Dispatches - o.Dispatches,
		IndirectDispatches: s.IndirectDispatches - o.IndirectDispatches,
		Workgroups:         s.Workgroups - o.Workgroups,
		Barriers:           s.Barriers - o.Barriers,
		Copies:             s.Copies - o.Copies,
		Writes:             s.Writes - o.Writes,
		Readbacks:          s.Readbacks - o.Readbacks,
	}
}

func NewDevice(desc *Descriptor) *Device {
	if desc == nil {
		desc = &Descriptor{}
	}
	workers := desc.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	label := desc.Label
	if label == "" {
		label = "software device"
	}
	d := &Device{
		label:   label,
		workers: workers,
		sem:     semaphore.NewWeighted(int64(workers)),
	}
	d.queue = newQueue(d)
	return d
}

func (d *Device) Label() string { return d.label }

func (d *Device) Workers() int { return d.workers }

func (d *Device) GetQueue() *Queue { return d.queue }

func (d *Device) Stats() Stats {
	return Stats{
		Submits:            d.submits.Load(),
		Dispatches:         d.dispatches.Load(),
		IndirectDispatches: d.indirect.Load(),
		Workgroups:         d.workgroups.Load(),
		Barriers:           d.barriers.Load(),
		Copies:             d.copies.Load(),
		Writes:             d.writes.Load(),
		Readbacks:          d.readbacks.Load(),
	}
}

// Release drains the queue and stops the executor. Later submissions are dropped.
func (d *Device) Release() {
	d.releaseOnce.Do(func() {
		d.queue.close()
	})
}

func (d *Device) CreateBuffer(desc *BufferDescriptor) *Buffer {
	size := desc.Size
	if len(desc.Contents) > size {
		size = len(desc.Contents)
	}
	b := &Buffer{label: desc.Label, words: make([]uint32, size)}
	copy(b.words, desc.Contents)
	return b
}

func (d *Device) CreateTexture(desc *TextureDescriptor) (*Texture, error) {
	if desc.Width <= 0 || desc.Height <= 0 {
		return nil, fmt.Errorf("%w: %q has size %dx%d", ErrInvalidTexture, desc.Label, desc.Width, desc.Height)
	}
	mips := desc.MipLevelCount
	maxMips := MipLevelCount(desc.Width, desc.Height)
	if mips <= 0 {
		mips = 1
	}
	if mips > maxMips {
		return nil, fmt.Errorf("%w: %q asks for %d mip levels, at most %d", ErrInvalidTexture, desc.Label, mips, maxMips)
	}
	t := &Texture{label: desc.Label, format: desc.Format}
	w, h := desc.Width, desc.Height
	for i := 0; i < mips; i++ {
		t.levels = append(t.levels, &TextureView{
			tex:    t,
			level:  i,
			width:  w,
			height: h,
			texels: make([]uint32, w*h),
		})
		w, h = nextMip(w), nextMip(h)
	}
	return t, nil
}

func (d *Device) CreateComputePipeline(desc *ComputePipelineDescriptor) (*ComputePipeline, error) {
	if desc.Kernel == nil {
		return nil, fmt.Errorf("%w: %q has no kernel", ErrInvalidPipeline, desc.Label)
	}
	ws := desc.WorkgroupSize
	if ws[0] == 0 || ws[1] == 0 || ws[2] == 0 {
		return nil, fmt.Errorf("%w: %q has workgroup size %v", ErrInvalidPipeline, desc.Label, ws)
	}
	layout := &BindGroupLayout{entries: append([]BindGroupLayoutEntry(nil), desc.Layout...)}
	return &ComputePipeline{label: desc.Label, kernel: desc.Kernel, size: ws, layout: layout}, nil
}

func (d *Device) CreateBindGroup(desc *BindGroupDescriptor) (*BindGroup, error) {
	if desc.Layout == nil {
		return nil, fmt.Errorf("%w: %q has no layout", ErrInvalidBindGroup, desc.Label)
	}
	g := &BindGroup{label: desc.Label}
	for _, e := range desc.Entries {
		set := 0
		if e.Buffer != nil {
			set++
		}
		if e.Texture != nil {
			set++
		}
		if e.TextureView != nil {
			set++
		}
		if set != 1 {
			return nil, fmt.Errorf("%w: %q binding %d must reference exactly one resource", ErrInvalidBindGroup, desc.Label, e.Binding)
		}
		g.set(e)
	}
	for _, le := range desc.Layout.entries {
		e, ok := g.entry(le.Binding)
		if !ok {
			return nil, fmt.Errorf("%w: %q is missing binding %d", ErrInvalidBindGroup, desc.Label, le.Binding)
		}
		if !le.Type.accepts(e) {
			return nil, fmt.Errorf("%w: %q binding %d does not match %s", ErrInvalidBindGroup, desc.Label, le.Binding, le.Type)
		}
	}
	return g, nil
}

func (d *Device) CreateCommandEncoder(label string) *CommandEncoder {
	return &CommandEncoder{dev: d, label: label}
}

// runDispatch executes every workgroup of one dispatch and returns when all are done.
func (d *Device) runDispatch(p *ComputePipeline, g *BindGroup, groups [3]uint32) {
	total := int(groups[0]) * int(groups[1]) * int(groups[2])
	if total == 0 {
		return
	}
	d.workgroups.Add(uint64(total))
	ctx := context.Background()
	var wg sync.WaitGroup
	for gz := uint32(0); gz < groups[2]; gz++ {
		for gy := uint32(0); gy < groups[1]; gy++ {
			for gx := uint32(0); gx < groups[0]; gx++ {
				if err := d.sem.Acquire(ctx, 1); err != nil {
					wg.Wait()
					return
				}
				wg.Add(1)
				go func(id [3]uint32) {
					defer wg.Done()
					defer d.sem.Release(1)
					p.runWorkgroup(g, id, groups)
				}([3]uint32{gx, gy, gz})
			}
		}
	}
	wg.Wait()
}
