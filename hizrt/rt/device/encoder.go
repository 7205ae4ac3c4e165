package device

import (
	"errors"
	"fmt"
)

type BarrierBits uint8

const (
	BarrierStorage BarrierBits = 1 << iota
	BarrierCommand
	BarrierImage

	BarrierAll = BarrierStorage | BarrierCommand | BarrierImage
)

type command interface {
	execute(d *Device)
}

type dispatchCmd struct {
	label    string
	pipeline *ComputePipeline
	group    *BindGroup
	groups   [3]uint32
	args     *Buffer
	argsOff  int
}

// resolve reads the workgroup counts. For indirect dispatches the argument
// buffer is read at execution time.
func (c *dispatchCmd) resolve() [3]uint32 {
	if c.args == nil {
		return c.groups
	}
	return [3]uint32{
		c.args.AtomicLoad(c.argsOff),
		c.args.AtomicLoad(c.argsOff + 1),
		c.args.AtomicLoad(c.argsOff + 2),
	}
}

func (c *dispatchCmd) execute(d *Device) {
	d.dispatches.Add(1)
	if c.args != nil {
		d.indirect.Add(1)
	}
	d.runDispatch(c.pipeline, c.group, c.resolve())
}

type barrierCmd struct{ bits BarrierBits }

func (c *barrierCmd) execute(d *Device) { d.barriers.Add(1) }

type copyTextureCmd struct{ src, dst *TextureView }

func (c *copyTextureCmd) execute(d *Device) {
	d.copies.Add(1)
	w := min(c.src.width, c.dst.width)
	h := min(c.src.height, c.dst.height)
	for y := 0; y < h; y++ {
		copy(c.dst.texels[y*c.dst.width:y*c.dst.width+w], c.src.texels[y*c.src.width:y*c.src.width+w])
	}
}

type copyBufferCmd struct {
	src, dst       *Buffer
	srcOff, dstOff int
	count          int
}

func (c *copyBufferCmd) execute(d *Device) {
	d.copies.Add(1)
	for i := 0; i < c.count; i++ {
		c.dst.Store(c.dstOff+i, c.src.Load(c.srcOff+i))
	}
}

type CommandBuffer struct {
	label string
	cmds  []command
}

func (cb *CommandBuffer) Label() string { return cb.label }

type CommandEncoder struct {
	dev   *Device
	label string
	cmds  []command
	pass  *ComputePassEncoder
	err   error
	done  bool
}

func (e *CommandEncoder) record(c command) {
	if e.done {
		e.fail(fmt.Errorf("%w: encoder %q already finished", ErrInvalidCommand, e.label))
		return
	}
	if e.pass != nil {
		e.fail(fmt.Errorf("%w: encoder %q has an open compute pass", ErrInvalidCommand, e.label))
		return
	}
	e.cmds = append(e.cmds, c)
}

func (e *CommandEncoder) fail(err error) {
	e.err = errors.Join(e.err, err)
}

func (e *CommandEncoder) BeginComputePass(label string) *ComputePassEncoder {
	if e.pass != nil {
		e.fail(fmt.Errorf("%w: encoder %q already has an open compute pass", ErrInvalidCommand, e.label))
	}
	p := &ComputePassEncoder{enc: e, label: label}
	e.pass = p
	return p
}

// MemoryBarrier makes all writes of earlier dispatches visible to later ones.
func (e *CommandEncoder) MemoryBarrier(bits BarrierBits) {
	e.record(&barrierCmd{bits: bits})
}

// CopyTextureToTexture copies the overlapping region of two mip levels.
func (e *CommandEncoder) CopyTextureToTexture(src, dst *TextureView) {
	if src == nil || dst == nil {
		e.fail(fmt.Errorf("%w: texture copy with nil view", ErrInvalidCommand))
		return
	}
	e.record(&copyTextureCmd{src: src, dst: dst})
}

func (e *CommandEncoder) CopyBufferToBuffer(src *Buffer, srcOff int, dst *Buffer, dstOff int, count int) {
	if src == nil || dst == nil {
		e.fail(fmt.Errorf("%w: buffer copy with nil buffer", ErrInvalidCommand))
		return
	}
	e.record(&copyBufferCmd{src: src, dst: dst, srcOff: srcOff, dstOff: dstOff, count: count})
}

func (e *CommandEncoder) Finish() (*CommandBuffer, error) {
	if e.pass != nil {
		e.fail(fmt.Errorf("%w: encoder %q finished with an open compute pass", ErrInvalidCommand, e.label))
	}
	e.done = true
	if e.err != nil {
		return nil, e.err
	}
	return &CommandBuffer{label: e.label, cmds: e.cmds}, nil
}

type ComputePassEncoder struct {
	enc      *CommandEncoder
	label    string
	pipeline *ComputePipeline
	group    *BindGroup
	cmds     []command
}

func (p *ComputePassEncoder) SetPipeline(pipeline *ComputePipeline) {
	p.pipeline = pipeline
}

func (p *ComputePassEncoder) SetBindGroup(index int, group *BindGroup) {
	if index != 0 {
		p.enc.fail(fmt.Errorf("%w: pass %q only supports bind group 0", ErrInvalidCommand, p.label))
		return
	}
	p.group = group
}

func (p *ComputePassEncoder) validate() bool {
	if p.pipeline == nil || p.group == nil {
		p.enc.fail(fmt.Errorf("%w: dispatch in pass %q without pipeline or bind group", ErrInvalidCommand, p.label))
		return false
	}
	return true
}

func (p *ComputePassEncoder) DispatchWorkgroups(x, y, z uint32) {
	if !p.validate() {
		return
	}
	p.cmds = append(p.cmds, &dispatchCmd{label: p.label, pipeline: p.pipeline, group: p.group, groups: [3]uint32{x, y, z}})
}

// DispatchWorkgroupsIndirect reads {x, y, z} from args at offset (in words)
// when the dispatch executes.
func (p *ComputePassEncoder) DispatchWorkgroupsIndirect(args *Buffer, offset int) {
	if !p.validate() {
		return
	}
	if args == nil {
		p.enc.fail(fmt.Errorf("%w: indirect dispatch in pass %q without argument buffer", ErrInvalidCommand, p.label))
		return
	}
	p.cmds = append(p.cmds, &dispatchCmd{label: p.label, pipeline: p.pipeline, group: p.group, args: args, argsOff: offset})
}

func (p *ComputePassEncoder) End() error {
	if p.enc.pass != p {
		return fmt.Errorf("%w: pass %q is not open", ErrInvalidCommand, p.label)
	}
	p.enc.pass = nil
	for _, c := range p.cmds {
		p.enc.record(c)
	}
	p.cmds = nil
	return nil
}
