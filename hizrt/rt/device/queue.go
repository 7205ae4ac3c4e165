package device

import (
	"sync"
)

type fenceCmd struct {
	fn   func()
	done chan struct{}
}

func (c *fenceCmd) execute(d *Device) {
	if c.fn != nil {
		c.fn()
	}
	close(c.done)
}

type writeBufferCmd struct {
	buf    *Buffer
	offset int
	data   []uint32
}

func (c *writeBufferCmd) execute(d *Device) {
	d.writes.Add(1)
	for i, w := range c.data {
		c.buf.Store(c.offset+i, w)
	}
}

type writeTextureCmd struct {
	view *TextureView
	data []uint32
}

func (c *writeTextureCmd) execute(d *Device) {
	d.writes.Add(1)
	copy(c.view.texels, c.data)
}

// Queue executes submitted work in order on a single executor goroutine.
type Queue struct {
	dev  *Device
	cmds chan command
	done chan struct{}

	mu     sync.RWMutex
	closed bool
}

func newQueue(d *Device) *Queue {
	q := &Queue{
		dev:  d,
		cmds: make(chan command, 256),
		done: make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *Queue) run() {
	defer close(q.done)
	var inflight sync.WaitGroup
	for c := range q.cmds {
		if dc, ok := c.(*dispatchCmd); ok {
			// Dispatches overlap until the next non-dispatch command.
			inflight.Add(1)
			go func() {
				defer inflight.Done()
				dc.execute(q.dev)
			}()
			continue
		}
		inflight.Wait()
		c.execute(q.dev)
	}
	inflight.Wait()
}

func (q *Queue) enqueue(cs ...command) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	for _, c := range cs {
		q.cmds <- c
	}
	return true
}

func (q *Queue) close() {
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.cmds)
	}
	q.mu.Unlock()
	<-q.done
}

// Submit enqueues command buffers. It does not wait for execution.
func (q *Queue) Submit(cbs ...*CommandBuffer) {
	for _, cb := range cbs {
		if cb == nil {
			continue
		}
		if q.enqueue(cb.cmds...) {
			q.dev.submits.Add(1)
		}
	}
}

// WriteBuffer copies data now and stores it into buf, offset in words, in queue order.
func (q *Queue) WriteBuffer(buf *Buffer, offset int, data []uint32) {
	q.enqueue(&writeBufferCmd{buf: buf, offset: offset, data: append([]uint32(nil), data...)})
}

// WriteTexture replaces the texels of one mip level, row-major.
func (q *Queue) WriteTexture(view *TextureView, data []uint32) {
	q.enqueue(&writeTextureCmd{view: view, data: append([]uint32(nil), data...)})
}

func (q *Queue) fence(fn func()) bool {
	c := &fenceCmd{fn: fn, done: make(chan struct{})}
	if !q.enqueue(c) {
		return false
	}
	<-c.done
	return true
}

// Finish blocks until all previously submitted work has completed.
func (q *Queue) Finish() {
	q.fence(nil)
}

// ReadBuffer waits for prior work and returns a copy of count words at offset.
// It returns nil once the device is released.
func (q *Queue) ReadBuffer(buf *Buffer, offset, count int) []uint32 {
	var out []uint32
	ok := q.fence(func() {
		out = make([]uint32, count)
		for i := range out {
			out[i] = buf.Load(offset + i)
		}
	})
	if !ok {
		return nil
	}
	q.dev.readbacks.Add(1)
	return out
}

// ReadTexture waits for prior work and returns a copy of one mip level, row-major.
func (q *Queue) ReadTexture(view *TextureView) []uint32 {
	var out []uint32
	ok := q.fence(func() {
		out = append([]uint32(nil), view.texels...)
	})
	if !ok {
		return nil
	}
	q.dev.readbacks.Add(1)
	return out
}
