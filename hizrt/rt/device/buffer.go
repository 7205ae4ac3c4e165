package device

import (
	"math"
	"sync/atomic"

	"github.com/go-gl/mathgl/mgl32"
)

// BufferDescriptor sizes are in 32-bit words.
type BufferDescriptor struct {
	Label    string
	Size     int
	Contents []uint32
}

// Buffer is word-addressed storage. Accesses outside the buffer read zero and
// drop writes, like robust buffer access on hardware.
type Buffer struct {
	label string
	words []uint32
}

func (b *Buffer) Label() string { return b.label }

// Size in words.
func (b *Buffer) Size() int { return len(b.words) }

func (b *Buffer) inRange(i int) bool { return uint(i) < uint(len(b.words)) }

func (b *Buffer) Load(i int) uint32 {
	if !b.inRange(i) {
		return 0
	}
	return b.words[i]
}

func (b *Buffer) Store(i int, v uint32) {
	if b.inRange(i) {
		b.words[i] = v
	}
}

func (b *Buffer) LoadInt(i int) int32 { return int32(b.Load(i)) }

func (b *Buffer) LoadFloat(i int) float32 { return math.Float32frombits(b.Load(i)) }

func (b *Buffer) StoreFloat(i int, f float32) { b.Store(i, math.Float32bits(f)) }

func (b *Buffer) LoadVec3(i int) mgl32.Vec3 {
	return mgl32.Vec3{b.LoadFloat(i), b.LoadFloat(i + 1), b.LoadFloat(i + 2)}
}

// LoadMat4 reads 16 column-major floats.
func (b *Buffer) LoadMat4(i int) mgl32.Mat4 {
	var m mgl32.Mat4
	for k := range m {
		m[k] = b.LoadFloat(i + k)
	}
	return m
}

// AtomicAdd adds delta to word i and returns the previous value.
func (b *Buffer) AtomicAdd(i int, delta uint32) uint32 {
	if !b.inRange(i) {
		return 0
	}
	return atomic.AddUint32(&b.words[i], delta) - delta
}

func (b *Buffer) AtomicLoad(i int) uint32 {
	if !b.inRange(i) {
		return 0
	}
	return atomic.LoadUint32(&b.words[i])
}

// PutFloats encodes fs into dst starting at word 0 and returns the number of words written.
func PutFloats(dst []uint32, fs ...float32) int {
	n := 0
	for _, f := range fs {
		if n >= len(dst) {
			break
		}
		dst[n] = math.Float32bits(f)
		n++
	}
	return n
}

// PutMat4 encodes m column-major into dst[0:16].
func PutMat4(dst []uint32, m mgl32.Mat4) int {
	return PutFloats(dst, m[:]...)
}

// PutVec3 encodes v into dst[0:3].
func PutVec3(dst []uint32, v mgl32.Vec3) int {
	return PutFloats(dst, v[:]...)
}

func Float32Bits(f float32) uint32 { return math.Float32bits(f) }

func Float32FromBits(w uint32) float32 { return math.Float32frombits(w) }
