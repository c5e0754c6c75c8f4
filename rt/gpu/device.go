package gpu

// Access is how a kernel uses a bound texture or buffer.
type Access uint8

const (
	AccessRead Access = iota
	AccessWrite
	AccessReadWrite
)

// Uniform is a kernel parameter block. Bytes returns its std140-compatible
// little-endian encoding.
type Uniform interface {
	Bytes() []byte
}

// Binding attaches one resource to a kernel slot. Exactly one of View,
// Buffer, Uniform or Sampler is set.
type Binding struct {
	Slot    uint32
	Access  Access
	View    TextureView
	Buffer  Buffer
	Offset  uint64
	Size    uint64
	Uniform Uniform
	Sampler Sampler
}

func TextureRead(slot uint32, v TextureView) Binding {
	return Binding{Slot: slot, View: v, Access: AccessRead}
}

func TextureWrite(slot uint32, v TextureView) Binding {
	return Binding{Slot: slot, View: v, Access: AccessWrite}
}

// StorageBuffer binds a whole buffer.
func StorageBuffer(slot uint32, b Buffer, access Access) Binding {
	return Binding{Slot: slot, Buffer: b, Access: access, Size: b.Descriptor().Size}
}

// BufferRange binds [offset, offset+size) of a buffer.
func BufferRange(slot uint32, b Buffer, offset, size uint64, access Access) Binding {
	return Binding{Slot: slot, Buffer: b, Offset: offset, Size: size, Access: access}
}

func UniformData(slot uint32, u Uniform) Binding {
	return Binding{Slot: slot, Uniform: u, Access: AccessRead}
}

func SamplerBinding(slot uint32, s Sampler) Binding {
	return Binding{Slot: slot, Sampler: s}
}

// Kernel names a compute entry point and its workgroup shape. Backends look
// the name up in their own registry (WGSL module or CPU function).
type Kernel struct {
	Name          string
	WorkgroupSize [3]uint32
}

// Groups returns the workgroup count covering x*y*z invocations.
func (k Kernel) Groups(x, y, z uint32) [3]uint32 {
	div := func(n, d uint32) uint32 {
		if d == 0 {
			d = 1
		}
		return (n + d - 1) / d
	}
	return [3]uint32{div(x, k.WorkgroupSize[0]), div(y, k.WorkgroupSize[1]), div(z, k.WorkgroupSize[2])}
}

// Encoder records commands in submission order. Recording never fails
// eagerly; the first error is reported by Finish.
type Encoder interface {
	Dispatch(k Kernel, bindings []Binding, groups [3]uint32)
	// CopyTexture copies the base mip of src into the base mip of dst.
	CopyTexture(src, dst TextureView, size Extent3D)
	ClearBuffer(b Buffer, offset, size uint64)
	// ClearTexture fills every level of the view with color.
	ClearTexture(v TextureView, color [4]float32)
	// Blit scales src onto the surface frame.
	Blit(src TextureView, s Sampler, dst SurfaceFrame)
	Finish() (CommandBuffer, error)
}

type CommandBuffer interface {
	Release()
}

type Device interface {
	Name() string
	CreateTexture(TextureDescriptor) (Texture, error)
	CreateBuffer(BufferDescriptor) (Buffer, error)
	CreateSampler(SamplerDescriptor) (Sampler, error)
	WriteBuffer(b Buffer, offset uint64, data []byte) error
	// WriteTexture uploads tightly packed texels in the texture's format into
	// the base mip of v at origin.
	WriteTexture(v TextureView, origin [3]uint32, size Extent3D, data []byte) error
	// ReadBuffer blocks until all submitted work is done and returns a copy
	// of the range.
	ReadBuffer(b Buffer, offset, size uint64) ([]byte, error)
	NewEncoder(label string) Encoder
	Submit(cmds ...CommandBuffer) error
	WaitIdle() error
	Release()
}

type Surface interface {
	Configure(width, height uint32) error
	Acquire() (SurfaceFrame, error)
	Present(SurfaceFrame) error
	Format() TextureFormat
	Size() (uint32, uint32)
}

type SurfaceFrame interface {
	Width() uint32
	Height() uint32
	Release()
}
