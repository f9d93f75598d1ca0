package heap

// Object header layout. The first word of every object is its header:
//
//	 63                   32 31   24 23          8 7       0
//	+-----------------------+-------+-------------+---------+
//	|   pointer bitmap      | gen   |   length    | widetag |
//	+-----------------------+-------+-------------+---------+
//
// The length counts payload words, not including the header. The generation
// byte holds the generation number in its low four bits, the visited flag and
// the written flag. The written flag is set by the barrier on code objects so
// the collector can tell which of them are in the remembered set. The pointer
// bitmap is only meaningful for instances: bit i set means payload word i is a
// reference. Payload words past bit 31 take the value of bit 31.
type Header uint64

const (
	widetagMask = 0xff
	lengthShift = 8
	lengthMask  = 0xffff
	genShift    = 24
	bitmapShift = 32

	genBitsMask = 0x0f

	// VisitedFlag lives in the generation byte.
	VisitedFlag = 0x10

	// WrittenFlag lives in the generation byte.
	WrittenFlag = 0x40
)

// Widetags understood by the scavenge dispatch table.
const (
	FillerWidetag        = 0x01
	InstanceWidetag      = 0x31
	CodeWidetag          = 0x35
	BoxedVectorWidetag   = 0x45
	WeakVectorWidetag    = 0x49
	UnboxedVectorWidetag = 0x59
	WeakPointerWidetag   = 0x5d
)

// MaxLength is the longest payload a header can describe.
const MaxLength = lengthMask

// MakeHeader builds a header for a fresh object.
func MakeHeader(widetag uint8, length int, gen Gen, bitmap uint32) Header {
	return Header(uint64(widetag) |
		uint64(length&lengthMask)<<lengthShift |
		uint64(uint8(gen)&genBitsMask)<<genShift |
		uint64(bitmap)<<bitmapShift)
}

func (h Header) Widetag() uint8 {
	return uint8(h & widetagMask)
}

// Length returns the number of payload words.
func (h Header) Length() int {
	return int(h>>lengthShift) & lengthMask
}

// Words returns the number of words the whole object occupies.
func (h Header) Words() int {
	return AlignWords(1 + h.Length())
}

func (h Header) genByte() uint8 {
	return uint8(h >> genShift)
}

func (h Header) Gen() Gen {
	return Gen(h.genByte() & genBitsMask)
}

func (h Header) Visited() bool {
	return h.genByte()&VisitedFlag != 0
}

func (h Header) Written() bool {
	return h.genByte()&WrittenFlag != 0
}

func (h Header) Bitmap() uint32 {
	return uint32(h >> bitmapShift)
}

// WithGen assigns a new generation, clearing the visited flag and keeping the
// written flag and the upper bits of the byte.
func (h Header) WithGen(g Gen) Header {
	b := h.genByte()&0xe0 | uint8(g)&genBitsMask
	return h&^(0xff<<genShift) | Header(b)<<genShift
}

// WithVisited turns a grey object black.
func (h Header) WithVisited() Header {
	return h | VisitedFlag<<genShift
}

func (h Header) WithWritten() Header {
	return h | WrittenFlag<<genShift
}

func (h Header) WithoutWritten() Header {
	return h &^ (WrittenFlag << genShift)
}

// PointerAt reports whether payload word i of an instance holds a reference.
func (h Header) PointerAt(i int) bool {
	bm := h.Bitmap()
	if i >= 32 {
		return bm>>31 != 0
	}
	return (bm>>uint(i))&1 != 0
}

// PageTypeOf classifies a widetag into the page type its objects live on.
func PageTypeOf(widetag uint8) PageType {
	switch widetag {
	case UnboxedVectorWidetag:
		return PageUnboxed
	case CodeWidetag:
		return PageCode
	case InstanceWidetag:
		return PageMixed
	}
	return PageBoxed
}

// LowtagOf returns the lowtag references to objects of this widetag carry.
func LowtagOf(widetag uint8) uint8 {
	if widetag == InstanceWidetag {
		return InstanceLowtag
	}
	return OtherLowtag
}
