package buffer

import (
	"github.com/Allenxuxu/ringbuffer"
	"github.com/Allenxuxu/ringbuffer/pool"
	"github.com/panjf2000/gnet/pool/bytebuffer"
	"golang.org/x/sys/unix"
)

// Buffer is the byte store carried by every connection: inbound bytes wait in
// it until the message callback consumes them, outbound bytes wait in it until
// the socket drains. It is a thin layer over a pooled ring buffer.
//
// A Buffer is only ever touched on its connection's loop goroutine.
type Buffer struct {
	ring *ringbuffer.RingBuffer
}

// Get takes a Buffer backed by a pooled ring.
func Get() *Buffer {
	return &Buffer{ring: pool.Get()}
}

// Put empties the backing ring and returns it to the pool. The Buffer must
// not be used after.
func Put(b *Buffer) {
	b.ring.RetrieveAll()
	pool.Put(b.ring)
	b.ring = nil
}

// Append copies p onto the tail.
func (this *Buffer) Append(p []byte) {
	_, _ = this.ring.Write(p)
}

// PeekAll returns the readable bytes in at most two spans without consuming
// them. The spans alias the ring; Retrieve invalidates them.
func (this *Buffer) PeekAll() (first []byte, end []byte) {
	return this.ring.PeekAll()
}

// Peek returns at most n readable bytes in two spans without consuming them.
func (this *Buffer) Peek(n int) (first []byte, end []byte) {
	return this.ring.Peek(n)
}

// ReadableBytes is the number of bytes waiting to be consumed.
func (this *Buffer) ReadableBytes() int {
	return this.ring.Length()
}

// IsEmpty ...
func (this *Buffer) IsEmpty() bool {
	return this.ring.IsEmpty()
}

// Retrieve consumes n readable bytes.
func (this *Buffer) Retrieve(n int) {
	this.ring.Retrieve(n)
}

// RetrieveAll consumes everything.
func (this *Buffer) RetrieveAll() {
	this.ring.RetrieveAll()
}

// RetrieveAllString consumes everything and returns it as one string,
// assembled through a pooled byte buffer so the two ring spans are joined
// without a second copy sticking around.
func (this *Buffer) RetrieveAllString() string {
	first, end := this.ring.PeekAll()
	bb := bytebuffer.Get()
	_, _ = bb.Write(first)
	_, _ = bb.Write(end)
	s := bb.String()
	bytebuffer.Put(bb)
	this.ring.RetrieveAll()
	return s
}

// ReadFromFd reads once from fd through scratch and appends whatever arrived.
// Routing the read through the caller's scratch slab bounds how much a single
// readable event can grow the ring. Returns the raw read result: n == 0 with
// a nil err means the peer closed; on a failed read n is 0 and err carries
// the errno.
func (this *Buffer) ReadFromFd(fd int, scratch []byte) (int, error) {
	n, err := unix.Read(fd, scratch)
	if n > 0 {
		_, _ = this.ring.Write(scratch[:n])
	}
	if n < 0 {
		n = 0
	}
	return n, err
}
