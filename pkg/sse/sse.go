// Package sse implements the observer side of pa-jail's output relay:
// each subscriber is a raw stream-socket connection pa-jail answers
// with a Server-Sent Events response, framing slices of the jail's
// combined pty output as they arrive. The socket's file descriptor is
// exposed directly (Fd) so the owning multiplexer can include it in its
// single poll(2) set rather than handing it to net.Conn's own I/O.
package sse

import (
	"fmt"

	"github.com/cs-jail/pa-jail/pkg/jbuffer"
)

// header is the fixed response pa-jail sends every subscriber before
// any event data: a bare 200 with the headers needed to keep
// intermediate proxies from buffering the stream.
const header = "HTTP/1.1 200 OK\r\n" +
	"Cache-Control: no-store\r\n" +
	"Content-Type: text/event-stream\r\n" +
	"X-Accel-Buffering: no\r\n" +
	"\r\n"

// Subscriber tracks one connected event-source client: its raw fd, an
// outbound jbuffer the multiplexer drains toward that fd, and the
// absolute offset into the jail's shared output stream this subscriber
// has already been sent.
type Subscriber struct {
	Fd       int
	Out      *jbuffer.Buffer
	OutOff   int64 // how much of Out has actually reached the client
	outputOf int64 // how far into the shared stream this subscriber has framed
}

// New creates a Subscriber starting at outputOffset into the shared
// output stream. The multiplexer passes the shared buffer's current
// head, so a new connection is first sent every byte still buffered.
func New(fd int, outputOffset int64) *Subscriber {
	return &Subscriber{
		Fd:       fd,
		Out:      jbuffer.New(4096),
		OutOff:   0,
		outputOf: outputOffset,
	}
}

// HeaderBytes returns the fixed SSE response header to write once, as
// soon as the connection is accepted.
func HeaderBytes() []byte {
	return []byte(header)
}

// FramedThrough returns how far into the shared output stream this
// subscriber has already been framed, for callers that need to know
// the slowest subscriber's floor before compacting the shared buffer.
func (s *Subscriber) FramedThrough() int64 { return s.outputOf }

// WriteEvent frames everything newly available in shared (from
// s.outputOf up to shared's current tail) as one SSE "data:" event
// appended to s.Out, and advances s.outputOf to match.
func (s *Subscriber) WriteEvent(shared *jbuffer.Buffer) {
	start := s.outputOf
	s.Out.Append([]byte(fmt.Sprintf(`data:{"offset":%d,"data":"`, start)))

	avail := shared.Bytes()
	relStart := int(start - shared.HeadOffset())
	if relStart < 0 {
		relStart = 0
	}
	if relStart > len(avail) {
		relStart = len(avail)
	}
	consumed := s.Out.AppendJSONChars(avail[relStart:])
	newOff := start + int64(consumed)

	s.Out.Append([]byte(fmt.Sprintf(`","end_offset":%d}`+"\nid:%d\n\n", newOff, newOff)))
	s.outputOf = newOff
}

// WriteDone appends the terminal "done" event pa-jail sends every
// subscriber once the jailed program has exited and all output has
// been flushed, after which the connection is closed.
func (s *Subscriber) WriteDone() {
	s.Out.Append([]byte(`data:{"done":true}` + "\n\n"))
}
