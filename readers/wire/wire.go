// Package wire implements the framed binary protocol spoken on the
// change-notification TCP port, plus the long-poll framing the HTTP
// reader surface shares with it.
//
// Each TCP frame is a little-endian u32 length followed by that many
// bytes: one opcode byte and the opcode's payload. Strings travel as
// pascal strings (one length byte, then the bytes). Exact payload
// layouts are pinned by the byte-level tests next to this file.
package wire

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Opcodes.
const (
	OpPing                           byte = 0
	OpPong                           byte = 1
	OpGreeting                       byte = 2
	OpSubscribe                      byte = 3
	OpInitTable                      byte = 4
	OpInitPartition                  byte = 5
	OpUpdateRows                     byte = 6
	OpDeleteRows                     byte = 7
	OpError                          byte = 8
	OpUnsubscribe                    byte = 9
	OpTableNotFound                  byte = 10
	OpSubscribeAsNode                byte = 11
	OpConfirmation                   byte = 12
	OpUpdatePartitionsLastReadTime   byte = 13
	OpUpdateRowsLastReadTime         byte = 14
	OpUpdatePartitionsExpirationTime byte = 15
	OpUpdateRowsExpirationTime       byte = 16
)

// MaxFrameSize caps a single frame; larger means a broken or hostile
// peer.
const MaxFrameSize = 32 << 20

// NoExpiration is the wire value of a cleared expiration moment.
const NoExpiration int64 = -1

// Frame is one decoded unit from the socket.
type Frame struct {
	Op      byte
	Payload []byte
}

// ErrFrameTooLarge reports a length prefix above MaxFrameSize.
var ErrFrameTooLarge = fmt.Errorf("frame exceeds %d bytes", MaxFrameSize)

// FrameReader decodes frames from a stream.
type FrameReader struct {
	r io.Reader
}

// NewFrameReader wraps a stream.
func NewFrameReader(r io.Reader) *FrameReader {
	return &FrameReader{r: r}
}

// Next reads one frame. io.EOF on a clean close between frames.
func (fr *FrameReader) Next() (Frame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(fr.r, lenBuf[:]); err != nil {
		return Frame{}, err
	}
	size := binary.LittleEndian.Uint32(lenBuf[:])
	if size == 0 {
		return Frame{}, fmt.Errorf("empty frame")
	}
	if size > MaxFrameSize {
		return Frame{}, ErrFrameTooLarge
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(fr.r, body); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return Frame{}, err
	}
	return Frame{Op: body[0], Payload: body[1:]}, nil
}

// builder accumulates one frame body.
type builder struct {
	buf []byte
}

func newBuilder(op byte) *builder {
	// Room for the length prefix, filled in by finish.
	return &builder{buf: []byte{0, 0, 0, 0, op}}
}

func (b *builder) pascal(s string) *builder {
	if len(s) > 255 {
		s = s[:255]
	}
	b.buf = append(b.buf, byte(len(s)))
	b.buf = append(b.buf, s...)
	return b
}

func (b *builder) u32(v uint32) *builder {
	b.buf = binary.LittleEndian.AppendUint32(b.buf, v)
	return b
}

func (b *builder) i64(v int64) *builder {
	b.buf = binary.LittleEndian.AppendUint64(b.buf, uint64(v))
	return b
}

func (b *builder) slice(content []byte) *builder {
	b.u32(uint32(len(content)))
	b.buf = append(b.buf, content...)
	return b
}

func (b *builder) finish() []byte {
	binary.LittleEndian.PutUint32(b.buf[:4], uint32(len(b.buf)-4))
	return b.buf
}

// Ping encodes a keep-alive probe.
func Ping() []byte { return newBuilder(OpPing).finish() }

// Pong encodes the keep-alive reply.
func Pong() []byte { return newBuilder(OpPong).finish() }

// Greeting encodes the client's self-introduction.
func Greeting(name string) []byte {
	return newBuilder(OpGreeting).pascal(name).finish()
}

// Subscribe encodes a table subscription request.
func Subscribe(table string) []byte {
	return newBuilder(OpSubscribe).pascal(table).finish()
}

// Unsubscribe encodes a table unsubscription request.
func Unsubscribe(table string) []byte {
	return newBuilder(OpUnsubscribe).pascal(table).finish()
}

// SubscribeAsNode encodes a node-replica subscription request.
func SubscribeAsNode(table string) []byte {
	return newBuilder(OpSubscribeAsNode).pascal(table).finish()
}

// InitTable encodes a full-snapshot push: the rows are the JSON array
// of every row payload in the table.
func InitTable(table string, rows []byte) []byte {
	return newBuilder(OpInitTable).pascal(table).slice(rows).finish()
}

// InitPartition encodes a whole-partition push. An empty JSON array
// means the partition is gone.
func InitPartition(table, pk string, rows []byte) []byte {
	return newBuilder(OpInitPartition).pascal(table).pascal(pk).slice(rows).finish()
}

// UpdateRows encodes inserted or replaced rows as a JSON array.
func UpdateRows(table string, rows []byte) []byte {
	return newBuilder(OpUpdateRows).pascal(table).slice(rows).finish()
}

// DeleteRows encodes removed rows as (pk, rk) pairs.
func DeleteRows(table string, keys [][2]string) []byte {
	b := newBuilder(OpDeleteRows).pascal(table).u32(uint32(len(keys)))
	for _, key := range keys {
		b.pascal(key[0]).pascal(key[1])
	}
	return b.finish()
}

// ErrorFrame encodes a command failure.
func ErrorFrame(message string) []byte {
	return newBuilder(OpError).pascal(message).finish()
}

// TableNotFound encodes a subscribe rejection.
func TableNotFound(table string) []byte {
	return newBuilder(OpTableNotFound).pascal(table).finish()
}

// Confirmation encodes the acknowledgement of a confirmable command.
func Confirmation(id int64) []byte {
	return newBuilder(OpConfirmation).i64(id).finish()
}

// UpdatePartitionsLastReadTime encodes the reader-side notice that
// partitions were served from its cache.
func UpdatePartitionsLastReadTime(id int64, table string, pks []string) []byte {
	b := newBuilder(OpUpdatePartitionsLastReadTime).i64(id).pascal(table).u32(uint32(len(pks)))
	for _, pk := range pks {
		b.pascal(pk)
	}
	return b.finish()
}

// UpdateRowsLastReadTime encodes the reader-side notice that rows were
// served from its cache.
func UpdateRowsLastReadTime(id int64, table, pk string, rks []string) []byte {
	b := newBuilder(OpUpdateRowsLastReadTime).i64(id).pascal(table).pascal(pk).u32(uint32(len(rks)))
	for _, rk := range rks {
		b.pascal(rk)
	}
	return b.finish()
}

// UpdatePartitionsExpirationTime encodes an expiration override for
// whole partitions. expires is micros; NoExpiration clears it.
func UpdatePartitionsExpirationTime(id int64, table string, pks []string, expires int64) []byte {
	b := newBuilder(OpUpdatePartitionsExpirationTime).i64(id).pascal(table).u32(uint32(len(pks)))
	for _, pk := range pks {
		b.pascal(pk)
	}
	b.i64(expires)
	return b.finish()
}

// UpdateRowsExpirationTime encodes an expiration override for rows in
// one partition.
func UpdateRowsExpirationTime(id int64, table, pk string, rks []string, expires int64) []byte {
	b := newBuilder(OpUpdateRowsExpirationTime).i64(id).pascal(table).pascal(pk).u32(uint32(len(rks)))
	for _, rk := range rks {
		b.pascal(rk)
	}
	b.i64(expires)
	return b.finish()
}
