package wire

import (
	"encoding/binary"
	"fmt"
)

// payloadReader walks a frame payload; every read checks bounds.
type payloadReader struct {
	buf []byte
	pos int
}

func (r *payloadReader) pascal() (string, error) {
	if r.pos >= len(r.buf) {
		return "", fmt.Errorf("truncated pascal string at offset %d", r.pos)
	}
	size := int(r.buf[r.pos])
	r.pos++
	if r.pos+size > len(r.buf) {
		return "", fmt.Errorf("truncated pascal string at offset %d", r.pos)
	}
	s := string(r.buf[r.pos : r.pos+size])
	r.pos += size
	return s, nil
}

func (r *payloadReader) u32() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, fmt.Errorf("truncated u32 at offset %d", r.pos)
	}
	v := binary.LittleEndian.Uint32(r.buf[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *payloadReader) i64() (int64, error) {
	if r.pos+8 > len(r.buf) {
		return 0, fmt.Errorf("truncated i64 at offset %d", r.pos)
	}
	v := int64(binary.LittleEndian.Uint64(r.buf[r.pos:]))
	r.pos += 8
	return v, nil
}

func (r *payloadReader) slice() ([]byte, error) {
	size, err := r.u32()
	if err != nil {
		return nil, err
	}
	if r.pos+int(size) > len(r.buf) {
		return nil, fmt.Errorf("truncated byte slice at offset %d", r.pos)
	}
	content := r.buf[r.pos : r.pos+int(size)]
	r.pos += int(size)
	return content, nil
}

func (r *payloadReader) pascalList(count uint32) ([]string, error) {
	// The count is attacker-controlled; size the slice by what the
	// payload can actually hold.
	if int(count) > len(r.buf)-r.pos {
		return nil, fmt.Errorf("list count %d exceeds payload", count)
	}
	items := make([]string, 0, count)
	for i := uint32(0); i < count; i++ {
		item, err := r.pascal()
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

// GreetingCmd is the client's self-introduction. Name may carry an
// appended version after a semicolon.
type GreetingCmd struct {
	Name string
}

// SubscribeCmd subscribes the session to a table. AsNode marks a
// replica subscription, which suppresses expiration bookkeeping
// echoes.
type SubscribeCmd struct {
	Table  string
	AsNode bool
}

// UnsubscribeCmd removes a table subscription.
type UnsubscribeCmd struct {
	Table string
}

// PartitionsReadTimeCmd bumps partition read moments.
type PartitionsReadTimeCmd struct {
	ConfirmationID int64
	Table          string
	PartitionKeys  []string
}

// RowsReadTimeCmd bumps row read moments within one partition.
type RowsReadTimeCmd struct {
	ConfirmationID int64
	Table          string
	PartitionKey   string
	RowKeys        []string
}

// PartitionsExpirationCmd overrides partition expiration moments.
// Expires is micros; NoExpiration clears.
type PartitionsExpirationCmd struct {
	ConfirmationID int64
	Table          string
	PartitionKeys  []string
	Expires        int64
}

// RowsExpirationCmd overrides row expiration moments within one
// partition.
type RowsExpirationCmd struct {
	ConfirmationID int64
	Table          string
	PartitionKey   string
	RowKeys        []string
	Expires        int64
}

// PingCmd is the keep-alive probe.
type PingCmd struct{}

// DecodeCommand parses a client-to-server frame into its typed
// command.
func DecodeCommand(frame Frame) (interface{}, error) {
	r := &payloadReader{buf: frame.Payload}

	switch frame.Op {
	case OpPing:
		return PingCmd{}, nil

	case OpGreeting:
		name, err := r.pascal()
		if err != nil {
			return nil, err
		}
		return GreetingCmd{Name: name}, nil

	case OpSubscribe, OpSubscribeAsNode:
		table, err := r.pascal()
		if err != nil {
			return nil, err
		}
		return SubscribeCmd{Table: table, AsNode: frame.Op == OpSubscribeAsNode}, nil

	case OpUnsubscribe:
		table, err := r.pascal()
		if err != nil {
			return nil, err
		}
		return UnsubscribeCmd{Table: table}, nil

	case OpUpdatePartitionsLastReadTime:
		cmd := PartitionsReadTimeCmd{}
		var err error
		if cmd.ConfirmationID, err = r.i64(); err != nil {
			return nil, err
		}
		if cmd.Table, err = r.pascal(); err != nil {
			return nil, err
		}
		count, err := r.u32()
		if err != nil {
			return nil, err
		}
		if cmd.PartitionKeys, err = r.pascalList(count); err != nil {
			return nil, err
		}
		return cmd, nil

	case OpUpdateRowsLastReadTime:
		cmd := RowsReadTimeCmd{}
		var err error
		if cmd.ConfirmationID, err = r.i64(); err != nil {
			return nil, err
		}
		if cmd.Table, err = r.pascal(); err != nil {
			return nil, err
		}
		if cmd.PartitionKey, err = r.pascal(); err != nil {
			return nil, err
		}
		count, err := r.u32()
		if err != nil {
			return nil, err
		}
		if cmd.RowKeys, err = r.pascalList(count); err != nil {
			return nil, err
		}
		return cmd, nil

	case OpUpdatePartitionsExpirationTime:
		cmd := PartitionsExpirationCmd{}
		var err error
		if cmd.ConfirmationID, err = r.i64(); err != nil {
			return nil, err
		}
		if cmd.Table, err = r.pascal(); err != nil {
			return nil, err
		}
		count, err := r.u32()
		if err != nil {
			return nil, err
		}
		if cmd.PartitionKeys, err = r.pascalList(count); err != nil {
			return nil, err
		}
		if cmd.Expires, err = r.i64(); err != nil {
			return nil, err
		}
		return cmd, nil

	case OpUpdateRowsExpirationTime:
		cmd := RowsExpirationCmd{}
		var err error
		if cmd.ConfirmationID, err = r.i64(); err != nil {
			return nil, err
		}
		if cmd.Table, err = r.pascal(); err != nil {
			return nil, err
		}
		if cmd.PartitionKey, err = r.pascal(); err != nil {
			return nil, err
		}
		count, err := r.u32()
		if err != nil {
			return nil, err
		}
		if cmd.RowKeys, err = r.pascalList(count); err != nil {
			return nil, err
		}
		if cmd.Expires, err = r.i64(); err != nil {
			return nil, err
		}
		return cmd, nil
	}
	return nil, fmt.Errorf("unknown opcode %d", frame.Op)
}
