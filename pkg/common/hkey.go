package common

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"time"
)

// HKey is the ordered byte key locating a row within its group. Keys are
// memcmp-comparable: ancestor segments sort strictly before descendant ones.
type HKey []byte

const (
	tagNull  byte = 0x00
	tagFalse byte = 0x08
	tagTrue  byte = 0x09
	tagInt   byte = 0x10
	tagTime  byte = 0x18
	tagStr   byte = 0x20
)

func (k HKey) Compare(o HKey) int {
	return bytes.Compare(k, o)
}

func (k HKey) Equal(o HKey) bool {
	return bytes.Equal(k, o)
}

func (k HKey) Empty() bool {
	return len(k) == 0
}

func (k HKey) Clone() HKey {
	if k == nil {
		return nil
	}
	c := make(HKey, len(k))
	copy(c, k)
	return c
}

// HasPrefix reports whether o is an ancestor-or-self prefix of k.
func (k HKey) HasPrefix(o HKey) bool {
	return bytes.HasPrefix(k, o)
}

func (k HKey) String() string {
	return hex.EncodeToString(k)
}

// HKeyBuilder assembles an hKey segment by segment. One segment per table on
// the root-to-leaf path, each opened with the table's ordinal.
type HKeyBuilder struct {
	buf []byte
}

func NewHKeyBuilder() *HKeyBuilder {
	return &HKeyBuilder{buf: make([]byte, 0, 32)}
}

func (b *HKeyBuilder) BeginSegment(ordinal uint8) *HKeyBuilder {
	b.buf = append(b.buf, ordinal)
	return b
}

func (b *HKeyBuilder) AppendNull() *HKeyBuilder {
	b.buf = append(b.buf, tagNull)
	return b
}

func (b *HKeyBuilder) AppendBool(v bool) *HKeyBuilder {
	if v {
		b.buf = append(b.buf, tagTrue)
	} else {
		b.buf = append(b.buf, tagFalse)
	}
	return b
}

func (b *HKeyBuilder) AppendInt(v int64) *HKeyBuilder {
	b.buf = append(b.buf, tagInt)
	var enc [8]byte
	binary.BigEndian.PutUint64(enc[:], uint64(v)^(1<<63))
	b.buf = append(b.buf, enc[:]...)
	return b
}

func (b *HKeyBuilder) AppendTime(v time.Time) *HKeyBuilder {
	b.buf = append(b.buf, tagTime)
	var enc [8]byte
	binary.BigEndian.PutUint64(enc[:], uint64(v.UnixNano())^(1<<63))
	b.buf = append(b.buf, enc[:]...)
	return b
}

// AppendString escapes 0x00 so that key order matches string order and
// shorter prefixes sort first.
func (b *HKeyBuilder) AppendString(v string) *HKeyBuilder {
	b.buf = append(b.buf, tagStr)
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == 0x00 {
			b.buf = append(b.buf, 0x00, 0xFF)
		} else {
			b.buf = append(b.buf, c)
		}
	}
	b.buf = append(b.buf, 0x00, 0x01)
	return b
}

func (b *HKeyBuilder) Build() HKey {
	k := make(HKey, len(b.buf))
	copy(k, b.buf)
	return k
}

func (b *HKeyBuilder) Reset() {
	b.buf = b.buf[:0]
}
