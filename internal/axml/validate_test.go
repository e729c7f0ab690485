package axml

import (
	"encoding/binary"
	"testing"

	"github.com/apk-analysis/apk-risk-analyzer/internal/axml/axmltest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// findChunk 返回文档中第一个 typ 类型块的偏移，没有时返回 -1
func findChunk(data []byte, typ uint16) int {
	pos := chunkHeaderSize
	for pos+chunkHeaderSize <= len(data) {
		if binary.LittleEndian.Uint16(data[pos:]) == typ {
			return pos
		}
		size := int(binary.LittleEndian.Uint32(data[pos+4:]))
		if size == 0 {
			return -1
		}
		pos += size
	}
	return -1
}

// TestValidate 测试结构检查
func TestValidate(t *testing.T) {
	le := binary.LittleEndian
	valid := axmltest.Manifest("com.example.app", "android.permission.CAMERA")
	require.NoError(t, Validate(valid))
	require.NoError(t, Validate(rawDocument(sharedUTF16Pool(4, 8), rawStartTag(0, attrEntrySize, 0, nil), rawEndTag(0))))

	tests := []struct {
		name   string
		mutate func(b []byte)
	}{
		{"document longer than input", func(b []byte) {
			le.PutUint32(b[4:], uint32(len(b)+4))
		}},
		{"document header size", func(b []byte) {
			le.PutUint16(b[2:], 16)
		}},
		{"pool count overruns chunk", func(b []byte) {
			le.PutUint32(b[chunkHeaderSize+8:], 0xffff)
		}},
		{"pool header size", func(b []byte) {
			le.PutUint16(b[chunkHeaderSize+2:], 32)
		}},
		{"string length overruns pool", func(b []byte) {
			first := chunkHeaderSize + int(le.Uint32(b[chunkHeaderSize+20:]))
			le.PutUint16(b[first:], 0xffff)
			le.PutUint16(b[first+2:], 0xffff)
		}},
		{"short attribute stride", func(b []byte) {
			le.PutUint16(b[findChunk(b, ChunkStartTag)+26:], 0)
		}},
		{"attribute count overruns tag", func(b []byte) {
			le.PutUint16(b[findChunk(b, ChunkStartTag)+28:], 0xffff)
		}},
		{"node header size", func(b []byte) {
			le.PutUint16(b[findChunk(b, ChunkEndTag)+2:], chunkHeaderSize)
		}},
		{"unknown chunk", func(b []byte) {
			le.PutUint16(b[findChunk(b, ChunkResourceMap):], 0x0200)
		}},
		{"chunk overruns document", func(b []byte) {
			p := findChunk(b, ChunkResourceMap)
			le.PutUint32(b[p+4:], le.Uint32(b[p+4:])+4)
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := append([]byte(nil), valid...)
			tt.mutate(data)
			assert.ErrorIs(t, Validate(data), ErrMalformed)
			assert.NotPanics(t, func() { Decode(data) })
		})
	}
}

// TestValidate_OutputEstimate 测试引用长字符串的属性过多时被拒绝
func TestValidate_OutputEstimate(t *testing.T) {
	const count, chars = 64, 4000
	var attrs []byte
	for i := 0; i < 2000; i++ {
		attrs = append(attrs, rawAttr(noIndex, 0, uint32(i%count), TypeString, 0)...)
	}
	data := rawDocument(sharedUTF16Pool(count, chars), rawStartTag(0, attrEntrySize, 2000, attrs), rawEndTag(0))

	assert.ErrorIs(t, Validate(data), ErrMalformed)
}
