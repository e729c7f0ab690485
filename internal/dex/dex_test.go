package dex

import (
	"encoding/binary"
	"runtime"
	"strings"
	"testing"

	"github.com/apk-analysis/apk-risk-analyzer/internal/dex/dextest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRead_Tables 测试符号表解析
func TestRead_Tables(t *testing.T) {
	tables := Read(dextest.Sample())

	require.Empty(t, tables.Error)
	assert.Equal(t, "035", tables.Version)
	assert.Len(t, tables.Strings, 5)
	assert.Equal(t, "10.0.0.1", tables.Strings[4])
	assert.Equal(t, []string{"Lcom/example/Main;", "Ldalvik/system/DexClassLoader;"}, tables.Types)
	assert.Equal(t, []string{
		"Ldalvik/system/DexClassLoader;-><init>",
		"Lcom/example/Main;->onCreate",
	}, tables.Methods)
	assert.Equal(t, []string{"Lcom/example/Main;"}, tables.ClassNames)
	assert.Empty(t, tables.Fields)
}

// TestRead_EmptyBuffer 测试空输入
func TestRead_EmptyBuffer(t *testing.T) {
	for _, b := range [][]byte{nil, {}} {
		tables := Read(b)
		assert.Equal(t, ErrEmptyBuffer, tables.Error)
		assert.NotNil(t, tables.Strings)
		assert.Empty(t, tables.Methods)
	}
}

// TestRead_InvalidMagic 测试错误魔数
func TestRead_InvalidMagic(t *testing.T) {
	inputs := [][]byte{
		[]byte("PK\x03\x04rest"),
		[]byte("dey\n035"),
		[]byte("de"),
	}
	for _, b := range inputs {
		tables := Read(b)
		assert.Equal(t, ErrInvalidMagic, tables.Error)
		assert.Empty(t, tables.Strings)
		assert.Empty(t, tables.Types)
		assert.Empty(t, tables.Fields)
		assert.Empty(t, tables.Methods)
		assert.Empty(t, tables.ClassNames)
	}
}

// TestRead_ZeroHeader 测试魔数正确但头部字段全零
func TestRead_ZeroHeader(t *testing.T) {
	buf := make([]byte, 0x70)
	copy(buf, "dex\n")

	tables := Read(buf)
	assert.Empty(t, tables.Error)
	assert.NotNil(t, tables.Strings)
	assert.NotNil(t, tables.Types)
	assert.NotNil(t, tables.Fields)
	assert.NotNil(t, tables.Methods)
	assert.NotNil(t, tables.ClassNames)
	assert.Empty(t, tables.Strings)
}

// TestRead_Truncated 测试截断输入返回部分结果
func TestRead_Truncated(t *testing.T) {
	full := dextest.Sample()
	for n := 4; n <= len(full); n++ {
		assert.NotPanics(t, func() {
			tables := Read(full[:n])
			assert.Empty(t, tables.Error)
		})
	}
}

// TestRead_HugeCounts 测试头部声明超大表长度
func TestRead_HugeCounts(t *testing.T) {
	buf := make([]byte, 0x80)
	copy(buf, "dex\n035\x00")
	binary.LittleEndian.PutUint32(buf[0x28:], endianConstant)
	binary.LittleEndian.PutUint32(buf[0x38:], 0xffffffff)
	binary.LittleEndian.PutUint32(buf[0x3c:], 0x70)
	binary.LittleEndian.PutUint32(buf[0x58:], 0xffffffff)
	binary.LittleEndian.PutUint32(buf[0x5c:], 0xfffffff0)

	tables := Read(buf)
	assert.Len(t, tables.Strings, 4)
	assert.Empty(t, tables.Methods)
}

// TestDecodeULEB128 测试 ULEB128 解码
func TestDecodeULEB128(t *testing.T) {
	tests := []struct {
		in    []byte
		value uint32
		n     int
	}{
		{[]byte{0x00}, 0, 1},
		{[]byte{0x7f}, 127, 1},
		{[]byte{0x80, 0x01}, 128, 2},
		{[]byte{0xe5, 0x8e, 0x26}, 624485, 3},
		{[]byte{0x80}, 0, 1},
	}
	for _, tt := range tests {
		v, n := decodeULEB128(tt.in)
		assert.Equal(t, tt.value, v)
		assert.Equal(t, tt.n, n)
	}
}

// allocatedBy 返回 f 执行期间的累计分配字节数
func allocatedBy(f func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	f()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

// sharedRunDex 所有 string_id 指向同一段不含 NUL 的数据
// 唯一的类型和每个方法都引用 0 号字符串
func sharedRunDex(ids int, length []byte, run int, methods int) []byte {
	le := binary.LittleEndian
	stringIDsOff := 0x70
	typeIDsOff := stringIDsOff + 4*ids
	methodIDsOff := typeIDsOff + 4
	dataOff := methodIDsOff + 8*methods

	buf := make([]byte, dataOff+len(length)+run)
	copy(buf, "dex\n035\x00")
	le.PutUint32(buf[0x28:], endianConstant)
	le.PutUint32(buf[0x38:], uint32(ids))
	le.PutUint32(buf[0x3c:], uint32(stringIDsOff))
	le.PutUint32(buf[0x40:], 1)
	le.PutUint32(buf[0x44:], uint32(typeIDsOff))
	le.PutUint32(buf[0x58:], uint32(methods))
	le.PutUint32(buf[0x5c:], uint32(methodIDsOff))
	for i := 0; i < ids; i++ {
		le.PutUint32(buf[stringIDsOff+4*i:], uint32(dataOff))
	}
	copy(buf[dataOff:], length)
	for i := dataOff + len(length); i < len(buf); i++ {
		buf[i] = 'A'
	}
	return buf
}

// tablesSize 所有表中字符串的总长度
func tablesSize(t *Tables) int {
	n := 0
	for _, table := range [][]string{t.Strings, t.Types, t.Fields, t.Methods, t.ClassNames} {
		for _, s := range table {
			n += len(s)
		}
	}
	return n
}

// TestRead_SharedStringRun 测试大量 string_id 共享一段无终止符的数据
func TestRead_SharedStringRun(t *testing.T) {
	const ids, run, methods = 12500, 50000, 12500

	t.Run("length prefix bounds the string", func(t *testing.T) {
		data := sharedRunDex(ids, []byte{0x04}, run, methods)

		var tables *Tables
		alloc := allocatedBy(func() { tables = Read(data) })

		require.Len(t, tables.Strings, ids)
		short := strings.Repeat("A", 12)
		assert.Equal(t, short, tables.Strings[0])
		assert.Equal(t, short, tables.Strings[ids-1])
		require.Len(t, tables.Methods, methods)
		assert.Equal(t, short+"->"+short, tables.Methods[methods-1])
		assert.Less(t, alloc, uint64(tableFactor*len(data)+tableSlack))
	})

	t.Run("oversized length prefix", func(t *testing.T) {
		data := sharedRunDex(ids, []byte{0xff, 0xff, 0xff, 0x7f}, run, methods)

		var tables *Tables
		alloc := allocatedBy(func() { tables = Read(data) })

		require.Len(t, tables.Strings, ids)
		assert.Len(t, tables.Strings[0], run)
		assert.Empty(t, tables.Strings[ids-1])
		assert.Empty(t, tables.Methods[methods-1])
		assert.LessOrEqual(t, tablesSize(tables), tableFactor*len(data)+tableSlack)
		assert.Less(t, alloc, uint64(tableFactor*len(data)+tableSlack))
	})
}

// FuzzRead 任意输入都不应 panic，表总长度与输入长度成正比
func FuzzRead(f *testing.F) {
	f.Add(dextest.Sample())
	f.Add(sharedRunDex(64, []byte{0x7f}, 256, 64))
	f.Add([]byte("dex\n035\x00"))

	f.Fuzz(func(t *testing.T, data []byte) {
		tables := Read(data)
		require.NotNil(t, tables)
		assert.LessOrEqual(t, tablesSize(tables), tableFactor*len(data)+tableSlack)
	})
}
