// Package dex 读取 DEX 字节码容器的符号表并扫描风险特征
package dex

import (
	"bytes"
	"encoding/binary"
)

// 解析错误
const (
	ErrEmptyBuffer  = "Empty buffer"
	ErrInvalidMagic = "Invalid DEX magic"
)

const (
	endianConstant  = 0x12345678
	stringIDSize    = 4
	typeIDSize      = 4
	memberIDSize    = 8
	classDefSize    = 32
	maxUleb128Bytes = 5
)

// 各表字符串总长度上限：输入长度的 tableFactor 倍再加 tableSlack
// 超出后其余条目为空串，扫描耗时因此与输入长度成正比
const (
	tableFactor = 16
	tableSlack  = 1 << 20
)

var magic = []byte("dex\n")

// Tables DEX 符号表
type Tables struct {
	Version    string   `json:"version,omitempty"` // 头部版本号，如 035
	Strings    []string `json:"strings"`
	Types      []string `json:"types"`
	Fields     []string `json:"fields"`
	Methods    []string `json:"methods"`
	ClassNames []string `json:"class_names"`
	Error      string   `json:"error,omitempty"`
}

func emptyTables(errMsg string) *Tables {
	return &Tables{
		Strings:    []string{},
		Types:      []string{},
		Fields:     []string{},
		Methods:    []string{},
		ClassNames: []string{},
		Error:      errMsg,
	}
}

// section 头部中的 size/offset 对
type section struct {
	size uint32
	off  uint32
}

// reader 带边界检查的 DEX 读取器
// text 是 buf 的一次性拷贝，字符串表直接切片共享其内存
type reader struct {
	buf    []byte
	text   string
	order  binary.ByteOrder
	budget int64
}

// charge 扣减剩余额度，不足时返回 false
func (r *reader) charge(n int) bool {
	if int64(n) > r.budget {
		r.budget = 0
		return false
	}
	r.budget -= int64(n)
	return true
}

func (r *reader) inRange(off int64, n int64) bool {
	return off >= 0 && off+n <= int64(len(r.buf))
}

func (r *reader) u16(off int64) uint16 {
	return r.order.Uint16(r.buf[off:])
}

func (r *reader) u32(off int64) uint32 {
	return r.order.Uint32(r.buf[off:])
}

func (r *reader) section(off int64) section {
	if !r.inRange(off, 8) {
		return section{}
	}
	return section{size: r.u32(off), off: r.u32(off + 4)}
}

// Read 解析 DEX 缓冲区
// 从不返回错误：非法输入时 Error 被设置且各表为空，截断时返回已解析部分
func Read(data []byte) *Tables {
	if len(data) == 0 {
		return emptyTables(ErrEmptyBuffer)
	}
	if len(data) < len(magic) || !bytes.Equal(data[:len(magic)], magic) {
		return emptyTables(ErrInvalidMagic)
	}

	r := &reader{
		buf:    data,
		text:   string(data),
		order:  binary.LittleEndian,
		budget: int64(tableFactor)*int64(len(data)) + tableSlack,
	}
	if r.inRange(0x28, 4) && r.u32(0x28) != endianConstant {
		r.order = binary.BigEndian
	}

	t := emptyTables("")
	if len(data) >= 7 {
		t.Version = string(data[4:7])
	}

	t.Strings = r.readStrings(r.section(0x38))
	t.Types = r.readTypes(r.section(0x40), t.Strings)
	t.Fields = r.readMembers(r.section(0x50), t.Types, t.Strings)
	t.Methods = r.readMembers(r.section(0x58), t.Types, t.Strings)
	t.ClassNames = r.readClassDefs(r.section(0x60), t.Types)
	return t
}

// capacity 表长度以缓冲区可容纳的条目数为上限
func (r *reader) capacity(s section, stride int) int {
	limit := len(r.buf) / stride
	if int64(s.size) < int64(limit) {
		return int(s.size)
	}
	return limit
}

func (r *reader) readStrings(s section) []string {
	out := make([]string, 0, r.capacity(s, stringIDSize))
	for i := int64(0); i < int64(s.size); i++ {
		entry := int64(s.off) + i*stringIDSize
		if !r.inRange(entry, stringIDSize) {
			break
		}
		dataOff := int64(r.u32(entry))
		if dataOff >= int64(len(r.buf)) {
			out = append(out, "")
			continue
		}
		out = append(out, r.readStringData(dataOff))
	}
	return out
}

// readStringData 跳过 ULEB128 长度前缀，读取到 NUL 为止
// 每个 UTF-16 单元最多 3 字节，长度前缀因此给出上界
// 直接按 UTF-8 处理，不做 MUTF-8 修正
func (r *reader) readStringData(off int64) string {
	units, n := decodeULEB128(r.buf[off:])
	start := off + int64(n)
	if start >= int64(len(r.buf)) {
		return ""
	}
	limit := start + 3*int64(units)
	if limit > int64(len(r.buf)) {
		limit = int64(len(r.buf))
	}
	// 额度之外不再查找 NUL，超长字符串在 charge 时被拒绝
	window := limit
	if start+r.budget < window {
		window = start + r.budget
	}
	end := limit
	if i := bytes.IndexByte(r.buf[start:window], 0); i >= 0 {
		end = start + int64(i)
	}
	if !r.charge(int(end - start)) {
		return ""
	}
	return r.text[start:end]
}

// decodeULEB128 解码无符号 LEB128 整数，返回值和占用字节数
func decodeULEB128(b []byte) (uint32, int) {
	var result uint32
	var shift uint
	n := 0
	for n < len(b) && n < maxUleb128Bytes {
		c := b[n]
		n++
		result |= uint32(c&0x7f) << shift
		if c&0x80 == 0 {
			break
		}
		shift += 7
	}
	return result, n
}

func (r *reader) readTypes(s section, strs []string) []string {
	out := make([]string, 0, r.capacity(s, typeIDSize))
	for i := int64(0); i < int64(s.size); i++ {
		entry := int64(s.off) + i*typeIDSize
		if !r.inRange(entry, typeIDSize) {
			break
		}
		out = append(out, r.share(lookup(strs, r.u32(entry))))
	}
	return out
}

// share 引用已有字符串，同样计入额度
func (r *reader) share(s string) string {
	if !r.charge(len(s)) {
		return ""
	}
	return s
}

// readMembers 解析 field_ids / method_ids，两者布局相同
func (r *reader) readMembers(s section, types, strs []string) []string {
	out := make([]string, 0, r.capacity(s, memberIDSize))
	for i := int64(0); i < int64(s.size); i++ {
		entry := int64(s.off) + i*memberIDSize
		if !r.inRange(entry, memberIDSize) {
			break
		}
		class := lookup(types, uint32(r.u16(entry)))
		name := lookup(strs, r.u32(entry+4))
		if !r.charge(len(class) + len(name) + 2) {
			out = append(out, "")
			continue
		}
		out = append(out, class+"->"+name)
	}
	return out
}

func (r *reader) readClassDefs(s section, types []string) []string {
	out := make([]string, 0, r.capacity(s, classDefSize))
	for i := int64(0); i < int64(s.size); i++ {
		entry := int64(s.off) + i*classDefSize
		if !r.inRange(entry, classDefSize) {
			break
		}
		out = append(out, r.share(lookup(types, r.u32(entry))))
	}
	return out
}

func lookup(table []string, idx uint32) string {
	if int64(idx) < int64(len(table)) {
		return table[idx]
	}
	return ""
}
