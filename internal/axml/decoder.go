// Package axml 将 Android 二进制 XML (AXML) 还原为可读的 XML 文本
package axml

import (
	"encoding/binary"
	"strconv"
	"strings"
)

// 块类型
const (
	ChunkStringPool  = 0x0001
	ChunkDocument    = 0x0003
	ChunkStartTag    = 0x0102
	ChunkEndTag      = 0x0103
	ChunkResourceMap = 0x0180
)

// 文件头魔数（低 16 位）
const (
	magicDocument = 0x0003
	magicLegacy   = 0x0002
)

const chunkHeaderSize = 8

// attrEntrySize 单个属性记录的长度
const attrEntrySize = 20

// 输出上限：输入长度的 outputFactor 倍再加 outputSlack，超出后停止解码
const (
	outputFactor = 32
	outputSlack  = 1 << 20
)

// cursor 对只读缓冲区做带边界检查的小端读取
type cursor struct {
	buf []byte
}

func (c cursor) u8(off int) (uint8, bool) {
	if off < 0 || off >= len(c.buf) {
		return 0, false
	}
	return c.buf[off], true
}

func (c cursor) u16(off int) (uint16, bool) {
	if off < 0 || off+2 > len(c.buf) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(c.buf[off:]), true
}

func (c cursor) u32(off int) (uint32, bool) {
	if off < 0 || off+4 > len(c.buf) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(c.buf[off:]), true
}

func (c cursor) slice(off, n int) ([]byte, bool) {
	if off < 0 || n < 0 || off+n > len(c.buf) {
		return nil, false
	}
	return c.buf[off : off+n], true
}

// IsBinaryXML 判断缓冲区是否以 AXML 魔数开头
func IsBinaryXML(data []byte) bool {
	magic, ok := cursor{buf: data}.u16(0)
	return ok && (magic == magicDocument || magic == magicLegacy)
}

// decoder 单次解码状态
type decoder struct {
	c      cursor
	pool   []string
	resMap []uint32
	depth  int
	tags   []string
	out    strings.Builder
	limit  int
	budget int // 字符串池剩余可解码字节数
}

// Decode 将 AXML 字节解码为缩进的 XML 文本
// 魔数不匹配时返回 false；遇到截断或畸形块时停止并返回已解码部分
func Decode(data []byte) (string, bool) {
	if !IsBinaryXML(data) {
		return "", false
	}

	d := &decoder{
		c:      cursor{buf: data},
		limit:  outputFactor*len(data) + outputSlack,
		budget: poolBudget(len(data)),
	}
	d.run()
	return d.out.String(), true
}

func (d *decoder) run() {
	pos := 0
	for pos+chunkHeaderSize <= len(d.c.buf) && !d.full() {
		chunkType, _ := d.c.u16(pos)
		headerSize, _ := d.c.u16(pos + 2)
		chunkSize, _ := d.c.u32(pos + 4)

		// 文档块是容器，进入其内部继续解析子块
		if chunkType == ChunkDocument || (pos == 0 && chunkType == magicLegacy) {
			step := int(headerSize)
			if step < chunkHeaderSize {
				step = chunkHeaderSize
			}
			pos += step
			continue
		}

		if chunkSize == 0 || int64(pos)+int64(chunkSize) > int64(len(d.c.buf)) {
			return
		}
		size := int(chunkSize)

		switch chunkType {
		case ChunkStringPool:
			d.pool = parseStringPool(d.c, pos, size, &d.budget)
		case ChunkResourceMap:
			d.parseResourceMap(pos, int(headerSize), size)
		case ChunkStartTag:
			d.startTag(pos, size)
		case ChunkEndTag:
			d.endTag()
		}
		pos += size
	}
}

func (d *decoder) parseResourceMap(pos, headerSize, size int) {
	if headerSize < chunkHeaderSize {
		headerSize = chunkHeaderSize
	}
	n := (size - headerSize) / 4
	d.resMap = make([]uint32, 0, n)
	for i := 0; i < n; i++ {
		id, ok := d.c.u32(pos + headerSize + i*4)
		if !ok {
			return
		}
		d.resMap = append(d.resMap, id)
	}
}

func (d *decoder) str(idx uint32) (string, bool) {
	if idx == noIndex || int64(idx) >= int64(len(d.pool)) {
		return "", false
	}
	return d.pool[idx], true
}

// full 输出已超过上限
func (d *decoder) full() bool {
	return d.out.Len() > d.limit
}

// startTag 属性只在本块范围内读取，步长不足一条记录时按记录长度处理
func (d *decoder) startTag(pos, size int) {
	end := pos + size
	if pos+24 > end {
		return
	}
	nameIdx, ok := d.c.u32(pos + 20)
	if !ok {
		return
	}
	name, ok := d.str(nameIdx)
	if !ok || name == "" {
		name = "tag" + itoa(nameIdx)
	}

	attrStart, _ := d.c.u16(pos + 24)
	attrSize, _ := d.c.u16(pos + 26)
	attrCount, _ := d.c.u16(pos + 28)

	d.indent()
	d.out.WriteByte('<')
	d.out.WriteString(name)

	stride := int(attrSize)
	if stride < attrEntrySize {
		stride = attrEntrySize
	}
	if pos+30 > end {
		attrCount = 0
	}
	base := pos + 16 + int(attrStart)
	for i := 0; i < int(attrCount); i++ {
		a := base + i*stride
		if a+attrEntrySize > end || d.full() || !d.writeAttr(a) {
			break
		}
	}
	d.out.WriteString(">\n")

	d.tags = append(d.tags, name)
	d.depth++
}

// writeAttr 输出单个属性，越界时返回 false
func (d *decoder) writeAttr(a int) bool {
	nsIdx, ok1 := d.c.u32(a)
	nameIdx, ok2 := d.c.u32(a + 4)
	rawIdx, ok3 := d.c.u32(a + 8)
	dataType, ok4 := d.c.u8(a + 15)
	data, ok5 := d.c.u32(a + 16)
	if !(ok1 && ok2 && ok3 && ok4 && ok5) {
		return false
	}

	name := d.attrName(nameIdx)

	var value string
	if raw, ok := d.str(rawIdx); ok && dataType == TypeString {
		value = raw
	} else {
		value = formatValue(dataType, data, d.pool)
	}

	d.out.WriteByte(' ')
	if prefix := d.nsPrefix(nsIdx); prefix != "" {
		d.out.WriteString(prefix)
		d.out.WriteByte(':')
	}
	d.out.WriteString(name)
	d.out.WriteString(`="`)
	d.out.WriteString(value)
	d.out.WriteByte('"')
	return true
}

// attrName 资源映射表中的已知 ID 优先，其次是字符串池
func (d *decoder) attrName(idx uint32) string {
	if int64(idx) < int64(len(d.resMap)) {
		if known, ok := KnownAttributes[d.resMap[idx]]; ok {
			return known
		}
	}
	if name, ok := d.str(idx); ok && name != "" {
		return name
	}
	return "attr" + itoa(idx)
}

func (d *decoder) nsPrefix(idx uint32) string {
	uri, ok := d.str(idx)
	if !ok || uri == "" {
		return ""
	}
	if uri == AndroidNamespace {
		return "android"
	}
	uri = strings.TrimRight(uri, "/")
	if i := strings.LastIndexByte(uri, '/'); i >= 0 {
		return uri[i+1:]
	}
	return uri
}

func (d *decoder) endTag() {
	if len(d.tags) == 0 {
		return
	}
	name := d.tags[len(d.tags)-1]
	d.tags = d.tags[:len(d.tags)-1]
	d.depth--

	d.indent()
	d.out.WriteString("</")
	d.out.WriteString(name)
	d.out.WriteString(">\n")
}

func (d *decoder) indent() {
	for i := 0; i < d.depth; i++ {
		d.out.WriteString("  ")
	}
}

func itoa(v uint32) string {
	return strconv.FormatUint(uint64(v), 10)
}
