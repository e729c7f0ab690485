package axml

import (
	"errors"
	"fmt"
)

// ErrMalformed 块头部与实际内容不一致
var ErrMalformed = errors.New("malformed binary xml")

// XML 节点块类型
const (
	chunkNamespaceStart = 0x0100
	chunkNamespaceEnd   = 0x0101
	chunkText           = 0x0104
	chunkXMLMask        = 0x0100
)

// nodeHeaderSize 节点块头部（含行号和注释）
const nodeHeaderSize = 16

// xmlEscapeFactor 转义后单字节最多展开的倍数（& -> &amp;）
const xmlEscapeFactor = 6

// Validate 严格检查文档结构
// 块必须首尾相接地落在文档内，各类块的头部长度必须是固定值，
// 字符串池与属性数组不得越出所在块，按字符串长度估算的输出不得超过 Decode 的输出上限
func Validate(data []byte) error {
	c := cursor{buf: data}
	typ, ok := c.u16(0)
	if !ok || (typ != magicDocument && typ != magicLegacy) {
		return fmt.Errorf("%w: bad magic", ErrMalformed)
	}
	headerSize, _ := c.u16(2)
	total, ok := c.u32(4)
	if !ok || headerSize != chunkHeaderSize || int64(total) > int64(len(data)) || int64(total) < int64(headerSize) {
		return fmt.Errorf("%w: document size %d exceeds input %d", ErrMalformed, total, len(data))
	}

	v := &validator{c: c, limit: int64(outputFactor*len(data) + outputSlack)}
	pos := int(headerSize)
	end := int(total)
	for pos < end {
		if pos+chunkHeaderSize > end {
			return fmt.Errorf("%w: trailing %d bytes at 0x%x", ErrMalformed, end-pos, pos)
		}
		chunkType, _ := c.u16(pos)
		chunkHeader, _ := c.u16(pos + 2)
		size32, _ := c.u32(pos + 4)
		if size32 < chunkHeaderSize || int64(chunkHeader) > int64(size32) || int64(pos)+int64(size32) > int64(end) {
			return fmt.Errorf("%w: chunk 0x%04x at 0x%x overruns the document", ErrMalformed, chunkType, pos)
		}
		size := int(size32)

		var err error
		switch {
		case chunkType == ChunkStringPool:
			err = v.stringPool(pos, size)
		case chunkType == ChunkResourceMap:
			if chunkHeader != chunkHeaderSize || (size-chunkHeaderSize)%4 != 0 {
				err = fmt.Errorf("%w: resource map size %d", ErrMalformed, size)
			}
		case chunkType&chunkXMLMask != 0:
			if chunkHeader != nodeHeaderSize {
				err = fmt.Errorf("%w: node header size %d", ErrMalformed, chunkHeader)
				break
			}
			err = v.node(chunkType, pos, size)
		default:
			err = fmt.Errorf("%w: unknown chunk 0x%04x", ErrMalformed, chunkType)
		}
		if err != nil {
			return err
		}
		if v.output > v.limit {
			return fmt.Errorf("%w: decoded output would exceed %d bytes", ErrMalformed, v.limit)
		}
		pos += size
	}
	return nil
}

// validator 记录字符串长度和估算的输出量
type validator struct {
	c       cursor
	lengths []int64 // 每个字符串解码后的最大字节数
	depth   int64
	output  int64
	limit   int64
}

func (v *validator) stringPool(pos, size int) error {
	headerSize, _ := v.c.u16(pos + 2)
	count, _ := v.c.u32(pos + 8)
	styles, _ := v.c.u32(pos + 12)
	flags, _ := v.c.u32(pos + 16)
	stringsStart, _ := v.c.u32(pos + 20)
	stylesStart, ok := v.c.u32(pos + 24)
	if !ok || headerSize != stringPoolHeaderSize {
		return fmt.Errorf("%w: string pool header", ErrMalformed)
	}

	tables := int64(headerSize) + 4*int64(count) + 4*int64(styles)
	if tables > int64(size) || int64(stringsStart) > int64(size) || int64(stylesStart) > int64(size) {
		return fmt.Errorf("%w: string pool declares %d strings in a %d byte chunk", ErrMalformed, count, size)
	}
	if count > 0 && int64(stringsStart) < tables {
		return fmt.Errorf("%w: string data overlaps the offset table", ErrMalformed)
	}

	dataEnd := pos + size
	if styles > 0 && stylesStart > stringsStart {
		dataEnd = pos + int(stylesStart)
	}
	isUTF8 := flags&flagUTF8 != 0

	v.lengths = make([]int64, count)
	for i := range v.lengths {
		off, _ := v.c.u32(pos + int(headerSize) + i*4)
		start := int64(pos) + int64(stringsStart) + int64(off)
		if start >= int64(dataEnd) {
			return fmt.Errorf("%w: string %d starts outside the pool", ErrMalformed, i)
		}
		n, stop, ok := stringExtent(v.c, int(start), isUTF8)
		if !ok || stop > int64(dataEnd) {
			return fmt.Errorf("%w: string %d runs past the pool", ErrMalformed, i)
		}
		v.lengths[i] = n * xmlEscapeFactor
	}
	return nil
}

// stringExtent 返回字符串解码后的最大字节数和数据结束位置
func stringExtent(c cursor, pos int, isUTF8 bool) (int64, int64, bool) {
	if isUTF8 {
		first, ok := c.u8(pos)
		if !ok {
			return 0, 0, false
		}
		if first&0x80 != 0 {
			pos += 2
		} else {
			pos++
		}
		b, ok := c.u8(pos)
		if !ok {
			return 0, 0, false
		}
		n := int64(b)
		if b&0x80 != 0 {
			low, ok := c.u8(pos + 1)
			if !ok {
				return 0, 0, false
			}
			n = int64(b&0x7f)<<8 | int64(low)
			pos += 2
		} else {
			pos++
		}
		return n, int64(pos) + n, true
	}

	u, ok := c.u16(pos)
	if !ok {
		return 0, 0, false
	}
	n := int64(u)
	if u&0x8000 != 0 {
		low, ok := c.u16(pos + 2)
		if !ok {
			return 0, 0, false
		}
		n = int64(u&0x7fff)<<16 | int64(low)
		pos += 4
	} else {
		pos += 2
	}
	return 3 * n, int64(pos) + 2*n, true
}

func (v *validator) str(idx uint32) int64 {
	if int64(idx) < int64(len(v.lengths)) {
		return v.lengths[idx]
	}
	return 0
}

func (v *validator) node(chunkType uint16, pos, size int) error {
	if size < nodeHeaderSize+8 {
		return fmt.Errorf("%w: node chunk 0x%04x too short", ErrMalformed, chunkType)
	}

	switch chunkType {
	case ChunkStartTag:
		attrSize, _ := v.c.u16(pos + 26)
		attrCount, ok := v.c.u16(pos + 28)
		if !ok || size < nodeHeaderSize+20 {
			return fmt.Errorf("%w: start tag header", ErrMalformed)
		}
		stride := int64(attrSize)
		if stride < attrEntrySize {
			return fmt.Errorf("%w: attribute size %d", ErrMalformed, attrSize)
		}
		if nodeHeaderSize+20+int64(attrCount)*stride > int64(size) {
			return fmt.Errorf("%w: %d attributes overrun the start tag", ErrMalformed, attrCount)
		}

		// 命名空间会以 xmlns 声明和前缀两种形式出现
		nsIdx, _ := v.c.u32(pos + 16)
		nameIdx, _ := v.c.u32(pos + 20)
		v.output += 2*v.depth + v.str(nsIdx) + v.str(nameIdx) + 16
		base := pos + nodeHeaderSize + 20
		for i := 0; i < int(attrCount); i++ {
			a := base + i*int(stride)
			ns, _ := v.c.u32(a)
			name, _ := v.c.u32(a + 4)
			raw, _ := v.c.u32(a + 8)
			v.output += 2*v.str(ns) + v.str(name) + v.str(raw) + 32
		}
		v.depth++
	case ChunkEndTag:
		if v.depth > 0 {
			v.depth--
		}
		nameIdx, _ := v.c.u32(pos + 20)
		v.output += 2*v.depth + v.str(nameIdx) + 4
	case chunkText:
		idx, _ := v.c.u32(pos + 16)
		v.output += v.str(idx)
	case chunkNamespaceStart, chunkNamespaceEnd:
	default:
		return fmt.Errorf("%w: unknown node chunk 0x%04x", ErrMalformed, chunkType)
	}
	return nil
}
