package axml

import "unicode/utf16"

// 字符串池标志位
const flagUTF8 = 1 << 8

// stringPoolHeaderSize ResStringPool_header 固定长度
const stringPoolHeaderSize = 28

// 字符串池可解码的总字节数上限，按输入长度计算
const (
	poolFactor = 4
	poolSlack  = 64 << 10
)

func poolBudget(inputLen int) int {
	return poolFactor*inputLen + poolSlack
}

// parseStringPool 解析字符串池块
// 任何越界的字符串都以空串代替，保证索引与池位置对齐
// 相同偏移只解码一次；budget 用尽后其余字符串为空串
func parseStringPool(c cursor, off int, chunkSize int, budget *int) []string {
	headerSize, _ := c.u16(off + 2)
	count, ok := c.u32(off + 8)
	if !ok {
		return nil
	}
	flags, _ := c.u32(off + 16)
	stringsStart, _ := c.u32(off + 20)
	isUTF8 := flags&flagUTF8 != 0

	tableOff := off + stringPoolHeaderSize
	if int(headerSize) > stringPoolHeaderSize {
		tableOff = off + int(headerSize)
	}

	// 偏移表不可能超出块本身
	maxCount := (off + chunkSize - tableOff) / 4
	if maxCount < 0 {
		maxCount = 0
	}
	if int64(count) > int64(maxCount) {
		count = uint32(maxCount)
	}

	base := off + int(stringsStart)
	pool := make([]string, 0, count)
	seen := make(map[int]string)
	for i := 0; i < int(count); i++ {
		strOff, ok := c.u32(tableOff + i*4)
		if !ok {
			pool = append(pool, "")
			continue
		}
		pos := base + int(strOff)
		if s, ok := seen[pos]; ok {
			pool = append(pool, s)
			continue
		}

		var s string
		if isUTF8 {
			s = readUTF8(c, pos, *budget)
		} else {
			s = readUTF16(c, pos, *budget)
		}
		*budget -= len(s)
		seen[pos] = s
		pool = append(pool, s)
	}
	return pool
}

// readUTF8 读取 UTF-8 字符串：字符数(1-2 字节) + 字节数(1-2 字节) + 数据
// 长度超过 limit 时返回空串
func readUTF8(c cursor, pos int, limit int) string {
	first, ok := c.u8(pos)
	if !ok {
		return ""
	}
	if first&0x80 != 0 {
		pos += 2
	} else {
		pos++
	}

	b, ok := c.u8(pos)
	if !ok {
		return ""
	}
	byteLen := int(b)
	if b&0x80 != 0 {
		low, ok := c.u8(pos + 1)
		if !ok {
			return ""
		}
		byteLen = int(b&0x7f)<<8 | int(low)
		pos += 2
	} else {
		pos++
	}

	if byteLen > limit {
		return ""
	}
	raw, ok := c.slice(pos, byteLen)
	if !ok {
		return ""
	}
	return string(raw)
}

// readUTF16 读取 UTF-16LE 字符串：长度(1-2 个 u16) + 数据
// 解码后可能超过 limit 时返回空串
func readUTF16(c cursor, pos int, limit int) string {
	n, ok := c.u16(pos)
	if !ok {
		return ""
	}
	charLen := int(n)
	if n&0x8000 != 0 {
		low, ok := c.u16(pos + 2)
		if !ok {
			return ""
		}
		charLen = int(n&0x7fff)<<16 | int(low)
		pos += 4
	} else {
		pos += 2
	}

	if charLen*3 > limit {
		return ""
	}
	raw, ok := c.slice(pos, charLen*2)
	if !ok {
		return ""
	}
	units := make([]uint16, charLen)
	for i := range units {
		units[i] = uint16(raw[i*2]) | uint16(raw[i*2+1])<<8
	}
	return string(utf16.Decode(units))
}
