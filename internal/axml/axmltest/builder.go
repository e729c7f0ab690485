// Package axmltest 构造用于测试的二进制 AXML 文档
package axmltest

import (
	"bytes"
	"encoding/binary"
	"unicode/utf16"
)

// Attr 测试属性
type Attr struct {
	NS       uint32 // 命名空间字符串索引，无则 NoIndex
	Name     uint32 // 属性名字符串索引
	Raw      uint32 // 原始字符串值索引，无则 NoIndex
	DataType uint8
	Data     uint32
}

// NoIndex 空字符串索引
const NoIndex = 0xffffffff

// Builder 按顺序拼装 AXML 块
type Builder struct {
	Strings []string
	UTF8    bool
	ResIDs  []uint32
	body    bytes.Buffer
}

// StringAttr 字符串值属性
func StringAttr(ns, name, value uint32) Attr {
	return Attr{NS: ns, Name: name, Raw: value, DataType: 0x03, Data: value}
}

// BoolAttr 布尔值属性
func BoolAttr(ns, name uint32, v bool) Attr {
	var data uint32
	if v {
		data = 0xffffffff
	}
	return Attr{NS: ns, Name: name, Raw: NoIndex, DataType: 0x12, Data: data}
}

// Start 追加开始标签块
func (b *Builder) Start(name uint32, attrs ...Attr) *Builder {
	size := 16 + 20 + 20*len(attrs)
	w := &b.body
	put16(w, 0x0102)
	put16(w, 16)
	put32(w, uint32(size))
	put32(w, 1)       // line
	put32(w, NoIndex) // comment
	put32(w, NoIndex) // ns
	put32(w, name)
	put16(w, 20) // attributeStart
	put16(w, 20) // attributeSize
	put16(w, uint16(len(attrs)))
	put16(w, 0)
	put16(w, 0)
	put16(w, 0)
	for _, a := range attrs {
		put32(w, a.NS)
		put32(w, a.Name)
		put32(w, a.Raw)
		put16(w, 8)
		w.WriteByte(0)
		w.WriteByte(a.DataType)
		put32(w, a.Data)
	}
	return b
}

// End 追加结束标签块
func (b *Builder) End(name uint32) *Builder {
	w := &b.body
	put16(w, 0x0103)
	put16(w, 16)
	put32(w, 24)
	put32(w, 1)
	put32(w, NoIndex)
	put32(w, NoIndex)
	put32(w, name)
	return b
}

// Bytes 输出完整文档
func (b *Builder) Bytes() []byte {
	var inner bytes.Buffer
	inner.Write(b.stringPool())
	if len(b.ResIDs) > 0 {
		put16(&inner, 0x0180)
		put16(&inner, 8)
		put32(&inner, uint32(8+4*len(b.ResIDs)))
		for _, id := range b.ResIDs {
			put32(&inner, id)
		}
	}
	inner.Write(b.body.Bytes())

	var out bytes.Buffer
	put16(&out, 0x0003)
	put16(&out, 8)
	put32(&out, uint32(8+inner.Len()))
	out.Write(inner.Bytes())
	return out.Bytes()
}

func (b *Builder) stringPool() []byte {
	var data bytes.Buffer
	offsets := make([]uint32, len(b.Strings))
	for i, s := range b.Strings {
		offsets[i] = uint32(data.Len())
		if b.UTF8 {
			data.WriteByte(byte(len([]rune(s))))
			data.WriteByte(byte(len(s)))
			data.WriteString(s)
			data.WriteByte(0)
			continue
		}
		units := utf16.Encode([]rune(s))
		put16(&data, uint16(len(units)))
		for _, u := range units {
			put16(&data, u)
		}
		put16(&data, 0)
	}
	for data.Len()%4 != 0 {
		data.WriteByte(0)
	}

	stringsStart := 28 + 4*len(b.Strings)
	var flags uint32
	if b.UTF8 {
		flags = 1 << 8
	}

	var w bytes.Buffer
	put16(&w, 0x0001)
	put16(&w, 28)
	put32(&w, uint32(stringsStart+data.Len()))
	put32(&w, uint32(len(b.Strings)))
	put32(&w, 0)
	put32(&w, flags)
	put32(&w, uint32(stringsStart))
	put32(&w, 0)
	for _, off := range offsets {
		put32(&w, off)
	}
	w.Write(data.Bytes())
	return w.Bytes()
}

func put16(w *bytes.Buffer, v uint16) {
	_ = binary.Write(w, binary.LittleEndian, v)
}

func put32(w *bytes.Buffer, v uint32) {
	_ = binary.Write(w, binary.LittleEndian, v)
}

// 清单文档中固定的字符串索引
const (
	idxName = iota
	idxDebuggable
	idxExported
	idxAndroidNS
	idxManifest
	idxApplication
	idxActivity
	idxPackage
	idxUsesPermission
	idxMainActivity
	idxPackageName
	firstPermission
)

// Manifest 构造一个带权限声明的最小清单
// application 设置 debuggable=true，包含一个 exported 的 activity
func Manifest(pkg string, permissions ...string) []byte {
	b := &Builder{
		Strings: []string{
			"name", "debuggable", "exported",
			"http://schemas.android.com/apk/res/android",
			"manifest", "application", "activity", "package", "uses-permission",
			pkg + ".MainActivity", pkg,
		},
		ResIDs: []uint32{0x0101021b, 0x01010003, 0x01010004},
	}
	b.Strings = append(b.Strings, permissions...)

	b.Start(idxManifest, StringAttr(NoIndex, idxPackage, idxPackageName))
	for i := range permissions {
		b.Start(idxUsesPermission, StringAttr(idxAndroidNS, idxName, uint32(firstPermission+i)))
		b.End(idxUsesPermission)
	}
	b.Start(idxApplication, BoolAttr(idxAndroidNS, idxDebuggable, true))
	b.Start(idxActivity,
		StringAttr(idxAndroidNS, idxName, idxMainActivity),
		BoolAttr(idxAndroidNS, idxExported, true),
	)
	b.End(idxActivity)
	b.End(idxApplication)
	b.End(idxManifest)
	return b.Bytes()
}
