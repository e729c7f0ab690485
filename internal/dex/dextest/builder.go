// Package dextest 构造用于测试的最小 DEX 文件
package dextest

import "encoding/binary"

const endianTag = 0x12345678

// Method 方法引用
type Method struct {
	Class uint16 // type_ids 索引
	Name  uint32 // string_ids 索引
}

// Build 构造最小 DEX：header | string_ids | type_ids | method_ids | class_defs | string_data
// 字符串长度需小于 128，ULEB128 只占一个字节
func Build(strs []string, types []uint32, methods []Method, classDefs []uint32) []byte {
	le := binary.LittleEndian
	stringIDsOff := 0x70
	typeIDsOff := stringIDsOff + 4*len(strs)
	methodIDsOff := typeIDsOff + 4*len(types)
	classDefsOff := methodIDsOff + 8*len(methods)
	dataOff := classDefsOff + 32*len(classDefs)

	var data []byte
	strOffsets := make([]int, len(strs))
	for i, s := range strs {
		strOffsets[i] = dataOff + len(data)
		data = append(data, byte(len(s)))
		data = append(data, s...)
		data = append(data, 0)
	}

	buf := make([]byte, dataOff+len(data))
	copy(buf, "dex\n035\x00")
	le.PutUint32(buf[0x28:], endianTag)
	le.PutUint32(buf[0x38:], uint32(len(strs)))
	le.PutUint32(buf[0x3c:], uint32(stringIDsOff))
	le.PutUint32(buf[0x40:], uint32(len(types)))
	le.PutUint32(buf[0x44:], uint32(typeIDsOff))
	le.PutUint32(buf[0x58:], uint32(len(methods)))
	le.PutUint32(buf[0x5c:], uint32(methodIDsOff))
	le.PutUint32(buf[0x60:], uint32(len(classDefs)))
	le.PutUint32(buf[0x64:], uint32(classDefsOff))

	for i, off := range strOffsets {
		le.PutUint32(buf[stringIDsOff+4*i:], uint32(off))
	}
	for i, idx := range types {
		le.PutUint32(buf[typeIDsOff+4*i:], idx)
	}
	for i, m := range methods {
		le.PutUint16(buf[methodIDsOff+8*i:], m.Class)
		le.PutUint32(buf[methodIDsOff+8*i+4:], m.Name)
	}
	for i, idx := range classDefs {
		le.PutUint32(buf[classDefsOff+32*i:], idx)
	}
	copy(buf[dataOff:], data)
	return buf
}

// Sample 一个调用 DexClassLoader 并内嵌 IP 的 DEX
func Sample() []byte {
	strs := []string{
		"Lcom/example/Main;",
		"Ldalvik/system/DexClassLoader;",
		"<init>",
		"onCreate",
		"10.0.0.1",
	}
	types := []uint32{0, 1}
	methods := []Method{{Class: 1, Name: 2}, {Class: 0, Name: 3}}
	return Build(strs, types, methods, []uint32{0})
}
