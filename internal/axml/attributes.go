package axml

import (
	"fmt"
	"math"
	"strconv"
)

// AndroidNamespace Android 属性命名空间 URI
const AndroidNamespace = "http://schemas.android.com/apk/res/android"

// 属性值类型 (Res_value.dataType)
const (
	TypeReference = 0x01 // 资源引用 @0x...
	TypeString    = 0x03 // 字符串池索引
	TypeFloat     = 0x04 // 32 位浮点
	TypeIntDec    = 0x10 // 十进制整数
	TypeIntHex    = 0x11 // 十六进制整数
	TypeIntBool   = 0x12 // 布尔
)

// noIndex 字符串池中的空索引
const noIndex = 0xffffffff

// KnownAttributes 常见 Android 属性资源 ID -> 属性名
// 混淆过的 APK 经常把属性名从字符串池中抹掉，只能通过资源映射表还原
var KnownAttributes = map[uint32]string{
	0x0101021b: "name",
	0x0101021c: "package",
	0x01010001: "label",
	0x01010003: "debuggable",
	0x01010004: "exported",
	0x01010005: "permission",
	0x0101001a: "allowBackup",
	0x0101020c: "versionCode",
	0x0101021f: "versionName",
	0x0101020b: "minSdkVersion",
	0x01010270: "targetSdkVersion",
	0x0101027f: "authorities",
	0x01010023: "scheme",
	0x0101028c: "networkSecurityConfig",
	0x01010280: "usesCleartextTraffic",
	0x0101048d: "requestLegacyExternalStorage",
}

// formatValue 按类型格式化属性值
func formatValue(dataType uint8, data uint32, pool []string) string {
	switch dataType {
	case TypeString:
		if int64(data) < int64(len(pool)) {
			return pool[data]
		}
		return ""
	case TypeIntBool:
		if data != 0 {
			return "true"
		}
		return "false"
	case TypeIntDec:
		return strconv.FormatInt(int64(int32(data)), 10)
	case TypeIntHex:
		return fmt.Sprintf("0x%x", data)
	case TypeFloat:
		return strconv.FormatFloat(float64(math.Float32frombits(data)), 'g', -1, 32)
	case TypeReference:
		return fmt.Sprintf("@0x%x", data)
	default:
		return strconv.FormatUint(uint64(data), 10)
	}
}
