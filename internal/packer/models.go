package packer

// Info 加固检测结果
type Info struct {
	Packed     bool     `json:"packed"`
	Name       string   `json:"name,omitempty"`
	Type       string   `json:"type,omitempty"` // native/dex_encrypt/vmp/unknown
	Confidence float64  `json:"confidence"`
	Indicators []string `json:"indicators"`
}

// 加固类型
const (
	TypeNative     = "native"      // 原生库解密加载
	TypeDexEncrypt = "dex_encrypt" // DEX 加密或混淆
	TypeVMP        = "vmp"         // 虚拟机保护
	TypeUnknown    = "unknown"
)

// Rule 加固识别规则
type Rule struct {
	Name       string
	Type       string
	NativeLibs []string // 特征 so 名
	Markers    []string // 归档内路径片段
	Classes    []string // 清单中出现的壳入口类
	Size       SizeRule
	Priority   int // 越大越先匹配
}

// SizeRule 体积异常规则
type SizeRule struct {
	DexMaxKB    int64 // DEX 总量小于此值可疑
	NativeMinMB int64 // so 总量大于此值可疑
}

// Entry 归档条目
type Entry struct {
	Name string
	Size int64 // 解压后大小
}

// ArchiveStats APK 归档统计
type ArchiveStats struct {
	NativeLibs      []string `json:"native_libs"`
	DexSize         int64    `json:"dex_size"`
	NativeSize      int64    `json:"native_size"`
	DexCount        int      `json:"dex_count"`
	SuspiciousFiles []string `json:"suspicious_files,omitempty"`

	files []string // lib/ 以外的全部条目
}

// MultiDex 多 DEX
func (s *ArchiveStats) MultiDex() bool {
	return s.DexCount > 1
}
