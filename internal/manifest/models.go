// Package manifest 对解码后的清单文本做正则级分析
package manifest

// 风险等级
const (
	RiskCritical = "critical"
	RiskHigh     = "high"
	RiskMedium   = "medium"
	RiskLow      = "low"
	RiskUnknown  = "unknown"
)

// Warning 清单安全告警
type Warning struct {
	Type     string `json:"type"`
	Severity string `json:"severity"`
	Message  string `json:"message"`
}

// SecurityFindings 清单安全标志
type SecurityFindings struct {
	MinSDK      *int      `json:"min_sdk,omitempty"`
	TargetSDK   *int      `json:"target_sdk,omitempty"`
	Debuggable  bool      `json:"debuggable"`
	AllowBackup bool      `json:"allow_backup"`
	Warnings    []Warning `json:"warnings"`
}

// HasSeverity 是否包含指定级别的告警
func (f *SecurityFindings) HasSeverity(severity string) bool {
	for _, w := range f.Warnings {
		if w.Severity == severity {
			return true
		}
	}
	return false
}

// Component 四大组件之一
type Component struct {
	Type          string `json:"type"` // activity/service/receiver/provider
	Name          string `json:"name"`
	Exported      bool   `json:"exported"`
	HasPermission bool   `json:"has_permission"`
}

// ExposureReport 组件暴露情况
type ExposureReport struct {
	ExportedActivities []string    `json:"exported_activities"`
	ExportedServices   []string    `json:"exported_services"`
	ExportedReceivers  []string    `json:"exported_receivers"`
	ExportedProviders  []string    `json:"exported_providers"`
	TotalExported      int         `json:"total_exported"`
	UnprotectedCount   int         `json:"unprotected_count"`
	Components         []Component `json:"components"`
	Estimated          bool        `json:"estimated"` // 未识别到组件标签，按 exported="true" 计数估算
}

// Metadata 应用基础信息
type Metadata struct {
	PackageName string `json:"package_name,omitempty"`
	VersionCode string `json:"version_code,omitempty"`
	VersionName string `json:"version_name,omitempty"`
	AppLabel    string `json:"app_label,omitempty"`
	FileName    string `json:"file_name"`
}

// PermissionRecord 权限详情
type PermissionRecord struct {
	FullName    string  `json:"full_name"`
	ShortName   string  `json:"short_name"`
	Risk        string  `json:"risk"`
	Category    string  `json:"category"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
}

// Breakdown 各风险等级的权限数量
type Breakdown struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Unknown  int `json:"unknown"`
}

// Total 权限总数
func (b Breakdown) Total() int {
	return b.Critical + b.High + b.Medium + b.Low + b.Unknown
}

// DomainGroup 隐私领域分组
type DomainGroup struct {
	Category    string   `json:"category"`
	Description string   `json:"description"`
	Permissions []string `json:"permissions"`
	Count       int      `json:"count"`
}
