package manifest

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// 告警类型
const (
	WarningOutdatedTargetSDK = "outdated-target-sdk"
	WarningPreScopedStorage  = "pre-scoped-storage"
	WarningOldMinSDK         = "old-min-sdk"
	WarningDebuggable        = "debuggable"
	WarningBackupEnabled     = "backup-enabled"
)

const (
	runtimePermissionsSDK = 23
	scopedStorageSDK      = 30
	lollipopSDK           = 21
)

var (
	minSDKAttrPattern     = regexp.MustCompile(`(?i)android:minSdkVersion\s*=\s*"(\d+)"`)
	minSDKLoosePattern    = regexp.MustCompile(`(?i)minSdkVersion\s*[:=]\s*(\d+)`)
	targetSDKAttrPattern  = regexp.MustCompile(`(?i)android:targetSdkVersion\s*=\s*"(\d+)"`)
	targetSDKLoosePattern = regexp.MustCompile(`(?i)targetSdkVersion\s*[:=]\s*(\d+)`)
	debuggablePattern     = regexp.MustCompile(`(?i)android:debuggable\s*=\s*"(true|false)"`)
	allowBackupPattern    = regexp.MustCompile(`(?i)android:allowBackup\s*=\s*"(true|false)"`)
)

// AnalyzeSecurity 解析 SDK 版本、debuggable、allowBackup 并生成告警
func AnalyzeSecurity(text string) *SecurityFindings {
	f := &SecurityFindings{Warnings: []Warning{}}

	f.MinSDK = matchInt(text, minSDKAttrPattern, minSDKLoosePattern)
	f.TargetSDK = matchInt(text, targetSDKAttrPattern, targetSDKLoosePattern)

	if m := debuggablePattern.FindStringSubmatch(text); m != nil {
		f.Debuggable = strings.EqualFold(m[1], "true")
	}

	// 缺省时平台默认允许备份
	f.AllowBackup = true
	if m := allowBackupPattern.FindStringSubmatch(text); m != nil {
		f.AllowBackup = strings.EqualFold(m[1], "true")
	}

	if f.TargetSDK != nil && *f.TargetSDK < runtimePermissionsSDK {
		f.Warnings = append(f.Warnings, Warning{
			Type:     WarningOutdatedTargetSDK,
			Severity: RiskHigh,
			Message: fmt.Sprintf("Target SDK version %d uses the legacy permission model. "+
				"All permissions are granted at install time without user consent. Apps should target SDK 23+.", *f.TargetSDK),
		})
	}
	if f.TargetSDK != nil && *f.TargetSDK < scopedStorageSDK {
		f.Warnings = append(f.Warnings, Warning{
			Type:     WarningPreScopedStorage,
			Severity: RiskMedium,
			Message: fmt.Sprintf("Target SDK version %d does not enforce scoped storage restrictions. "+
				"The app may have broad file access.", *f.TargetSDK),
		})
	}
	if f.MinSDK != nil && *f.MinSDK < lollipopSDK {
		f.Warnings = append(f.Warnings, Warning{
			Type:     WarningOldMinSDK,
			Severity: RiskMedium,
			Message: fmt.Sprintf("Minimum SDK version %d supports very old Android versions (pre-Lollipop) "+
				"that lack modern security features.", *f.MinSDK),
		})
	}
	if f.Debuggable {
		f.Warnings = append(f.Warnings, Warning{
			Type:     WarningDebuggable,
			Severity: RiskCritical,
			Message: "Debuggable flag is enabled. This should NEVER be enabled in production builds. " +
				"Attackers can attach debuggers and inspect application memory.",
		})
	}
	if f.AllowBackup {
		f.Warnings = append(f.Warnings, Warning{
			Type:     WarningBackupEnabled,
			Severity: RiskMedium,
			Message: "App data backup is allowed. App data can be extracted via ADB backup, " +
				"potentially exposing sensitive information.",
		})
	}

	return f
}

// matchInt 按顺序尝试正则，返回第一个匹配到的整数
func matchInt(text string, patterns ...*regexp.Regexp) *int {
	for _, re := range patterns {
		m := re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		v, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		return &v
	}
	return nil
}
