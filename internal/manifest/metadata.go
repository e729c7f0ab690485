package manifest

import "regexp"

var (
	packagePattern          = regexp.MustCompile(`(?i)package\s*=\s*"([^"]+)"`)
	versionCodeAttrPattern  = regexp.MustCompile(`(?i)android:versionCode\s*=\s*"([^"]+)"`)
	versionCodeLoosePattern = regexp.MustCompile(`(?i)versionCode\s*[:=]\s*['"]?(\d+)`)
	versionNameAttrPattern  = regexp.MustCompile(`(?i)android:versionName\s*=\s*"([^"]+)"`)
	versionNameLoosePattern = regexp.MustCompile(`(?i)versionName\s*[:=]\s*['"]?([^'">\s]+)`)
	labelPattern            = regexp.MustCompile(`(?i)android:label\s*=\s*"([^"@]+)"`)
)

// ExtractMetadata 提取包名、版本与应用名
// 资源引用形式的 label (@string/...) 不做解析
func ExtractMetadata(text, fileName string) *Metadata {
	if fileName == "" {
		fileName = "Unknown"
	}
	return &Metadata{
		PackageName: firstGroup(text, packagePattern),
		VersionCode: firstGroup(text, versionCodeAttrPattern, versionCodeLoosePattern),
		VersionName: firstGroup(text, versionNameAttrPattern, versionNameLoosePattern),
		AppLabel:    firstGroup(text, labelPattern),
		FileName:    fileName,
	}
}

func firstGroup(text string, patterns ...*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); m != nil {
			return m[1]
		}
	}
	return ""
}
