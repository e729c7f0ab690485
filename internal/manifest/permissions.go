package manifest

import (
	"regexp"
	"sort"
	"strings"
)

var (
	usesPermissionPattern = regexp.MustCompile(`(?i)uses-permission\s[^>]*android:name\s*=\s*"([^"]+)"`)
	androidPermPattern    = regexp.MustCompile(`android\.permission\.[A-Z_]+`)
	customPermPattern     = regexp.MustCompile(`(?i)com\.[a-z0-9]+(?:\.[a-z0-9]+)*\.permission\.[A-Z_]+`)
	googlePermPattern     = regexp.MustCompile(`(?i)com\.google\.android\.[a-z0-9.]*permission\.[A-Z_]+`)
)

// ExtractPermissions 提取清单中声明的权限
// 四种匹配结果合并去重后按字母序返回
func ExtractPermissions(text string) []string {
	set := make(map[string]struct{})

	for _, m := range usesPermissionPattern.FindAllStringSubmatch(text, -1) {
		if p := strings.TrimSpace(m[1]); p != "" {
			set[p] = struct{}{}
		}
	}
	for _, re := range []*regexp.Regexp{androidPermPattern, customPermPattern, googlePermPattern} {
		for _, m := range re.FindAllString(text, -1) {
			set[strings.TrimSpace(m)] = struct{}{}
		}
	}

	perms := make([]string, 0, len(set))
	for p := range set {
		perms = append(perms, p)
	}
	sort.Strings(perms)
	return perms
}

// ShortName 权限名最后一段
func ShortName(permission string) string {
	if i := strings.LastIndexByte(permission, '.'); i >= 0 {
		return permission[i+1:]
	}
	return permission
}
