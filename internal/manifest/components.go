package manifest

import (
	"regexp"
	"strings"
)

type componentKind struct {
	tag      string
	open     *regexp.Regexp
	closeTag *regexp.Regexp
	list     func(r *ExposureReport) *[]string
}

var componentKinds = []componentKind{
	newComponentKind("activity", func(r *ExposureReport) *[]string { return &r.ExportedActivities }),
	newComponentKind("service", func(r *ExposureReport) *[]string { return &r.ExportedServices }),
	newComponentKind("receiver", func(r *ExposureReport) *[]string { return &r.ExportedReceivers }),
	newComponentKind("provider", func(r *ExposureReport) *[]string { return &r.ExportedProviders }),
}

func newComponentKind(tag string, list func(r *ExposureReport) *[]string) componentKind {
	return componentKind{
		tag:      tag,
		open:     regexp.MustCompile(`(?i)<` + tag + `[\s>]`),
		closeTag: regexp.MustCompile(`(?i)</` + tag + `>`),
		list:     list,
	}
}

var (
	exportedAttrPattern   = regexp.MustCompile(`(?i)android:exported\s*=\s*"(true|false)"`)
	exportedTruePattern   = regexp.MustCompile(`(?i)android:exported\s*=\s*"true"`)
	nameAttrPattern       = regexp.MustCompile(`(?i)android:name\s*=\s*"([^"]+)"`)
	permissionAttrPattern = regexp.MustCompile(`(?i)android:permission\s*=\s*"[^"]+"`)
	intentFilterPattern   = regexp.MustCompile(`(?i)<intent-filter`)
)

// AnalyzeComponents 统计导出组件
// 组件块从开始标签起，到其闭合标签或首个 "/>" 中较早者为止
func AnalyzeComponents(text string) *ExposureReport {
	r := &ExposureReport{
		ExportedActivities: []string{},
		ExportedServices:   []string{},
		ExportedReceivers:  []string{},
		ExportedProviders:  []string{},
		Components:         []Component{},
	}

	for _, kind := range componentKinds {
		pos := 0
		for pos < len(text) {
			loc := kind.open.FindStringIndex(text[pos:])
			if loc == nil {
				break
			}
			start := pos + loc[0]
			end := blockEnd(text, start, kind.closeTag)
			r.addComponent(kind, text[start:end])
			pos = end
		}
	}

	if len(r.Components) == 0 {
		n := len(exportedTruePattern.FindAllStringIndex(text, -1))
		r.TotalExported = n
		r.UnprotectedCount = n
		r.Estimated = n > 0
	}

	return r
}

func blockEnd(text string, start int, closeTag *regexp.Regexp) int {
	end := len(text)
	if i := strings.Index(text[start:], "/>"); i >= 0 {
		end = start + i + 2
	}
	if loc := closeTag.FindStringIndex(text[start:]); loc != nil && start+loc[1] < end {
		end = start + loc[1]
	}
	return end
}

func (r *ExposureReport) addComponent(kind componentKind, block string) {
	c := Component{Type: kind.tag, Name: "Unknown"}

	exportedMatch := exportedAttrPattern.FindStringSubmatch(block)
	if exportedMatch != nil {
		c.Exported = strings.EqualFold(exportedMatch[1], "true")
	} else {
		// 未显式声明 exported 时，带 intent-filter 即视为导出
		c.Exported = intentFilterPattern.MatchString(block)
	}

	if m := nameAttrPattern.FindStringSubmatch(block); m != nil {
		c.Name = m[1]
	}
	c.HasPermission = permissionAttrPattern.MatchString(block)

	if c.Exported {
		list := kind.list(r)
		*list = append(*list, c.Name)
		r.TotalExported++
		if !c.HasPermission {
			r.UnprotectedCount++
		}
	}
	r.Components = append(r.Components, c)
}
