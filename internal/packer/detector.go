// Package packer 根据归档内容和清单识别商业加固
package packer

import (
	"archive/zip"
	"fmt"
	"path"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

// 规则命中阈值
const minConfidence = 0.4

// suspiciousPatterns 加固常见的路径片段
var suspiciousPatterns = []string{
	"stub",
	"shell",
	"protect",
	"guard",
	"jiagu",
	"secneo",
	"ijiami",
	"bangcle",
	"nagapt",
	"assets/classes",
	"assets/dex",
}

// Detector 加固检测器
type Detector struct {
	rules  []Rule
	logger *logrus.Logger
}

// NewDetector 创建检测器，rules 为空时使用内置规则
func NewDetector(rules []Rule, logger *logrus.Logger) *Detector {
	if len(rules) == 0 {
		rules = BuiltinRules()
	}
	sorted := make([]Rule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})

	return &Detector{rules: sorted, logger: logger}
}

// CollectStats 读取 APK 的中央目录
// 只看条目名和大小，不解压
func CollectStats(apkPath string) (*ArchiveStats, error) {
	reader, err := zip.OpenReader(apkPath)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	entries := make([]Entry, 0, len(reader.File))
	for _, f := range reader.File {
		entries = append(entries, Entry{Name: f.Name, Size: int64(f.UncompressedSize64)})
	}
	return StatsFromEntries(entries), nil
}

// StatsFromEntries 汇总条目
func StatsFromEntries(entries []Entry) *ArchiveStats {
	stats := &ArchiveStats{
		NativeLibs: []string{},
	}

	for _, e := range entries {
		name := e.Name
		if strings.HasPrefix(name, "lib/") && strings.HasSuffix(name, ".so") {
			stats.NativeLibs = append(stats.NativeLibs, path.Base(name))
			stats.NativeSize += e.Size
		}
		// 只统计根目录的 DEX，assets 下的算可疑文件
		if strings.HasSuffix(name, ".dex") && !strings.Contains(name, "/") {
			stats.DexSize += e.Size
			stats.DexCount++
		}
		if strings.HasPrefix(name, "lib/") {
			continue
		}
		stats.files = append(stats.files, name)
		if isSuspiciousFile(name) {
			stats.SuspiciousFiles = append(stats.SuspiciousFiles, name)
		}
	}
	return stats
}

// Detect 按优先级匹配，第一条达到阈值的规则生效
func (d *Detector) Detect(stats *ArchiveStats, manifestText string) *Info {
	info := &Info{Indicators: []string{}}
	if stats == nil {
		return info
	}

	for _, rule := range d.rules {
		confidence, indicators := matchRule(rule, stats, manifestText)
		if confidence < minConfidence {
			continue
		}

		info.Packed = true
		info.Name = rule.Name
		info.Type = rule.Type
		info.Confidence = min(confidence, 1.0)
		info.Indicators = indicators

		d.logger.WithFields(logrus.Fields{
			"packer":     info.Name,
			"type":       info.Type,
			"confidence": info.Confidence,
			"indicators": info.Indicators,
		}).Info("Packer detected")
		return info
	}

	return info
}

// matchRule 累加各项特征的置信度
func matchRule(rule Rule, stats *ArchiveStats, manifestText string) (float64, []string) {
	confidence := 0.0
	indicators := []string{}

	for _, apkLib := range stats.NativeLibs {
		for _, ruleLib := range rule.NativeLibs {
			if matchLibName(ruleLib, apkLib) {
				confidence += 0.4
				indicators = append(indicators, "native_lib:"+apkLib)
				break
			}
		}
	}

	for _, class := range rule.Classes {
		if manifestText != "" && strings.Contains(manifestText, class) {
			confidence += 0.4
			indicators = append(indicators, "stub_class:"+class)
		}
	}

	if rule.Size.DexMaxKB > 0 && stats.DexSize > 0 && stats.DexSize/1024 < rule.Size.DexMaxKB {
		confidence += 0.3
		indicators = append(indicators, "dex_size_anomaly")
	}
	if rule.Size.NativeMinMB > 0 && stats.NativeSize/(1024*1024) > rule.Size.NativeMinMB {
		confidence += 0.3
		indicators = append(indicators, "native_size_anomaly")
	}

	for _, file := range stats.files {
		lower := strings.ToLower(file)
		for _, marker := range rule.Markers {
			if strings.Contains(lower, strings.ToLower(marker)) {
				confidence += 0.2
				indicators = append(indicators, "suspicious_file:"+file)
				break
			}
		}
	}

	return confidence, indicators
}

// matchLibName 忽略版本后缀比较库名
// libshellx-2.10.3.4.so 与 libshellx.so 视为相同
func matchLibName(pattern, name string) bool {
	if pattern == name {
		return true
	}
	return libBase(pattern) == libBase(name)
}

func libBase(name string) string {
	base := strings.TrimSuffix(name, ".so")
	if i := strings.IndexByte(base, '-'); i > 0 {
		base = base[:i]
	}
	return base
}

func isSuspiciousFile(name string) bool {
	lower := strings.ToLower(name)
	for _, pattern := range suspiciousPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}
	return false
}

// Summary 一行摘要
func Summary(info *Info) string {
	if info == nil || !info.Packed {
		return "no packer detected"
	}
	return fmt.Sprintf("packed with %s (%s, confidence %.1f)", info.Name, info.Type, info.Confidence)
}
