package analysis

import (
	"bytes"
	"encoding/xml"

	"github.com/apk-analysis/apk-risk-analyzer/internal/axml"
	"github.com/apk-analysis/apk-risk-analyzer/internal/manifest"
	"github.com/avast/apkparser"
)

// DecodeMode 清单解码方式
type DecodeMode string

const (
	DecodeAXML      DecodeMode = "axml"      // 内置 AXML 解码
	DecodeApkParser DecodeMode = "apkparser" // avast/apkparser 二次尝试
	DecodeText      DecodeMode = "text"      // 明文 XML
	DecodeStrings   DecodeMode = "strings"   // 可读字符串提取
)

// minDecodedLength 解码结果太短视为失败
const minDecodedLength = 50

// decodeStrategy 单个解码策略，失败时返回 false
type decodeStrategy struct {
	mode   DecodeMode
	decode func(data []byte) (string, bool)
}

// manifestStrategies 按顺序尝试，第一个成功的生效
var manifestStrategies = []decodeStrategy{
	{DecodeAXML, decodeNative},
	{DecodeApkParser, decodeWithApkParser},
	{DecodeText, decodePlainText},
	{DecodeStrings, decodeReadableStrings},
}

// DecodeManifest 将清单字节转为可分析的文本
func DecodeManifest(data []byte) (string, DecodeMode) {
	for _, s := range manifestStrategies {
		if text, ok := s.decode(data); ok {
			return text, s.mode
		}
	}
	// 最后一个策略总会成功
	return "", DecodeStrings
}

func decodeNative(data []byte) (string, bool) {
	text, ok := axml.Decode(data)
	if !ok || len(text) <= minDecodedLength {
		return "", false
	}
	return text, true
}

// decodeWithApkParser 只处理结构自洽的输入，解析器按头部字段分配内存
func decodeWithApkParser(data []byte) (text string, ok bool) {
	if err := axml.Validate(data); err != nil {
		return "", false
	}
	defer func() {
		if r := recover(); r != nil {
			text, ok = "", false
		}
	}()

	var buf bytes.Buffer
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := apkparser.ParseXml(bytes.NewReader(data), enc, nil); err != nil {
		return "", false
	}
	if err := enc.Flush(); err != nil {
		return "", false
	}

	text = buf.String()
	if len(text) <= minDecodedLength {
		return "", false
	}
	return text, true
}

func decodePlainText(data []byte) (string, bool) {
	if len(data) == 0 || manifest.IsBinaryText(data) {
		return "", false
	}
	return string(data), true
}

func decodeReadableStrings(data []byte) (string, bool) {
	return manifest.ExtractReadableStrings(data), true
}
