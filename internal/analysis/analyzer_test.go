package analysis

import (
	"archive/zip"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/apk-analysis/apk-risk-analyzer/internal/axml/axmltest"
	"github.com/apk-analysis/apk-risk-analyzer/internal/dex"
	"github.com/apk-analysis/apk-risk-analyzer/internal/dex/dextest"
	"github.com/apk-analysis/apk-risk-analyzer/internal/packer"
	"github.com/apk-analysis/apk-risk-analyzer/internal/scoring"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const (
	permCamera   = "android.permission.CAMERA"
	permAudio    = "android.permission.RECORD_AUDIO"
	permInternet = "android.permission.INTERNET"
)

func newTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestAnalyzer(t *testing.T, cfg Config) *Analyzer {
	t.Helper()
	a := NewAnalyzer(cfg, newTestLogger())
	t.Cleanup(a.Stop)
	return a
}

func textManifest(perms ...string) []byte {
	s := `<?xml version="1.0" encoding="utf-8"?>
<manifest xmlns:android="http://schemas.android.com/apk/res/android" package="com.example.app">
`
	for _, p := range perms {
		s += `  <uses-permission android:name="` + p + `" />
`
	}
	s += `  <application android:label="Example" />
</manifest>
`
	return []byte(s)
}

// writeAPK 写入测试 APK
func writeAPK(t *testing.T, entries map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sample.apk")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	for name, data := range entries {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return path
}

// MockMetrics 模拟指标
type MockMetrics struct {
	mock.Mock
}

func (m *MockMetrics) RecordAnalysis(grade, decodeMode string, duration time.Duration) {
	m.Called(grade, decodeMode, duration)
}

func (m *MockMetrics) RecordDexResult(status string, parsed bool) {
	m.Called(status, parsed)
}

func (m *MockMetrics) RecordModelFallback() {
	m.Called()
}

type failingPredictor struct{}

func (failingPredictor) Predict(context.Context, []string) (*scoring.Prediction, error) {
	return nil, errors.New("boom")
}

// TestFileSource_XML 测试载入明文清单
func TestFileSource_XML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "AndroidManifest.xml")
	require.NoError(t, os.WriteFile(path, textManifest(permCamera), 0o644))

	in, err := NewFileSource(newTestLogger()).Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "AndroidManifest.xml", in.FileName)
	assert.Equal(t, FileTypeXML, in.FileType)
	assert.Len(t, in.MD5, 32)
	assert.Len(t, in.SHA256, 64)
	assert.Positive(t, in.FileSize)
	assert.Empty(t, in.Dex)
}

// TestFileSource_APK 测试从 APK 中读取清单和 DEX
func TestFileSource_APK(t *testing.T) {
	manifestData := axmltest.Manifest("com.example.app", permCamera)
	path := writeAPK(t, map[string][]byte{
		"AndroidManifest.xml": manifestData,
		"classes.dex":         dextest.Sample(),
		"res/raw/blob.bin":    {1, 2, 3},
	})

	in, err := NewFileSource(newTestLogger()).Load(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, FileTypeAPK, in.FileType)
	assert.Equal(t, manifestData, in.Manifest)
	assert.Equal(t, dextest.Sample(), in.Dex)
	require.NotNil(t, in.Archive)
	assert.Equal(t, 1, in.Archive.DexCount)
}

// TestFileSource_Errors 测试载入失败
func TestFileSource_Errors(t *testing.T) {
	fs := NewFileSource(newTestLogger())
	ctx := context.Background()

	_, err := fs.Load(ctx, "/tmp/readme.txt")
	assert.ErrorIs(t, err, ErrUnsupportedInput)

	noManifest := writeAPK(t, map[string][]byte{"classes.dex": dextest.Sample()})
	_, err = fs.Load(ctx, noManifest)
	assert.ErrorIs(t, err, ErrManifestNotFound)

	garbage := filepath.Join(t.TempDir(), "broken.apk")
	require.NoError(t, os.WriteFile(garbage, []byte("not a zip archive"), 0o644))
	_, err = fs.Load(ctx, garbage)
	assert.True(t, errors.Is(err, ErrInvalidArchive) || errors.Is(err, ErrManifestNotFound), "got %v", err)
}

// TestIsSupported 测试扩展名判断
func TestIsSupported(t *testing.T) {
	assert.True(t, IsSupported("a.apk"))
	assert.True(t, IsSupported("b.XML"))
	assert.False(t, IsSupported("c.ipa"))
	assert.False(t, IsSupported("apk"))
}

// TestDecodeManifest 测试解码策略选择
func TestDecodeManifest(t *testing.T) {
	text, mode := DecodeManifest(axmltest.Manifest("com.example.app", permCamera))
	assert.Equal(t, DecodeAXML, mode)
	assert.Contains(t, text, permCamera)

	text, mode = DecodeManifest(textManifest(permInternet))
	assert.Equal(t, DecodeText, mode)
	assert.Contains(t, text, permInternet)

	// 魔数错误且大量 NUL：只能抓字符串
	blob := append([]byte{0xff, 0xff, 0, 0, 0, 0, 0, 0}, "android.permission.READ_SMS"...)
	blob = append(blob, make([]byte, 40)...)
	text, mode = DecodeManifest(blob)
	assert.Equal(t, DecodeStrings, mode)
	assert.Contains(t, text, "android.permission.READ_SMS")

	_, mode = DecodeManifest(nil)
	assert.Equal(t, DecodeStrings, mode)
}

func allocatedBy(f func()) uint64 {
	var before, after runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&before)
	f()
	runtime.ReadMemStats(&after)
	return after.TotalAlloc - before.TotalAlloc
}

// hugeFirstString 把清单字符串池的第一个字符串长度改为约 2^31 个 UTF-16 单元
func hugeFirstString(manifest []byte) []byte {
	le := binary.LittleEndian
	data := append([]byte(nil), manifest...)
	first := 8 + int(le.Uint32(data[8+20:])) + int(le.Uint32(data[8+28:]))
	le.PutUint16(data[first:], 0xffff)
	le.PutUint16(data[first+2:], 0xffff)
	return data
}

// TestDecodeWithApkParser 测试第二解码器只接受结构自洽的输入
func TestDecodeWithApkParser(t *testing.T) {
	valid := axmltest.Manifest("com.example.app", permCamera)
	text, ok := decodeWithApkParser(valid)
	require.True(t, ok)
	assert.Contains(t, text, permCamera)

	hostile := hugeFirstString(valid)
	alloc := allocatedBy(func() { _, ok = decodeWithApkParser(hostile) })
	assert.False(t, ok)
	assert.Less(t, alloc, uint64(1<<20))
}

// TestDecodeManifest_HostilePool 测试畸形字符串池不会放大内存
func TestDecodeManifest_HostilePool(t *testing.T) {
	hostile := hugeFirstString(axmltest.Manifest("com.example.app", permCamera))

	var (
		text string
		mode DecodeMode
	)
	alloc := allocatedBy(func() { text, mode = DecodeManifest(hostile) })
	assert.Equal(t, DecodeAXML, mode)
	assert.Contains(t, text, permCamera)
	assert.Less(t, alloc, uint64(64*len(hostile)+(1<<20)))
}

// FuzzDecodeManifest 任意输入都能得到一种解码结果
func FuzzDecodeManifest(f *testing.F) {
	f.Add(axmltest.Manifest("com.example.app", permCamera))
	f.Add(hugeFirstString(axmltest.Manifest("com.example.app", permInternet)))
	f.Add(textManifest(permAudio))
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		text, mode := DecodeManifest(data)
		switch mode {
		case DecodeAXML, DecodeApkParser:
			assert.Greater(t, len(text), minDecodedLength)
		case DecodeText:
			assert.Equal(t, string(data), text)
		case DecodeStrings:
		default:
			t.Fatalf("unexpected mode %q", mode)
		}
	})
}

// TestAnalyze_Surveillance 测试端到端的音视频监控场景
func TestAnalyze_Surveillance(t *testing.T) {
	a := newTestAnalyzer(t, Config{})
	ctx := context.Background()

	full, err := a.Analyze(ctx, &Input{
		FileName: "AndroidManifest.xml",
		FileType: FileTypeXML,
		Manifest: textManifest(permCamera, permAudio, permInternet),
	})
	require.NoError(t, err)

	camera, err := a.Analyze(ctx, &Input{
		FileName: "AndroidManifest.xml",
		FileType: FileTypeXML,
		Manifest: textManifest(permCamera),
	})
	require.NoError(t, err)

	assert.Equal(t, DecodeText, full.DecodeMode)
	assert.Equal(t, 3, full.TotalPermissions)
	assert.Equal(t, 2, full.Score.Breakdown.High)
	require.NotEmpty(t, full.SuspiciousCombos)
	assert.Equal(t, "surveillance-av", full.SuspiciousCombos[0].ID)
	assert.Nil(t, full.Score.MLScore)
	assert.False(t, full.Dex.Present)
	assert.Greater(t, full.Score.NormalizedScore, camera.Score.NormalizedScore)

	assert.NotEmpty(t, full.ID)
	assert.NotEqual(t, full.ID, camera.ID)
	assert.Equal(t, "com.example.app", full.Metadata.PackageName)
	assert.Empty(t, full.RawManifest)
}

// TestAnalyze_WithDex 测试 APK 全流程
func TestAnalyze_WithDex(t *testing.T) {
	metrics := new(MockMetrics)
	metrics.On("RecordDexResult", DexStatusSuccess, true).Once()
	metrics.On("RecordAnalysis", mock.Anything, string(DecodeAXML), mock.Anything).Once()

	a := newTestAnalyzer(t, Config{Metrics: metrics})
	path := writeAPK(t, map[string][]byte{
		"AndroidManifest.xml": axmltest.Manifest("com.example.app", permInternet),
		"classes.dex":         dextest.Sample(),
	})
	in, err := NewFileSource(newTestLogger()).Load(context.Background(), path)
	require.NoError(t, err)

	report, err := a.Analyze(context.Background(), in, WithRawManifest(), WithReportID("report-1"))
	require.NoError(t, err)

	assert.Equal(t, "report-1", report.ID)
	assert.Equal(t, DecodeAXML, report.DecodeMode)
	assert.Contains(t, report.RawManifest, "<manifest")
	assert.True(t, report.Security.Debuggable)
	assert.Equal(t, 1, report.Components.TotalExported)

	require.True(t, report.Dex.Present)
	require.NotNil(t, report.Dex.Findings)
	assert.True(t, report.Dex.Findings.HasCategory(dex.CategoryDynamicLoading))
	assert.Equal(t, 35, report.Score.DexScore)

	ids := make([]string, 0, len(report.Simulations))
	for _, f := range report.Simulations {
		ids = append(ids, f.ID)
	}
	assert.Contains(t, ids, "payload-download")
	assert.Contains(t, ids, "hidden-endpoints")
	assert.Equal(t, report.Score.SimulationScore, 25)

	metrics.AssertExpectations(t)
}

// TestAnalyze_BrokenDex 测试 DEX 损坏时不影响分析
func TestAnalyze_BrokenDex(t *testing.T) {
	a := newTestAnalyzer(t, Config{})

	report, err := a.Analyze(context.Background(), &Input{
		FileName: "app.apk",
		FileType: FileTypeAPK,
		Manifest: textManifest(permInternet),
		Dex:      []byte("this is not a dex file"),
	})
	require.NoError(t, err)

	assert.True(t, report.Dex.Present)
	assert.Equal(t, DexStatusSuccess, report.Dex.Status)
	assert.Nil(t, report.Dex.Findings)
	assert.Equal(t, dex.ErrInvalidMagic, report.Dex.Error)
	assert.Zero(t, report.Score.DexScore)
}

// TestAnalyze_Model 测试模型信号与回退
func TestAnalyze_Model(t *testing.T) {
	in := &Input{FileName: "m.xml", FileType: FileTypeXML, Manifest: textManifest(permCamera, permInternet)}

	a := newTestAnalyzer(t, Config{Predictor: scoring.HeuristicPredictor{}})
	report, err := a.Analyze(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, report.Score.MLScore)
	assert.Equal(t, 26.0, *report.Score.MLScore)

	skipped, err := a.Analyze(context.Background(), in, WithoutModel())
	require.NoError(t, err)
	assert.Nil(t, skipped.Score.MLScore)

	metrics := new(MockMetrics)
	metrics.On("RecordModelFallback").Once()
	metrics.On("RecordAnalysis", mock.Anything, mock.Anything, mock.Anything)
	failing := newTestAnalyzer(t, Config{Predictor: failingPredictor{}, Metrics: metrics})
	report, err = failing.Analyze(context.Background(), in)
	require.NoError(t, err)
	assert.Nil(t, report.Score.MLScore)
	assert.Equal(t, report.Score.RuleScore, report.Score.NormalizedScore)
	metrics.AssertExpectations(t)
}

// TestAnalyze_CustomWeights 测试自定义权重
func TestAnalyze_CustomWeights(t *testing.T) {
	a := newTestAnalyzer(t, Config{})
	in := &Input{FileName: "m.xml", FileType: FileTypeXML, Manifest: textManifest(permCamera)}

	base, err := a.Analyze(context.Background(), in)
	require.NoError(t, err)

	heavy, err := a.Analyze(context.Background(), in, WithWeights(scoring.Weights{High: 80, Medium: 10, Low: 2, Unknown: 5}))
	require.NoError(t, err)

	assert.Equal(t, 80.0, heavy.Score.Weights.High)
	assert.Greater(t, heavy.Score.RawScore, base.Score.RawScore)
}

// TestAnalyze_Cancelled 测试上下文取消
func TestAnalyze_Cancelled(t *testing.T) {
	a := newTestAnalyzer(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := a.Analyze(ctx, &Input{Manifest: textManifest(permCamera)})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = a.Analyze(context.Background(), nil)
	assert.ErrorIs(t, err, ErrUnsupportedInput)
}

// TestReport_Summary 测试摘要
func TestReport_Summary(t *testing.T) {
	a := newTestAnalyzer(t, Config{})
	report, err := a.Analyze(context.Background(), &Input{FileName: "m.xml", Manifest: textManifest(permCamera)})
	require.NoError(t, err)

	s := report.Summary()
	assert.Equal(t, report.ID, s.ID)
	assert.Equal(t, "m.xml", s.FileName)
	assert.Equal(t, "com.example.app", s.PackageName)
	assert.Equal(t, report.Score.Grade, s.Grade)
}

// TestAnalyze_Packer 测试加固识别
func TestAnalyze_Packer(t *testing.T) {
	a := newTestAnalyzer(t, Config{})

	manifestText := strings.Replace(string(textManifest(permCamera)),
		`<application android:label="Example" />`,
		`<application android:name="com.secneo.apkwrapper.ApplicationWrapper" />`, 1)
	in := &Input{
		FileName: "packed.apk",
		FileType: FileTypeAPK,
		Manifest: []byte(manifestText),
		Archive: packer.StatsFromEntries([]packer.Entry{
			{Name: "classes.dex", Size: 8 * 1024},
			{Name: "lib/armeabi-v7a/libDexHelper.so", Size: 1 << 20},
		}),
	}

	report, err := a.Analyze(context.Background(), in)
	require.NoError(t, err)
	require.NotNil(t, report.Protection)
	assert.True(t, report.Protection.Packed)
	assert.Equal(t, "Bangcle SecNeo", report.Protection.Name)
	assert.Equal(t, "Bangcle SecNeo", report.Summary().Packer)

	// 清单输入没有归档信息
	plain, err := a.Analyze(context.Background(), &Input{FileName: "m.xml", Manifest: textManifest(permCamera)})
	require.NoError(t, err)
	assert.Nil(t, plain.Protection)
}
