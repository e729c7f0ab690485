package packer

import (
	"archive/zip"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestMatchLibName(t *testing.T) {
	tests := []struct {
		pattern, name string
		want          bool
	}{
		{"libjiagu.so", "libjiagu.so", true},
		{"libshellx.so", "libshellx-2.10.3.4.so", true},
		{"libDexHelper-x86.so", "libDexHelper.so", true},
		{"libcocklogic.so", "libc.so", false},
		{"libexec.so", "libexecmain.so", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, matchLibName(tt.pattern, tt.name), "%s vs %s", tt.pattern, tt.name)
	}
}

func TestStatsFromEntries(t *testing.T) {
	stats := StatsFromEntries([]Entry{
		{Name: "classes.dex", Size: 4096},
		{Name: "classes2.dex", Size: 4096},
		{Name: "assets/classes0.dex", Size: 900000},
		{Name: "lib/arm64-v8a/libjiagu_a64.so", Size: 2 << 20},
		{Name: "AndroidManifest.xml", Size: 2000},
	})

	assert.Equal(t, 2, stats.DexCount)
	assert.True(t, stats.MultiDex())
	assert.Equal(t, int64(8192), stats.DexSize)
	assert.Equal(t, []string{"libjiagu_a64.so"}, stats.NativeLibs)
	assert.Equal(t, int64(2<<20), stats.NativeSize)
	assert.Equal(t, []string{"assets/classes0.dex"}, stats.SuspiciousFiles)
}

func TestDetect(t *testing.T) {
	d := NewDetector(nil, testLogger())

	t.Run("named packer by native lib and stub class", func(t *testing.T) {
		stats := StatsFromEntries([]Entry{
			{Name: "classes.dex", Size: 2048},
			{Name: "lib/armeabi-v7a/libjiagu.so", Size: 1 << 20},
		})
		info := d.Detect(stats, `<application android:name="com.stub.StubApp">`)
		require.True(t, info.Packed)
		assert.Equal(t, "Qihoo 360 Jiagu", info.Name)
		assert.Equal(t, TypeNative, info.Type)
		assert.Equal(t, 0.8, info.Confidence)
		assert.Contains(t, info.Indicators, "stub_class:com.stub.StubApp")
	})

	t.Run("marker outside suspicious list", func(t *testing.T) {
		stats := StatsFromEntries([]Entry{
			{Name: "classes.dex", Size: 2 << 20},
			{Name: "assets/appsealing.sig", Size: 10},
			{Name: "lib/arm64-v8a/libAppSealing.so", Size: 1 << 20},
		})
		info := d.Detect(stats, "")
		require.True(t, info.Packed)
		assert.Equal(t, "AppSealing", info.Name)
		assert.InDelta(t, 0.6, info.Confidence, 1e-9)
	})

	t.Run("generic small dex payload", func(t *testing.T) {
		stats := StatsFromEntries([]Entry{
			{Name: "classes.dex", Size: 10 * 1024},
			{Name: "assets/dex/payload.bin", Size: 3 << 20},
		})
		info := d.Detect(stats, "")
		require.True(t, info.Packed)
		assert.Equal(t, TypeUnknown, info.Type)
		assert.Contains(t, info.Indicators, "dex_size_anomaly")
	})

	t.Run("clean app", func(t *testing.T) {
		stats := StatsFromEntries([]Entry{
			{Name: "classes.dex", Size: 3 << 20},
			{Name: "lib/arm64-v8a/libc++_shared.so", Size: 1 << 20},
			{Name: "res/layout/main.xml", Size: 300},
		})
		info := d.Detect(stats, `<application android:name="com.example.App">`)
		assert.False(t, info.Packed)
		assert.Empty(t, info.Indicators)
		assert.Equal(t, "no packer detected", Summary(info))
	})

	t.Run("nil stats", func(t *testing.T) {
		assert.False(t, d.Detect(nil, "").Packed)
	})
}

func TestCustomRulesPriority(t *testing.T) {
	d := NewDetector([]Rule{
		{Name: "low", Type: TypeUnknown, NativeLibs: []string{"libx.so"}, Priority: 1},
		{Name: "high", Type: TypeNative, NativeLibs: []string{"libx.so"}, Priority: 9},
	}, testLogger())

	info := d.Detect(StatsFromEntries([]Entry{{Name: "lib/x86/libx.so", Size: 1}}), "")
	assert.Equal(t, "high", info.Name)
	assert.Contains(t, Summary(info), "packed with high")
}

func TestCollectStats(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.apk")
	f, err := os.Create(path)
	require.NoError(t, err)
	zw := zip.NewWriter(f)
	for _, name := range []string{"classes.dex", "lib/arm64-v8a/libshell.so"} {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("payload"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	require.NoError(t, f.Close())

	stats, err := CollectStats(path)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.DexCount)
	assert.Equal(t, int64(7), stats.DexSize)
	assert.Equal(t, []string{"libshell.so"}, stats.NativeLibs)

	_, err = CollectStats(filepath.Join(t.TempDir(), "missing.apk"))
	assert.Error(t, err)
}
