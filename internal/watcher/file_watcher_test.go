package watcher

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu    sync.Mutex
	files []string
}

func (r *recorder) handle(ctx context.Context, path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files = append(r.files, filepath.Base(path))
	return nil
}

func (r *recorder) snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.files...)
}

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func fastOptions() Options {
	return Options{Debounce: 20 * time.Millisecond, PollInterval: 10 * time.Millisecond}
}

func TestFileWatcher_MatchPattern(t *testing.T) {
	fw := &FileWatcher{opts: Options{Patterns: []string{"*.apk", "*.xml"}}}

	assert.True(t, fw.matchPattern("app.apk"))
	assert.True(t, fw.matchPattern("APP.APK"))
	assert.True(t, fw.matchPattern("AndroidManifest.xml"))
	assert.False(t, fw.matchPattern("app.apk.part"))
	assert.False(t, fw.matchPattern("notes.txt"))
}

// TestFileWatcher_DetectsNewFiles 新文件只处理一次
func TestFileWatcher_DetectsNewFiles(t *testing.T) {
	dir := t.TempDir()
	rec := &recorder{}

	fw, err := NewFileWatcher(dir, fastOptions(), rec.handle, testLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))
	defer fw.Stop()

	path := filepath.Join(dir, "drop.apk")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04 first"), 0o644))
	// 第二次写入触发 Write 事件，应被合并
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04 second write"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644))

	assert.Eventually(t, func() bool {
		return len(rec.snapshot()) == 1
	}, 3*time.Second, 10*time.Millisecond)

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, []string{"drop.apk"}, rec.snapshot())
}

func TestFileWatcher_ScanExisting(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AndroidManifest.xml"), []byte("<manifest/>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "readme.md"), []byte("x"), 0o644))

	rec := &recorder{}
	opts := fastOptions()
	opts.ScanExisting = true

	fw, err := NewFileWatcher(dir, opts, rec.handle, testLogger())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, fw.Start(ctx))
	defer fw.Stop()

	assert.Eventually(t, func() bool {
		files := rec.snapshot()
		return len(files) == 1 && files[0] == "AndroidManifest.xml"
	}, 3*time.Second, 10*time.Millisecond)
}

func TestFileWatcher_StopIdempotent(t *testing.T) {
	fw, err := NewFileWatcher(t.TempDir(), fastOptions(), (&recorder{}).handle, testLogger())
	require.NoError(t, err)

	assert.NoError(t, fw.Stop())
	assert.NoError(t, fw.Stop())
}
