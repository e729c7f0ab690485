// Package watcher 监听投递目录中新出现的安装包和清单文件
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// FileHandler 文件处理函数
type FileHandler func(ctx context.Context, filePath string) error

// Options 监听参数
type Options struct {
	Patterns     []string      // 文件匹配模式，默认 *.apk 和 *.xml
	Debounce     time.Duration // 同一文件事件合并窗口
	PollInterval time.Duration // 检查写入是否完成的间隔
	ScanExisting bool          // 启动时处理目录中已有文件
}

// FileWatcher 文件监控器
type FileWatcher struct {
	watcher  *fsnotify.Watcher
	watchDir string
	opts     Options
	handler  FileHandler
	logger   *logrus.Logger
	stopChan chan struct{}
	stopOnce sync.Once

	mu         sync.Mutex
	timers     map[string]*time.Timer
	processing map[string]bool
}

// NewFileWatcher 创建文件监控器
func NewFileWatcher(watchDir string, opts Options, handler FileHandler, logger *logrus.Logger) (*FileWatcher, error) {
	if len(opts.Patterns) == 0 {
		opts.Patterns = []string{"*.apk", "*.xml"}
	}
	if opts.Debounce <= 0 {
		opts.Debounce = 2 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}

	if err := os.MkdirAll(watchDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create watch directory: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := w.Add(watchDir); err != nil {
		w.Close()
		return nil, fmt.Errorf("failed to add watch directory: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"watch_dir": watchDir,
		"patterns":  opts.Patterns,
	}).Info("File watcher created")

	return &FileWatcher{
		watcher:    w,
		watchDir:   watchDir,
		opts:       opts,
		handler:    handler,
		logger:     logger,
		stopChan:   make(chan struct{}),
		timers:     make(map[string]*time.Timer),
		processing: make(map[string]bool),
	}, nil
}

// Start 启动文件监控
func (fw *FileWatcher) Start(ctx context.Context) error {
	if fw.opts.ScanExisting {
		if err := fw.scanExistingFiles(ctx); err != nil {
			fw.logger.WithError(err).Warn("Failed to scan existing files")
		}
	}

	go fw.eventLoop(ctx)
	fw.logger.Info("File watcher started")
	return nil
}

// scanExistingFiles 处理目录中已有的文件
func (fw *FileWatcher) scanExistingFiles(ctx context.Context) error {
	entries, err := os.ReadDir(fw.watchDir)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !fw.matchPattern(entry.Name()) {
			continue
		}
		fw.schedule(ctx, filepath.Join(fw.watchDir, entry.Name()))
	}
	return nil
}

func (fw *FileWatcher) eventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-fw.stopChan:
			return
		case event, ok := <-fw.watcher.Events:
			if !ok {
				return
			}

			// 只处理创建和写入事件
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !fw.matchPattern(filepath.Base(event.Name)) {
				continue
			}

			fw.logger.WithFields(logrus.Fields{
				"event": event.Op.String(),
				"file":  filepath.Base(event.Name),
			}).Debug("File event detected")
			fw.schedule(ctx, event.Name)

		case err, ok := <-fw.watcher.Errors:
			if !ok {
				return
			}
			fw.logger.WithError(err).Error("Watcher error")
		}
	}
}

// schedule 防抖：同一文件在窗口内多次触发只处理一次
func (fw *FileWatcher) schedule(ctx context.Context, path string) {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	if timer, exists := fw.timers[path]; exists {
		timer.Stop()
	}
	fw.timers[path] = time.AfterFunc(fw.opts.Debounce, func() {
		fw.mu.Lock()
		delete(fw.timers, path)
		fw.mu.Unlock()
		fw.handleFile(ctx, path)
	})
}

func (fw *FileWatcher) handleFile(ctx context.Context, path string) {
	fw.mu.Lock()
	if fw.processing[path] {
		fw.mu.Unlock()
		return
	}
	fw.processing[path] = true
	fw.mu.Unlock()

	defer func() {
		fw.mu.Lock()
		delete(fw.processing, path)
		fw.mu.Unlock()
	}()

	log := fw.logger.WithField("file", path)
	if err := fw.waitForFileReady(ctx, path); err != nil {
		log.WithError(err).Error("File not ready")
		return
	}

	if err := fw.handler(ctx, path); err != nil {
		log.WithError(err).Error("Failed to process file")
		return
	}
	log.Info("File handed off for scanning")
}

// waitForFileReady 等待文件大小稳定（写入完成）
func (fw *FileWatcher) waitForFileReady(ctx context.Context, path string) error {
	const maxAttempts = 10

	var lastSize int64 = -1
	for i := 0; i < maxAttempts; i++ {
		info, err := os.Stat(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("file does not exist")
			}
			return err
		}

		if info.Size() > 0 && info.Size() == lastSize {
			return nil
		}
		lastSize = info.Size()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(fw.opts.PollInterval):
		}
	}

	return fmt.Errorf("file not ready after %d attempts", maxAttempts)
}

// matchPattern 检查文件名是否匹配任一模式（大小写不敏感）
func (fw *FileWatcher) matchPattern(fileName string) bool {
	name := strings.ToLower(fileName)
	for _, pattern := range fw.opts.Patterns {
		if ok, _ := filepath.Match(strings.ToLower(pattern), name); ok {
			return true
		}
	}
	return false
}

// Stop 停止文件监控
func (fw *FileWatcher) Stop() error {
	var err error
	fw.stopOnce.Do(func() {
		close(fw.stopChan)

		fw.mu.Lock()
		for path, timer := range fw.timers {
			timer.Stop()
			delete(fw.timers, path)
		}
		fw.mu.Unlock()

		err = fw.watcher.Close()
		fw.logger.Info("File watcher stopped")
	})
	return err
}

// WatchDir 监控目录
func (fw *FileWatcher) WatchDir() string {
	return fw.watchDir
}
