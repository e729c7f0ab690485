package analysis

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/apk-analysis/apk-risk-analyzer/internal/packer"
	"github.com/avast/apkparser"
	"github.com/sirupsen/logrus"
)

const (
	manifestEntry = "AndroidManifest.xml"
	dexEntry      = "classes.dex"

	FileTypeAPK = "apk"
	FileTypeXML = "xml"
)

var (
	// ErrUnsupportedInput 不支持的文件类型
	ErrUnsupportedInput = errors.New("Unsupported file type. Please upload an .apk or .xml file.")
	// ErrManifestNotFound APK 内没有清单文件
	ErrManifestNotFound = errors.New("AndroidManifest.xml not found inside the APK.")
	// ErrInvalidArchive APK 无法作为 ZIP 打开
	ErrInvalidArchive   = errors.New("Could not open APK. The file may be corrupted or not a valid APK/ZIP archive.")
)

// Input 一次分析的原始输入
type Input struct {
	FileName string
	FileType string
	FileSize int64
	MD5      string
	SHA256   string
	Manifest []byte
	Dex      []byte               // 可为空
	Archive  *packer.ArchiveStats // 仅 APK
}

// Source 负责从外部载入原始输入
type Source interface {
	Load(ctx context.Context, path string) (*Input, error)
}

// FileSource 从本地文件载入 .apk / .xml
type FileSource struct {
	logger *logrus.Logger
}

// NewFileSource 创建文件载入器
func NewFileSource(logger *logrus.Logger) *FileSource {
	return &FileSource{logger: logger}
}

// IsSupported 判断扩展名是否支持
func IsSupported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".apk", ".xml":
		return true
	}
	return false
}

// Load 按扩展名载入文件
func (fs *FileSource) Load(ctx context.Context, path string) (*Input, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		in  *Input
		err error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".xml":
		in, err = fs.loadXML(path)
	case ".apk":
		in, err = fs.loadAPK(path)
	default:
		return nil, ErrUnsupportedInput
	}
	if err != nil {
		return nil, err
	}

	hashes, size, err := calculateHashes(path)
	if err != nil {
		fs.logger.WithError(err).Warn("Failed to calculate hashes")
	} else {
		in.MD5 = hashes["md5"]
		in.SHA256 = hashes["sha256"]
		in.FileSize = size
	}

	fs.logger.WithFields(logrus.Fields{
		"file":      in.FileName,
		"type":      in.FileType,
		"has_dex":   len(in.Dex) > 0,
		"file_size": in.FileSize,
	}).Debug("Input loaded")

	return in, nil
}

func (fs *FileSource) loadXML(path string) (*Input, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return &Input{
		FileName: filepath.Base(path),
		FileType: FileTypeXML,
		Manifest: data,
	}, nil
}

func (fs *FileSource) loadAPK(path string) (*Input, error) {
	zr, err := apkparser.OpenZip(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer zr.Close()

	manifestFile := zr.File[manifestEntry]
	if manifestFile == nil {
		return nil, ErrManifestNotFound
	}
	manifest, err := readEntry(manifestFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", manifestEntry, err)
	}

	in := &Input{
		FileName: filepath.Base(path),
		FileType: FileTypeAPK,
		Manifest: manifest,
	}

	// 归档统计失败只影响加固检测
	if stats, err := packer.CollectStats(path); err != nil {
		fs.logger.WithError(err).Debug("Failed to collect archive stats, skipping packer detection")
	} else {
		in.Archive = stats
	}

	// classes.dex 缺失或损坏不影响分析
	if dexFile := zr.File[dexEntry]; dexFile != nil {
		if data, err := readEntry(dexFile); err != nil {
			fs.logger.WithError(err).Warn("Failed to read classes.dex, skipping code scan")
		} else {
			in.Dex = data
		}
	}

	return in, nil
}

func readEntry(f *apkparser.ZipReaderFile) ([]byte, error) {
	if err := f.Open(); err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// calculateHashes 计算文件哈希
func calculateHashes(path string) (map[string]string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, err
	}
	defer f.Close()

	md5Hash := md5.New()
	sha256Hash := sha256.New()
	size, err := io.Copy(io.MultiWriter(md5Hash, sha256Hash), f)
	if err != nil {
		return nil, 0, err
	}

	return map[string]string{
		"md5":    hex.EncodeToString(md5Hash.Sum(nil)),
		"sha256": hex.EncodeToString(sha256Hash.Sum(nil)),
	}, size, nil
}
