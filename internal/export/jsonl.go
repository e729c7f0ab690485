// Package export 报告的 JSONL 流式导出与读取
package export

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/apk-analysis/apk-risk-analyzer/internal/analysis"
)

// maxLineSize 单行上限，带清单原文的报告可能很大
const maxLineSize = 16 * 1024 * 1024

// Writer 每行一份报告
type Writer struct {
	closer io.Closer
	writer *bufio.Writer
	count  int
}

// NewWriter 写入任意 io.Writer（如 stdout）
func NewWriter(w io.Writer) *Writer {
	return &Writer{writer: bufio.NewWriterSize(w, 64*1024)}
}

// CreateFile 追加写入文件
func CreateFile(path string) (*Writer, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	w := NewWriter(file)
	w.closer = file
	return w, nil
}

// WriteReport 写入完整报告
func (w *Writer) WriteReport(report *analysis.Report) error {
	return w.writeLine(report)
}

// WriteSummary 只写摘要
func (w *Writer) WriteSummary(summary analysis.Summary) error {
	return w.writeLine(summary)
}

func (w *Writer) writeLine(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal line %d: %w", w.count+1, err)
	}
	if _, err := w.writer.Write(data); err != nil {
		return err
	}
	if err := w.writer.WriteByte('\n'); err != nil {
		return err
	}
	w.count++
	return nil
}

// Count 已写入行数
func (w *Writer) Count() int {
	return w.count
}

// Flush 刷新缓冲区
func (w *Writer) Flush() error {
	return w.writer.Flush()
}

// Close 刷新并关闭底层文件
func (w *Writer) Close() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if w.closer != nil {
		return w.closer.Close()
	}
	return nil
}

// Reader 逐行读取报告
type Reader struct {
	closer  io.Closer
	scanner *bufio.Scanner
	lineNum int
}

// NewReader 从 io.Reader 读取
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxLineSize)
	return &Reader{scanner: scanner}
}

// OpenFile 打开 JSONL 文件
func OpenFile(path string) (*Reader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open export file: %w", err)
	}
	r := NewReader(file)
	r.closer = file
	return r, nil
}

// Next 读取下一份报告，结束时返回 io.EOF
func (r *Reader) Next() (*analysis.Report, error) {
	for r.scanner.Scan() {
		r.lineNum++
		line := r.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var report analysis.Report
		if err := json.Unmarshal(line, &report); err != nil {
			return nil, fmt.Errorf("line %d: %w", r.lineNum, err)
		}
		return &report, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// LineNumber 当前行号
func (r *Reader) LineNumber() int {
	return r.lineNum
}

// Close 关闭底层文件
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// ForEach 依次回调每份报告
func ForEach(path string, fn func(*analysis.Report) error) error {
	r, err := OpenFile(path)
	if err != nil {
		return err
	}
	defer r.Close()

	for {
		report, err := r.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(report); err != nil {
			return err
		}
	}
}
