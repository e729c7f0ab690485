package manifest

import (
	"bytes"
	"strings"
)

// minReadableRun 可读字符串的最短长度
const minReadableRun = 4

// IsBinaryText NUL 字节超过 10% 视为二进制
func IsBinaryText(data []byte) bool {
	return bytes.Count(data, []byte{0})*10 > len(data)
}

// ExtractReadableStrings 从二进制内容中抓取可打印 ASCII 及 UTF-16LE 片段
// 仅用于所有解码方式都失败时，至少还能找到权限字符串
func ExtractReadableStrings(data []byte) string {
	var runs []string
	var cur strings.Builder

	flush := func() {
		if cur.Len() >= minReadableRun {
			runs = append(runs, cur.String())
		}
		cur.Reset()
	}

	for i := 0; i < len(data); {
		b := data[i]
		if !isPrintable(b) {
			flush()
			i++
			continue
		}
		cur.WriteByte(b)
		// UTF-16LE 的 ASCII 字符：字节后跟 0x00
		if i+1 < len(data) && data[i+1] == 0 {
			i += 2
		} else {
			i++
		}
	}
	flush()

	return strings.Join(runs, "\n")
}

func isPrintable(b byte) bool {
	return b >= 32 && b <= 126
}
