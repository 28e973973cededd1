package contract

import (
	"path"
	"strings"
)

// NormalizeDocID 规范化路径，统一为跨平台稳定的 DocID。
// 规则：
// - 使用正斜杠分隔符
// - 清理多余分隔符与路径片段（.、..）
// - 保留相对/绝对语义，不做隐式绝对化
// - "-" 原样保留（STDIN/STDOUT）
func NormalizeDocID(p string) DocID {
	if p == "-" {
		return DocID("stdin")
	}
	return DocID(path.Clean(strings.ReplaceAll(p, `\`, "/")))
}
