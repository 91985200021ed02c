// internal/content/scene.go
package content

import (
	"strings"

	"github.com/NekoFlux/CyberCompanion/internal/models"
)

// 六个场景字段的标签文本，出现顺序不影响提取结果
var sceneLabels = []string{
	"场景",
	"服饰状态细节",
	"姿态动作",
	"事件信息提炼",
	"发情程度",
	"心动程度",
}

// 发情程度/心动程度的窄值文法：可选负号 + 数字或中文程度词
const narrowValueChars = "0123456789一二三四五六七八九十几中高低"

// ExtractScene 从AI回复中提取场景信息
//
// 与标签解析不同，这里先丢弃全部标记结构，在压平后的文本上做
// 与顺序无关的标签匹配。宽字段的值一直取到下一个已知标签（允许
// 中间隔着分隔符）或文本末尾；发情程度/心动程度只接受窄值文法，
// 在第一个文法外字符处截断。冒号同时接受半角与全角
func ExtractScene(raw string) models.SceneFields {
	text := flatten(raw)

	get := func(label string) string { return extractWide(text, label) }
	getNarrow := func(label string) string { return extractNarrow(text, label) }

	return models.SceneFields{
		Location:    get("场景"),
		Attire:      get("服饰状态细节"),
		Posture:     get("姿态动作"),
		EventDigest: get("事件信息提炼"),
		Arousal:     getNarrow("发情程度"),
		Affinity:    getNarrow("心动程度"),
	}
}

// flatten 解码实体、剥离标记、压缩空白
func flatten(raw string) string {
	decoded := DecodeHTML(raw)
	stripped := stripMarkup(decoded)
	return strings.Join(strings.Fields(stripped), " ")
}

// stripMarkup 移除所有 <...> 形式的标记；没有闭合 > 的孤立 < 保留原样
func stripMarkup(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		if s[i] != '<' {
			b.WriteByte(s[i])
			i++
			continue
		}
		gt := strings.IndexByte(s[i+1:], '>')
		if gt <= 0 {
			// 无闭合或空标记，按普通字符处理
			b.WriteByte(s[i])
			i++
			continue
		}
		i += gt + 2
	}
	return b.String()
}

// extractWide 提取宽字段：标签后可有空白，冒号后取值直到下一个标签或结尾
func extractWide(text, label string) string {
	start, ok := findLabelValue(text, label, true)
	if !ok {
		return models.FieldUnspecified
	}

	end := len(text)
	for _, next := range sceneLabels {
		idx := start
		for {
			rel := strings.Index(text[idx:], next)
			if rel < 0 {
				break
			}
			labelAt := idx + rel
			// 只有紧跟冒号的出现才算边界，正文里裸写的标签词不截断
			if j := skipSpaces(text, labelAt+len(next)); colonLen(text, j) > 0 {
				boundary := backtrackSeparators(text, start, labelAt)
				if boundary < end {
					end = boundary
				}
				break
			}
			idx = labelAt + len(next)
		}
	}

	return cleanValue(text[start:end])
}

// extractNarrow 提取窄字段：标签后必须直接跟冒号，值按窄文法取到首个非法字符
func extractNarrow(text, label string) string {
	start, ok := findLabelValue(text, label, false)
	if !ok {
		return models.FieldUnspecified
	}

	rest := text[start:]
	var b strings.Builder
	if strings.HasPrefix(rest, "-") {
		b.WriteByte('-')
		rest = rest[1:]
	}
	for _, r := range rest {
		if !strings.ContainsRune(narrowValueChars, r) {
			break
		}
		b.WriteRune(r)
	}

	value := strings.TrimPrefix(b.String(), "-")
	if value == "" {
		return models.FieldUnspecified
	}
	return b.String()
}

// findLabelValue 定位首个"标签[:：]"并返回值的起始下标
// allowSpace 控制标签与冒号之间以及冒号之后是否允许空白
func findLabelValue(text, label string, allowSpace bool) (int, bool) {
	from := 0
	for {
		rel := strings.Index(text[from:], label)
		if rel < 0 {
			return 0, false
		}
		i := from + rel + len(label)
		if allowSpace {
			i = skipSpaces(text, i)
		}
		if n := colonLen(text, i); n > 0 {
			i += n
			if allowSpace {
				i = skipSpaces(text, i)
			}
			return i, true
		}
		from += rel + len(label)
	}
}

func skipSpaces(text string, i int) int {
	for i < len(text) && text[i] == ' ' {
		i++
	}
	return i
}

// colonLen 返回位置 i 处冒号的字节长度，半角1字节，全角3字节
func colonLen(text string, i int) int {
	if i < len(text) && text[i] == ':' {
		return 1
	}
	if strings.HasPrefix(text[i:], "：") {
		return len("：")
	}
	return 0
}

// backtrackSeparators 从下一个标签的起点回退空白和分隔符，得到当前值的右边界
func backtrackSeparators(text string, start, labelAt int) int {
	end := labelAt
	end = trimRightRun(text, start, end, " ")
	end = trimRightRun(text, start, end, ";；、，,")
	end = trimRightRun(text, start, end, " ")
	return end
}

// trimRightRun 回退 text[start:end] 末尾连续属于 cutset 的字符
func trimRightRun(text string, start, end int, cutset string) int {
	trimmed := strings.TrimRight(text[start:end], cutset)
	return start + len(trimmed)
}

// cleanValue 去除值末尾的分隔符与空白，空值回退为占位符
func cleanValue(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimRight(v, ";；、，, ")
	v = strings.TrimSpace(v)
	if v == "" {
		return models.FieldUnspecified
	}
	return v
}
