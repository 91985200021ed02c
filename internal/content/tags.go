// internal/content/tags.go
package content

import (
	"html"
	"regexp"
	"strings"

	"github.com/NekoFlux/CyberCompanion/internal/models"
)

// 识别的标签拼写 → 片段类型
// inner+thoughts 是 inner thoughts 的等价拼写，归一到同一类型
var tagKinds = map[string]models.SegmentKind{
	"speech":         models.SegmentSpeech,
	"inner thoughts": models.SegmentInnerThoughts,
	"inner+thoughts": models.SegmentInnerThoughts,
	"summary":        models.SegmentSummary,
	"feature":        models.SegmentFeature,
	"mem":            models.SegmentMem,
}

var brTag = regexp.MustCompile(`(?i)<br\s*/?>`)

// DecodeHTML 将 <br> 系列标签转为换行符，再解码HTML实体
func DecodeHTML(raw string) string {
	return html.UnescapeString(brTag.ReplaceAllString(raw, "\n"))
}

// ParseTags 将AI回复切分为有序的内容片段
//
// 单次从左到右扫描：每个位置上最先闭合的标签对胜出，标签不嵌套，
// 同类内层标签按外层片段的普通文本处理（就近闭合）。未闭合的开
// 标签连同其后内容按普通文本处理，因此对仍在流式传输的部分文本
// 调用是安全的。相邻标签之间的文本成为 text 片段，去除首尾空白
// 后为空的片段被丢弃。
func ParseTags(raw string) []models.ContentSegment {
	decoded := DecodeHTML(raw)

	var segments []models.ContentSegment
	appendSegment := func(kind models.SegmentKind, text string) {
		text = strings.TrimSpace(text)
		if text == "" {
			return
		}
		segments = append(segments, models.ContentSegment{Kind: kind, Text: text})
	}

	last := 0 // 上一个匹配对结束的位置
	pos := 0
	for pos < len(decoded) {
		lt := strings.Index(decoded[pos:], "<")
		if lt < 0 {
			break
		}
		open := pos + lt

		name, kind, ok := matchOpenTag(decoded[open:])
		if !ok {
			pos = open + 1
			continue
		}

		closing := "</" + name + ">"
		innerStart := open + len(name) + 2
		rel := strings.Index(decoded[innerStart:], closing)
		if rel < 0 {
			// 未闭合：保留为普通文本，继续找后面的完整标签对
			pos = open + 1
			continue
		}

		appendSegment(models.SegmentText, decoded[last:open])
		appendSegment(kind, decoded[innerStart:innerStart+rel])

		last = innerStart + rel + len(closing)
		pos = last
	}

	appendSegment(models.SegmentText, decoded[last:])
	return segments
}

// matchOpenTag 检查 s 是否以某个识别的开标签开头
// 拼写互不为前缀，至多命中一个
func matchOpenTag(s string) (string, models.SegmentKind, bool) {
	for tag, kind := range tagKinds {
		if len(s) >= len(tag)+2 && s[len(tag)+1] == '>' && s[1:len(tag)+1] == tag {
			return tag, kind, true
		}
	}
	return "", "", false
}

// TagSpan 返回第一个指定类型标签对的内部文本
// 未找到时返回空串和false
func TagSpan(raw string, kind models.SegmentKind) (string, bool) {
	for _, seg := range ParseTags(raw) {
		if seg.Kind == kind {
			return seg.Text, true
		}
	}
	return "", false
}

// SpeechSpans 返回全部 speech 片段内容，按出现顺序
func SpeechSpans(raw string) []string {
	var spans []string
	for _, seg := range ParseTags(raw) {
		if seg.Kind == models.SegmentSpeech {
			spans = append(spans, seg.Text)
		}
	}
	return spans
}
