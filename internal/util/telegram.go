package util

import (
	"strings"
	"unicode/utf16"
)

const (
	// TelegramMessageLimit is the sendMessage text limit in UTF-16 code units.
	TelegramMessageLimit = 4096
	// TelegramCaptionLimit applies to photo captions.
	TelegramCaptionLimit = 1024

	ellipsis = "…"
)

// UTF16Len counts text the way the Bot API does.
func UTF16Len(text string) int {
	n := 0
	for _, r := range text {
		n += utf16.RuneLen(r)
	}
	return n
}

// 한도를 넘으면 줄 단위로 자르고 말줄임표를 붙인다.
func ClampMessage(text string, limit int) string {
	if limit <= 0 || UTF16Len(text) <= limit {
		return text
	}
	budget := limit - UTF16Len(ellipsis)
	var b strings.Builder
	used := 0
	for _, line := range strings.SplitAfter(text, "\n") {
		n := UTF16Len(line)
		if used+n > budget {
			if used == 0 {
				// 첫 줄부터 넘치면 rune 단위로 자른다
				for _, r := range line {
					rn := utf16.RuneLen(r)
					if used+rn > budget {
						break
					}
					b.WriteRune(r)
					used += rn
				}
			}
			break
		}
		b.WriteString(line)
		used += n
	}
	return strings.TrimRight(b.String(), "\n") + ellipsis
}
