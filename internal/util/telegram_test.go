package util

import (
	"strings"
	"testing"
)

func TestUTF16Len(t *testing.T) {
	if n := UTF16Len("ab😀"); n != 4 { t.Fatalf("len: %d", n) }
}

func TestClampMessageKeepsShortText(t *testing.T) {
	if got := ClampMessage("hello\nworld", 20); got != "hello\nworld" { t.Fatalf("got %q", got) }
}

func TestClampMessageCutsAtLine(t *testing.T) {
	text := "1. <b>ann</b>\n2. <b>bob</b>\n3. <b>cid</b>"
	got := ClampMessage(text, 30)
	if got != "1. <b>ann</b>\n2. <b>bob</b>…" { t.Fatalf("got %q", got) }
	if UTF16Len(got) > 30 { t.Fatalf("over limit: %d", UTF16Len(got)) }
}

func TestClampMessageCutsLongLine(t *testing.T) {
	got := ClampMessage(strings.Repeat("😀", 10), 9)
	if got != strings.Repeat("😀", 4)+"…" { t.Fatalf("got %q", got) }
}
