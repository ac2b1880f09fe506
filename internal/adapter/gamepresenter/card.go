package gamepresenter

import (
	"bytes"
	"embed"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"strings"
	"sync"
	"unicode"

	"github.com/srwiley/oksvg"
	"github.com/srwiley/rasterx"
	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/park285/guessword-bot/internal/domain"
)

//go:embed assets/*.svg
var iconFiles embed.FS

const (
	cardPadding  = 32
	cardRow      = 96
	cardIcon     = 64
	cardGap      = 24
	textScale    = 4
	titleScale   = 2
	minCardWidth = 480
)

var (
	cardBackground = color.RGBA{R: 0x1f, G: 0x23, B: 0x2b, A: 0xff}
	cardBorder     = color.RGBA{R: 0xf2, G: 0xb1, B: 0x34, A: 0xff}
	cardText       = color.RGBA{R: 0xf5, G: 0xf5, B: 0xf5, A: 0xff}
	cardMuted      = color.RGBA{R: 0x9a, G: 0xa4, B: 0xb2, A: 0xff}
)

type iconKey struct {
	name string
	size int
}

var (
	iconCache   = map[iconKey]image.Image{}
	iconCacheMu sync.RWMutex
)

// CardSupported reports whether the built-in bitmap font can draw text.
func CardSupported(text string) bool {
	for _, r := range text {
		if r > unicode.MaxASCII || !unicode.IsPrint(r) {
			return false
		}
	}
	return strings.TrimSpace(text) != ""
}

// RenderCard draws the phrase one word per row: a check for words the bot found,
// a lock for the rest.
func RenderCard(title string, phrase domain.Phrase) ([]byte, error) {
	if len(phrase) == 0 {
		return nil, fmt.Errorf("empty phrase")
	}
	face := basicfont.Face7x13
	longest := 0
	for _, w := range phrase {
		if n := font.MeasureString(face, w.Text).Ceil(); n > longest {
			longest = n
		}
	}
	width := cardPadding*2 + cardIcon + cardGap + longest*textScale
	if width < minCardWidth {
		width = minCardWidth
	}
	titleH := 0
	if title != "" {
		titleH = face.Height*titleScale + cardGap
	}
	height := cardPadding*2 + titleH + len(phrase)*cardRow

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	xdraw.Draw(img, img.Bounds(), image.NewUniform(cardBorder), image.Point{}, xdraw.Src)
	xdraw.Draw(img, img.Bounds().Inset(6), image.NewUniform(cardBackground), image.Point{}, xdraw.Src)

	y := cardPadding
	if title != "" {
		drawText(img, cardPadding, y, title, titleScale, cardMuted)
		y += titleH
	}
	for _, w := range phrase {
		name := "lock.svg"
		if w.Revealed {
			name = "check.svg"
		}
		icon, err := renderIcon(name, cardIcon)
		if err != nil {
			return nil, err
		}
		iy := y + (cardRow-cardIcon)/2
		xdraw.Draw(img, image.Rect(cardPadding, iy, cardPadding+cardIcon, iy+cardIcon), icon, image.Point{}, xdraw.Over)

		ty := y + (cardRow-face.Height*textScale)/2
		drawText(img, cardPadding+cardIcon+cardGap, ty, w.Text, textScale, cardText)
		y += cardRow
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode card: %w", err)
	}
	return buf.Bytes(), nil
}

// drawText renders s with the 7x13 bitmap face and scales it up without smoothing.
func drawText(dst *image.RGBA, x, y int, s string, scale int, col color.Color) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, s).Ceil()
	if w == 0 {
		return
	}
	small := image.NewRGBA(image.Rect(0, 0, w, face.Height))
	d := &font.Drawer{Dst: small, Src: image.NewUniform(col), Face: face, Dot: fixed.P(0, face.Ascent)}
	d.DrawString(s)
	xdraw.NearestNeighbor.Scale(dst, image.Rect(x, y, x+w*scale, y+face.Height*scale), small, small.Bounds(), xdraw.Over, nil)
}

func renderIcon(name string, size int) (image.Image, error) {
	key := iconKey{name: name, size: size}
	iconCacheMu.RLock()
	if img, ok := iconCache[key]; ok {
		iconCacheMu.RUnlock()
		return img, nil
	}
	iconCacheMu.RUnlock()

	data, err := iconFiles.ReadFile("assets/" + name)
	if err != nil {
		return nil, fmt.Errorf("read icon %s: %w", name, err)
	}
	icon, err := oksvg.ReadIconStream(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse icon %s: %w", name, err)
	}
	icon.SetTarget(0, 0, float64(size), float64(size))

	img := image.NewRGBA(image.Rect(0, 0, size, size))
	scanner := rasterx.NewScannerGV(size, size, img, img.Bounds())
	raster := rasterx.NewDasher(size, size, scanner)
	icon.Draw(raster, 1.0)

	iconCacheMu.Lock()
	iconCache[key] = img
	iconCacheMu.Unlock()
	return img, nil
}
