package cli

import (
	"strings"

	"github.com/skip2/go-qrcode"
)

// halfBlocks maps a (top, bottom) module pair to a terminal rune so that
// two QR rows fit in one text line.
var halfBlocks = [2][2]rune{
	{' ', '▄'},
	{'▀', '█'},
}

// renderQR draws content as a QR code using Unicode half blocks.
func renderQR(content string) string {
	qr, err := qrcode.New(content, qrcode.Medium)
	if err != nil {
		return "(QR generation failed: " + err.Error() + ")\n"
	}
	bitmap := qr.Bitmap()

	var sb strings.Builder
	for y := 0; y < len(bitmap); y += 2 {
		for x := range bitmap[y] {
			top, bot := 0, 0
			if bitmap[y][x] {
				top = 1
			}
			if y+1 < len(bitmap) && bitmap[y+1][x] {
				bot = 1
			}
			sb.WriteRune(halfBlocks[top][bot])
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}
