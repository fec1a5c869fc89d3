package display

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"  // registered for image.Decode
	_ "image/jpeg" // registered for image.Decode
	_ "image/png"  // registered for image.Decode

	"image/color"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Rasterisation constants.
const (
	// threshold separates black from white when flattening grayscale
	// pixels onto the 1-bit panel.
	threshold = 128

	// baseFontHeight is the height of the bitmap face used for text.
	// Requested font sizes are approximated by integer scaling.
	baseFontHeight = 13

	white = 0xFF
	black = 0x00
)

// decodeImage decodes PNG/JPEG/GIF payload bytes into an image.
func decodeImage(data []byte) (image.Image, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decoding image: %w", err)
	}
	return img, nil
}

// rasterizeImage flattens an image onto a packed 1-bit buffer of the
// panel's dimensions: grayscale conversion, nearest-neighbour resize,
// threshold to black/white, MSB-first row packing (1 = white).
func rasterizeImage(img image.Image, width, height int) []byte {
	bounds := img.Bounds()
	srcW := bounds.Dx()
	srcH := bounds.Dy()

	buf := newWhiteBuffer(width, height)
	for y := 0; y < height; y++ {
		sy := bounds.Min.Y + y*srcH/height
		for x := 0; x < width; x++ {
			sx := bounds.Min.X + x*srcW/width
			r, g, b, _ := img.At(sx, sy).RGBA()
			// Luma conversion on 16-bit channel values.
			gray := (299*r + 587*g + 114*b) / 1000 >> 8
			if gray < threshold {
				clearBit(buf, width, x, y)
			}
		}
	}
	return buf
}

// rasterizeText renders text onto a packed 1-bit buffer of the panel's
// dimensions. The bitmap face is scaled by integer nearest-neighbour to
// approximate the requested font size.
func rasterizeText(req TextRequest, width, height int) []byte {
	scale := req.FontSize / baseFontHeight
	if scale < 1 {
		scale = 1
	}

	face := basicfont.Face7x13
	drawer := &font.Drawer{Face: face}
	textWidth := drawer.MeasureString(req.Text).Ceil()
	if textWidth < 1 {
		textWidth = 1
	}

	// Render at base size onto a small mask, then blit scaled.
	mask := image.NewGray(image.Rect(0, 0, textWidth, face.Height+face.Descent))
	fillGray(mask, colorValue(req.BackgroundColor, white))
	drawer.Dst = mask
	drawer.Src = image.NewUniform(color.Gray{Y: colorValue(req.TextColor, black)})
	drawer.Dot = fixed.P(0, face.Ascent)
	drawer.DrawString(req.Text)

	buf := newWhiteBuffer(width, height)
	if colorValue(req.BackgroundColor, white) < threshold {
		// Dark background: start from an all-black frame.
		for i := range buf {
			buf[i] = 0x00
		}
	}

	maskBounds := mask.Bounds()
	for my := maskBounds.Min.Y; my < maskBounds.Max.Y; my++ {
		for mx := maskBounds.Min.X; mx < maskBounds.Max.X; mx++ {
			v := mask.GrayAt(mx, my).Y
			for dy := 0; dy < scale; dy++ {
				for dx := 0; dx < scale; dx++ {
					px := req.X + mx*scale + dx
					py := req.Y + my*scale + dy
					if px < 0 || px >= width || py < 0 || py >= height {
						continue
					}
					if v < threshold {
						clearBit(buf, width, px, py)
					} else {
						setBit(buf, width, px, py)
					}
				}
			}
		}
	}
	return buf
}

// newWhiteBuffer returns a packed 1-bit buffer with every pixel white.
func newWhiteBuffer(width, height int) []byte {
	buf := make([]byte, bufferSize(width, height))
	for i := range buf {
		buf[i] = white
	}
	return buf
}

// bufferSize returns the packed buffer length for the given dimensions.
func bufferSize(width, height int) int {
	return ((width + 7) / 8) * height
}

func setBit(buf []byte, width, x, y int) {
	rowBytes := (width + 7) / 8
	buf[y*rowBytes+x/8] |= 0x80 >> (x % 8)
}

func clearBit(buf []byte, width, x, y int) {
	rowBytes := (width + 7) / 8
	buf[y*rowBytes+x/8] &^= 0x80 >> (x % 8)
}

// colorValue maps the wire-protocol colour names onto gray levels.
// Unknown names fall back to the provided default.
func colorValue(name string, def uint8) uint8 {
	switch name {
	case "black":
		return black
	case "white":
		return white
	case "":
		return def
	default:
		return def
	}
}

func fillGray(img *image.Gray, v uint8) {
	for i := range img.Pix {
		img.Pix[i] = v
	}
}
