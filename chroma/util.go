package chroma

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// ToNRGBA 复制成从 (0,0) 开始的 NRGBA。
// 非预乘来源（NRGBA、NRGBA64、调色板图，以及颜色模型是 NRGBA/NRGBA64 的图）
// 逐像素保留原始 R/G/B，哪怕 alpha 为 0，16 位通道取高字节；
// 其余格式（RGB、灰度、YCbCr 等）没有独立的透明信息，按不透明转换。
func ToNRGBA(img image.Image) *image.NRGBA {
	b := img.Bounds()
	dst := image.NewNRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))

	switch src := img.(type) {
	case *image.NRGBA:
		n := b.Dx() * 4
		for y := 0; y < b.Dy(); y++ {
			si := src.PixOffset(b.Min.X, b.Min.Y+y)
			copy(dst.Pix[y*dst.Stride:y*dst.Stride+n], src.Pix[si:si+n])
		}
	case *image.NRGBA64:
		for y := 0; y < b.Dy(); y++ {
			si := src.PixOffset(b.Min.X, b.Min.Y+y)
			di := y * dst.Stride
			for x := 0; x < b.Dx(); x++ {
				s, d := si+x*8, di+x*4
				dst.Pix[d] = src.Pix[s]
				dst.Pix[d+1] = src.Pix[s+2]
				dst.Pix[d+2] = src.Pix[s+4]
				dst.Pix[d+3] = src.Pix[s+6]
			}
		}
	default:
		if !straightAlpha(img) {
			draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
			break
		}
		for y := 0; y < b.Dy(); y++ {
			for x := 0; x < b.Dx(); x++ {
				dst.SetNRGBA(x, y, nrgbaOf(img.At(b.Min.X+x, b.Min.Y+y)))
			}
		}
	}
	return dst
}

// straightAlpha 判断来源是否按非预乘 alpha 存颜色
func straightAlpha(img image.Image) bool {
	if _, ok := img.(*image.Paletted); ok {
		return true
	}
	m := img.ColorModel()
	return m == color.NRGBAModel || m == color.NRGBA64Model
}

// nrgbaOf 不经过预乘把单个颜色转成 8 位 NRGBA
func nrgbaOf(c color.Color) color.NRGBA {
	switch v := c.(type) {
	case color.NRGBA:
		return v
	case color.NRGBA64:
		return color.NRGBA{R: uint8(v.R >> 8), G: uint8(v.G >> 8), B: uint8(v.B >> 8), A: uint8(v.A >> 8)}
	default:
		return color.NRGBAModel.Convert(c).(color.NRGBA)
	}
}

// HasTransparency 只要存在非 255 的 alpha，就认为输入已经带透明信息
func HasTransparency(img *image.NRGBA) bool {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			if img.Pix[row+x*4+3] != 255 {
				return true
			}
		}
	}
	return false
}

// ForegroundBounds 从 alpha 通道计算主体 bounding box（alpha > 0 的像素），
// 整张图都透明时返回 false
func ForegroundBounds(img *image.NRGBA) (image.Rectangle, bool) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	minX, minY := w, h
	maxX, maxY := 0, 0
	found := false

	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			if img.Pix[row+x*4+3] == 0 {
				continue
			}
			found = true
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x)
			maxY = max(maxY, y)
		}
	}

	if !found {
		return image.Rectangle{}, false
	}
	return image.Rect(minX, minY, maxX+1, maxY+1), true
}
