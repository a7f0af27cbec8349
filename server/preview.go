package server

import (
	"image"

	"github.com/nfnt/resize"
)

// resizeWithinMax 缩放（最长边 <= maxSize），不够大的图原样返回。
// 结果只用来 png.Encode 写回响应，不再进入掩码计算，所以直接返回
// resize 给的 image.Image，不转 NRGBA；极端长宽比时短边至少保留 1 像素。
func resizeWithinMax(img image.Image, maxSize int) image.Image {
	w := img.Bounds().Dx()
	h := img.Bounds().Dy()
	longest := max(w, h)

	if longest <= maxSize {
		return img
	}

	scale := float64(maxSize) / float64(longest)
	newW := max(1, int(float64(w)*scale))
	newH := max(1, int(float64(h)*scale))

	return resize.Resize(uint(newW), uint(newH), img, resize.Lanczos3)
}
