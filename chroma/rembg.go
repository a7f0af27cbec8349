package chroma

import (
	"errors"
	"image"
	"log/slog"
)

type Remover interface {
	Remove(img image.Image) (image.Image, error)
}

// MagentaRemover 品红色键抠图 + 右下角水印清除
type MagentaRemover struct{}

func NewMagentaRemover() *MagentaRemover {
	return &MagentaRemover{}
}

func (m *MagentaRemover) Remove(img image.Image) (image.Image, error) {
	if img == nil {
		return nil, errors.New("nil image provided")
	}
	return Remove(img), nil
}

// Stats 一次处理的像素统计
type Stats struct {
	Background int `json:"background"`
	Corner     int `json:"corner"`
	Opaque     int `json:"opaque"`
}

// Remove 返回处理后的新图，输入不会被修改
func Remove(img image.Image) *image.NRGBA {
	out, _ := RemoveWithStats(img)
	return out
}

// RemoveWithStats 转 NRGBA -> 计算掩码 -> 写 alpha -> 清右下角
func RemoveWithStats(img image.Image) (*image.NRGBA, Stats) {
	out := ToNRGBA(img)
	if HasTransparency(out) {
		slog.Debug("input alpha discarded, recomputing from color channels")
	}

	mask := ComputeMask(out)
	ApplyMask(out, mask)
	corner := BlankCorner(out, CornerSize)

	return out, Stats{
		Background: mask.Count(),
		Corner:     corner,
		Opaque:     countOpaque(out),
	}
}

func countOpaque(img *image.NRGBA) int {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	n := 0
	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			if img.Pix[row+x*4+3] == 255 {
				n++
			}
		}
	}
	return n
}
