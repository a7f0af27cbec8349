package chroma

import "image"

// 品红背景阈值与右下角水印区域大小，对应生成原图的工具，不做成可配置项
const (
	RedMin   = 150
	GreenMax = 120
	BlueMin  = 150

	CornerSize = 100
)

// Mask 与图像等大的布尔网格，true 表示该像素被判定为背景
type Mask struct {
	Width  int
	Height int
	bits   []bool
}

func NewMask(width, height int) *Mask {
	return &Mask{
		Width:  width,
		Height: height,
		bits:   make([]bool, width*height),
	}
}

func (m *Mask) At(x, y int) bool {
	return m.bits[y*m.Width+x]
}

func (m *Mask) Set(x, y int, v bool) {
	m.bits[y*m.Width+x] = v
}

// Count 返回背景像素数量
func (m *Mask) Count() int {
	n := 0
	for _, b := range m.bits {
		if b {
			n++
		}
	}
	return n
}

// IsBackground 品红判定：高 R、低 G、高 B，全部是 uint8 整数比较
func IsBackground(r, g, b uint8) bool {
	return r > RedMin && g < GreenMax && b > BlueMin
}

// ComputeMask 按 R/G/B 计算背景掩码，alpha 通道不参与判断
func ComputeMask(img *image.NRGBA) *Mask {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()
	mask := NewMask(w, h)

	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			i := row + x*4
			if IsBackground(img.Pix[i], img.Pix[i+1], img.Pix[i+2]) {
				mask.bits[y*w+x] = true
			}
		}
	}
	return mask
}

// ApplyMask 把掩码写进 alpha：背景为 0，其余为 255，R/G/B 不变
func ApplyMask(img *image.NRGBA, mask *Mask) {
	w, h := img.Bounds().Dx(), img.Bounds().Dy()

	for y := 0; y < h; y++ {
		row := y * img.Stride
		for x := 0; x < w; x++ {
			a := uint8(255)
			if mask.bits[y*w+x] {
				a = 0
			}
			img.Pix[row+x*4+3] = a
		}
	}
}

// BlankCorner 把右下角 size×size 区域的 alpha 置 0，返回处理的像素数。
// 图像小于 size 时起点钳到 0，整行/整列都会被清掉。
func BlankCorner(img *image.NRGBA, size int) int {
	rect := cornerRect(img.Bounds().Dx(), img.Bounds().Dy(), size)

	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		row := y * img.Stride
		for x := rect.Min.X; x < rect.Max.X; x++ {
			img.Pix[row+x*4+3] = 0
		}
	}
	return rect.Dx() * rect.Dy()
}

// cornerRect 计算右下角区域（相对坐标），起点不会小于 0
func cornerRect(width, height, size int) image.Rectangle {
	return image.Rect(max(width-size, 0), max(height-size, 0), width, height)
}
