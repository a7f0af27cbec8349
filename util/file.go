package util

import (
	"image"
	"image/png"
	"io"
	"os"

	"github.com/pkg/errors"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// OpenImage 打开本地图片，返回解码后的图像和格式名（"png"、"jpeg"、"webp" 等）
func OpenImage(path string) (image.Image, string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, "", errors.Wrap(err, "open image")
	}
	defer func() {
		_ = file.Close()
	}()

	return DecodeImage(file)
}

// DecodeImage 从 reader 解码任意已注册格式的图片
func DecodeImage(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", errors.Wrap(err, "decode image")
	}
	return img, format, nil
}

// SavePNG 把图片以 PNG 格式写入 path，已存在的文件会被覆盖
func SavePNG(path string, img image.Image) (err error) {
	file, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create output")
	}
	defer func() {
		if cerr := file.Close(); cerr != nil && err == nil {
			err = errors.Wrap(cerr, "close output")
		}
	}()

	if err := png.Encode(file, img); err != nil {
		return errors.Wrap(err, "encode png")
	}
	return nil
}
