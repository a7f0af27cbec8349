// Package chroma removes a magenta chroma-key background from an image and
// blanks the bottom-right corner where the generator stamps its watermark.
package chroma

import (
	"log/slog"
	"strings"

	"github.com/chaos-io/chromakey/util"
)

// DeriveOutputPath 只替换第一个字面量 ".png"，不看扩展名。
// 没有 ".png" 时原样返回，也就是会覆盖输入文件。
func DeriveOutputPath(inputPath string) string {
	return strings.Replace(inputPath, ".png", "_transparent.png", 1)
}

// RemoveBackground 读取 inputPath，去掉品红背景后写 PNG 到 outputPath。
// outputPath 为空时由 DeriveOutputPath 推导，返回实际写入的路径。
func RemoveBackground(inputPath, outputPath string) (string, error) {
	defer util.Trace("remove background")()

	if outputPath == "" {
		outputPath = DeriveOutputPath(inputPath)
	}

	img, format, err := util.OpenImage(inputPath)
	if err != nil {
		return "", &DecodeError{Path: inputPath, Err: err}
	}

	out, stats := RemoveWithStats(img)
	b := out.Bounds()
	slog.Debug("processed image",
		"input", inputPath,
		"format", format,
		"width", b.Dx(),
		"height", b.Dy(),
		"background", stats.Background,
		"corner", stats.Corner,
		"opaque", stats.Opaque,
	)

	if fg, ok := ForegroundBounds(out); ok {
		slog.Debug("foreground bounds", "rect", fg)
	} else {
		slog.Warn("no foreground left after background removal", "input", inputPath)
	}

	if err := util.SavePNG(outputPath, out); err != nil {
		return "", &EncodeError{Path: outputPath, Err: err}
	}
	return outputPath, nil
}
