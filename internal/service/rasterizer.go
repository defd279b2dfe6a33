package service

import (
	"context"
	"exam_eval_backend/internal/util"
	"exam_eval_backend/pkg/logger"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"

	"github.com/gen2brain/go-fitz"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"go.uber.org/zap"
)

// PageRenderer 将 PDF 渲染为 destDir/page1.png ... pageN.png，返回页数
type PageRenderer interface {
	Rasterize(ctx context.Context, srcPath, destDir string) (int, error)
}

type Rasterizer struct {
	DPI float64
}

func NewRasterizer(dpi int) *Rasterizer {
	return &Rasterizer{DPI: float64(dpi)}
}

// PageImageName 第 n 页（从 1 开始）的图片文件名
func PageImageName(n int) string {
	return fmt.Sprintf(util.PageImagePattern, n)
}

// Rasterize 失败时已写出的页面不做清理
func (r *Rasterizer) Rasterize(ctx context.Context, srcPath, destDir string) (int, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return 0, err
	}

	// pdfcpu 解析交叉引用表，提前拒绝损坏或非 PDF 文件
	declared, err := api.PageCountFile(srcPath)
	if err != nil {
		return 0, util.NewPipelineError(util.ErrDocumentFormat, "cannot read PDF structure", err)
	}
	if declared == 0 {
		return 0, util.NewPipelineError(util.ErrDocumentFormat, "PDF has no pages", nil)
	}

	doc, err := fitz.New(srcPath)
	if err != nil {
		return 0, util.NewPipelineError(util.ErrDocumentFormat, "cannot open PDF", err)
	}
	defer doc.Close()

	pageCount := doc.NumPage()
	if pageCount == 0 {
		return 0, util.NewPipelineError(util.ErrDocumentFormat, "PDF has no pages", nil)
	}
	if pageCount != declared {
		logger.Log.Warn("Page count mismatch between parsers",
			zap.String("file", srcPath),
			zap.Int("pdfcpu", declared),
			zap.Int("fitz", pageCount),
		)
	}

	for i := 0; i < pageCount; i++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}

		var img image.Image
		if r.DPI > 0 {
			img, err = doc.ImageDPI(i, r.DPI)
		} else {
			img, err = doc.Image(i)
		}
		if err != nil {
			return 0, util.NewPipelineError(util.ErrDocumentFormat, fmt.Sprintf("failed to render page %d", i+1), err)
		}

		if err := writePNG(filepath.Join(destDir, PageImageName(i+1)), img); err != nil {
			return 0, err
		}
	}

	return pageCount, nil
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
