package service

import (
	"context"
	"exam_eval_backend/internal/testutil"
	"exam_eval_backend/internal/util"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRasterizer_WritesOneImagePerPage(t *testing.T) {
	dir := t.TempDir()
	src := testutil.WritePDF(t, dir, "three.pdf", 3)
	dest := filepath.Join(dir, "out", "nested")

	n, err := NewRasterizer(72).Rasterize(context.Background(), src, dest)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	for i := 1; i <= 3; i++ {
		info, err := os.Stat(filepath.Join(dest, PageImageName(i)))
		require.NoError(t, err, "page %d", i)
		assert.Greater(t, info.Size(), int64(0))
	}
	_, err = os.Stat(filepath.Join(dest, PageImageName(4)))
	assert.True(t, os.IsNotExist(err))
}

func TestRasterizer_RejectsInvalidInput(t *testing.T) {
	dir := t.TempDir()

	notPDF := filepath.Join(dir, "notes.pdf")
	require.NoError(t, os.WriteFile(notPDF, []byte("definitely not a pdf"), 0644))
	empty := testutil.WritePDF(t, dir, "empty.pdf", 0)

	tests := []struct {
		name string
		src  string
	}{
		{name: "garbage bytes", src: notPDF},
		{name: "missing file", src: filepath.Join(dir, "missing.pdf")},
		{name: "zero pages", src: empty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRasterizer(72).Rasterize(context.Background(), tt.src, filepath.Join(dir, "out"))
			require.Error(t, err)
			assert.ErrorIs(t, err, util.ErrDocumentFormat)
		})
	}
}

func TestPageImageName(t *testing.T) {
	assert.Equal(t, "page1.png", PageImageName(1))
	assert.Equal(t, "page12.png", PageImageName(12))
}
