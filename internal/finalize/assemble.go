package finalize

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/google/uuid"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/types"

	"github.com/jackzampolin/pagecam/internal/frame"
)

// Pages returns the image files in dir that belong in the document, sorted
// lexically. Dotfiles (scratch, temp) and non-images are skipped.
func Pages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read %s: %w", dir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !frame.IsImageFile(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}

// Assemble writes every page image in processedDir into a PDF at finalPath,
// one page per image in name order, replacing any previous document. With
// no images it writes a valid empty document. It returns the page count.
func Assemble(processedDir, finalPath string) (int, error) {
	pages, err := Pages(processedDir)
	if err != nil {
		return 0, err
	}

	dir := filepath.Dir(finalPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create %s: %w", dir, err)
	}

	// pdfcpu appends to an existing output file, so build into a fresh temp
	// file and swap it in.
	tmp := filepath.Join(dir, "."+uuid.NewString()+".pdf")
	defer os.Remove(tmp)

	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	if len(pages) == 0 {
		// ImportImages needs at least one image.
		ctx, err := pdfcpu.CreateContextWithXRefTable(conf, types.PaperSize["A4"])
		if err != nil {
			return 0, fmt.Errorf("create empty document: %w", err)
		}
		if err := api.WriteContextFile(ctx, tmp); err != nil {
			return 0, fmt.Errorf("write empty document: %w", err)
		}
	} else {
		if err := api.ImportImagesFile(pages, tmp, pdfcpu.DefaultImportConfig(), conf); err != nil {
			return 0, fmt.Errorf("import %d images: %w", len(pages), err)
		}
	}

	if err := os.Rename(tmp, finalPath); err != nil {
		return 0, fmt.Errorf("publish document: %w", err)
	}
	return len(pages), nil
}

// PageCount returns the number of pages in a PDF file.
func PageCount(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return api.PageCount(f, nil)
}
