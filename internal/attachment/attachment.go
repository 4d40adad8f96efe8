// Package attachment turns a local file into an image payload for a chat
// turn. Images are sent as-is; a page of a PDF or EPUB is rendered to JPEG.
package attachment

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image/jpeg"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gen2brain/go-fitz"

	"github.com/arqady01/chatllm/internal/model"
)

// MaxBytes caps the size of an attached file.
const MaxBytes = 20 << 20

const jpegQuality = 85

var (
	ErrUnsupported = errors.New("unsupported attachment type")
	ErrTooLarge    = fmt.Errorf("attachment exceeds %d MiB", MaxBytes>>20)
	ErrPageRange   = errors.New("page out of range")
)

var imageTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var documentExts = map[string]bool{
	".pdf":  true,
	".epub": true,
	".xps":  true,
}

// Attachment is a loaded file. Ref is what the conversation shows in place
// of the image.
type Attachment struct {
	Payload model.ImagePayload
	Ref     string
}

// Load reads ref. A document page is selected with a "#N" suffix
// ("report.pdf#3", pages count from 1); a bare document path means page 1.
func Load(ref string) (*Attachment, error) {
	path, page := SplitPage(ref)

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading attachment: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s is a directory", ErrUnsupported, path)
	}
	if info.Size() > MaxBytes {
		return nil, ErrTooLarge
	}

	if documentExts[strings.ToLower(filepath.Ext(path))] {
		return loadPage(path, page)
	}
	if page > 0 {
		return nil, fmt.Errorf("%w: pages can only be selected in documents", ErrUnsupported)
	}
	return loadImage(path)
}

// SplitPage separates a trailing "#N" page selector from ref. page is 0
// when there is none.
func SplitPage(ref string) (path string, page int) {
	i := strings.LastIndex(ref, "#")
	if i < 0 {
		return ref, 0
	}
	n, err := strconv.Atoi(ref[i+1:])
	if err != nil || n < 1 {
		return ref, 0
	}
	return ref[:i], n
}

func loadImage(path string) (*Attachment, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading attachment: %w", err)
	}

	mimeType := DetectMIME(path, data)
	if !imageTypes[mimeType] {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}

	return &Attachment{
		Payload: model.ImagePayload{
			Data:     base64.StdEncoding.EncodeToString(data),
			MimeType: mimeType,
		},
		Ref: filepath.Base(path),
	}, nil
}

// DetectMIME sniffs data and falls back to the file extension when the
// content is not recognised.
func DetectMIME(path string, data []byte) string {
	sniffed := http.DetectContentType(data)
	if base, _, err := mime.ParseMediaType(sniffed); err == nil && imageTypes[base] {
		return base
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(path))); byExt != "" {
		if base, _, err := mime.ParseMediaType(byExt); err == nil {
			return base
		}
	}
	base, _, _ := mime.ParseMediaType(sniffed)
	return base
}

func loadPage(path string, page int) (*Attachment, error) {
	if page == 0 {
		page = 1
	}

	doc, err := fitz.New(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open document: %w", err)
	}
	defer doc.Close()

	if page > doc.NumPage() {
		return nil, fmt.Errorf("%w: %s has %d pages", ErrPageRange, filepath.Base(path), doc.NumPage())
	}

	img, err := doc.Image(page - 1)
	if err != nil {
		return nil, fmt.Errorf("rendering page %d: %w", page, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encoding page %d: %w", page, err)
	}

	return &Attachment{
		Payload: model.ImagePayload{
			Data:     base64.StdEncoding.EncodeToString(buf.Bytes()),
			MimeType: "image/jpeg",
		},
		Ref: fmt.Sprintf("%s#%d", filepath.Base(path), page),
	}, nil
}
