package upload

import (
	"bytes"
	"fmt"
	"image"
	"image/gif"
	"image/jpeg"
	"image/png"
	"io"
)

// ImageInfo describes a decoded image.
type ImageInfo struct {
	Width  int
	Height int
	Format string
}

// ReencodeImage decodes the image and re-encodes it in its own format,
// returning the clean bytes and dimensions. Re-encoding drops EXIF and any
// other metadata blocks, which is the sanitisation goal; it also proves the
// bytes really are the image format they claim to be. Only formats the
// standard decoders understand are processed; webp and all video passes
// through untouched at the storage layer.
func ReencodeImage(r io.Reader) ([]byte, ImageInfo, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, ImageInfo{}, wrap(CodeValidation, "decode image", err)
	}
	info := ImageInfo{
		Width:  img.Bounds().Dx(),
		Height: img.Bounds().Dy(),
		Format: format,
	}
	var buf bytes.Buffer
	switch format {
	case "jpeg":
		err = jpeg.Encode(&buf, img, &jpeg.Options{Quality: 90})
	case "png":
		err = png.Encode(&buf, img)
	case "gif":
		err = gif.Encode(&buf, img, nil)
	default:
		return nil, ImageInfo{}, failf(CodeValidation, "unsupported image format %q", format)
	}
	if err != nil {
		return nil, ImageInfo{}, fmt.Errorf("re-encode %s: %w", format, err)
	}
	return buf.Bytes(), info, nil
}

// CanSanitize reports whether ReencodeImage handles the MIME type. Callers
// skip sanitisation for anything else.
func CanSanitize(mimeType string) bool {
	switch mimeType {
	case "image/jpeg", "image/png", "image/gif":
		return true
	}
	return false
}
