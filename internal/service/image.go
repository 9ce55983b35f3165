package service

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// validateImage checks presence, declared type and size of an uploaded image.
func validateImage(data []byte, contentType string, maxBytes int64) error {
	if len(data) == 0 {
		return fmt.Errorf("%w: frame is required", ErrInvalidImage)
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(contentType)), "image/") {
		return fmt.Errorf("%w: content type %q is not an image", ErrInvalidImage, contentType)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return fmt.Errorf("%w: image exceeds %d bytes", ErrInvalidImage, maxBytes)
	}
	return nil
}

// imageDimensions decodes only the image header.
func imageDimensions(data []byte) (int, int, error) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnreadableImage, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("%w: empty dimensions", ErrUnreadableImage)
	}
	return cfg.Width, cfg.Height, nil
}
