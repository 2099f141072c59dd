// anonfeedback/utils/utils.go
package utils

import (
	"anonfeedback/config"
	"bytes"
	"fmt"
	"image"
	_ "image/gif" // Import gif decoder
	_ "image/jpeg"
	_ "image/png"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// FileExtension returns the lower-cased extension of a filename, including the dot.
func FileExtension(filename string) string {
	return strings.ToLower(filepath.Ext(filename))
}

// SanitizeImage decodes an uploaded image and re-encodes it, dropping EXIF and
// any other embedded metadata. PNG stays PNG; every other format becomes JPEG.
// It returns the new bytes, the extension and the content type to store them under.
func SanitizeImage(data []byte) ([]byte, string, string, error) {
	reader := bytes.NewReader(data)
	cfg, format, err := image.DecodeConfig(reader)
	if err != nil {
		return nil, "", "", fmt.Errorf("invalid image format, could not decode config: %w", err)
	}
	if cfg.Width > config.MaxImageWidth || cfg.Height > config.MaxImageHeight {
		return nil, "", "", fmt.Errorf("image dimensions (%dx%d) exceed maximum (%dx%d)", cfg.Width, cfg.Height, config.MaxImageWidth, config.MaxImageHeight)
	}
	if _, err := reader.Seek(0, 0); err != nil {
		return nil, "", "", fmt.Errorf("could not reset reader position: %w", err)
	}

	img, err := imaging.Decode(reader, imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to decode image: %w", err)
	}

	out := new(bytes.Buffer)
	if format == "png" {
		if err := imaging.Encode(out, img, imaging.PNG); err != nil {
			return nil, "", "", fmt.Errorf("failed to encode image: %w", err)
		}
		return out.Bytes(), ".png", "image/png", nil
	}
	if err := imaging.Encode(out, img, imaging.JPEG, imaging.JPEGQuality(config.ImageJPEGQuality)); err != nil {
		return nil, "", "", fmt.Errorf("failed to encode image: %w", err)
	}
	return out.Bytes(), ".jpg", "image/jpeg", nil
}
