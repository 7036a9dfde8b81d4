package chat

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/jpeg"
	"io"

	_ "image/png"
)

const DefaultJPEGQuality = 80

const jpegDataURLPrefix = "data:image/jpeg;base64,"

// EncodeImage inlines img as a base64 JPEG data URL.
func EncodeImage(img image.Image, quality int) (string, error) {
	if img == nil {
		return "", NewError(ErrEncoding, "no image")
	}

	bounds := img.Bounds()
	if bounds.Dx() <= 0 || bounds.Dy() <= 0 {
		return "", NewError(ErrEncoding, "empty image %dx%d", bounds.Dx(), bounds.Dy())
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return "", WrapError(ErrEncoding, err)
	}

	return jpegDataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeImage reads a PNG or JPEG bitmap.
func DecodeImage(r io.Reader) (image.Image, error) {
	img, _, err := image.Decode(r)
	if err != nil {
		return nil, WrapError(ErrEncoding, err)
	}

	return img, nil
}
