package camera

import (
	"bytes"
	"image"
	"image/jpeg"

	perr "stallwatch/internal/platform/errors"
)

// Quality is the JPEG quality used when re-encoding a rotated frame
const Quality = 90

// Flip180 rotates a JPEG by 180 degrees for cameras mounted upside down
func Flip180(b []byte) ([]byte, error) {
	src, err := jpeg.Decode(bytes.NewReader(b))
	if err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "decode frame")
	}
	r := src.Bounds()
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	for y := r.Min.Y; y < r.Max.Y; y++ {
		dy := r.Max.Y - 1 - y - r.Min.Y
		for x := r.Min.X; x < r.Max.X; x++ {
			dst.Set(r.Max.X-1-x-r.Min.X, dy, src.At(x, y))
		}
	}
	var out bytes.Buffer
	if err := jpeg.Encode(&out, dst, &jpeg.Options{Quality: Quality}); err != nil {
		return nil, perr.Wrap(err, perr.ErrorCodeUnavailable, "encode frame")
	}
	return out.Bytes(), nil
}
