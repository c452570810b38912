// Package imageio converts between image files and the float32 [H, W, 3]
// tensors the extractor consumes.
//
// Prepared images are in the extractor's native space: channel order BGR,
// mean-centred per channel, not rescaled.
package imageio

import (
	"image"
	"image/color"
	_ "image/jpeg" // Registers JPEG format
	_ "image/png"  // Registers PNG format
	"math"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp" // Registers WebP format

	"github.com/born-ml/styletransfer/internal/tensor"
)

// ErrInvalidImage is returned when an image cannot be read, decoded or
// sized as requested.
var ErrInvalidImage = errors.New("invalid image")

// Means holds the per-channel means subtracted by Prepare, indexed in
// BGR order.
type Means [3]float64

// DefaultMeans are the ImageNet channel means of the caffe-trained VGG
// weights, in BGR order.
var DefaultMeans = Means{103.939, 116.779, 123.68}

// Load decodes the image at path and resizes it to exactly height x width.
// The result is RGB in [0, 255] with shape [height, width, 3].
func Load(path string, height, width int) (*tensor.RawTensor, error) {
	if height <= 0 || width <= 0 {
		return nil, errors.Wrapf(ErrInvalidImage, "target size %dx%d", height, width)
	}

	//nolint:gosec // G304: image path comes from the caller
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidImage, "open %s: %v", path, err)
	}
	defer f.Close()

	src, _, err := image.Decode(f)
	if err != nil {
		return nil, errors.Wrapf(ErrInvalidImage, "decode %s: %v", path, err)
	}
	return FromImage(src, height, width)
}

// LoadAndPrepare is Load followed by Prepare.
func LoadAndPrepare(path string, height, width int, means Means) (*tensor.RawTensor, error) {
	rgb, err := Load(path, height, width)
	if err != nil {
		return nil, err
	}
	return Prepare(rgb, means)
}

// FromImage resizes src to height x width with Catmull-Rom resampling
// (skipped when the size already matches) and returns RGB [H, W, 3].
func FromImage(src image.Image, height, width int) (*tensor.RawTensor, error) {
	if height <= 0 || width <= 0 {
		return nil, errors.Wrapf(ErrInvalidImage, "target size %dx%d", height, width)
	}
	b := src.Bounds()
	if b.Empty() {
		return nil, errors.Wrap(ErrInvalidImage, "empty image")
	}

	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	if b.Dx() == width && b.Dy() == height {
		draw.Draw(dst, dst.Rect, src, b.Min, draw.Src)
	} else {
		draw.CatmullRom.Scale(dst, dst.Rect, src, b, draw.Src, nil)
	}

	out := tensor.MustNewRaw(tensor.Shape{height, width, 3})
	data := out.Data()
	for y := 0; y < height; y++ {
		row := dst.Pix[y*dst.Stride:]
		for x := 0; x < width; x++ {
			p := row[x*4 : x*4+3]
			o := (y*width + x) * 3
			data[o] = float32(p[0])
			data[o+1] = float32(p[1])
			data[o+2] = float32(p[2])
		}
	}
	return out, nil
}

// Prepare converts an RGB [H, W, 3] image to the extractor's space:
// channels reversed to BGR, then means subtracted. The input is not modified.
func Prepare(rgb *tensor.RawTensor, means Means) (*tensor.RawTensor, error) {
	if err := checkImage(rgb); err != nil {
		return nil, err
	}

	out := tensor.MustNewRaw(rgb.Shape())
	src, dst := rgb.Data(), out.Data()
	for o := 0; o < len(src); o += 3 {
		dst[o] = src[o+2] - float32(means[0])
		dst[o+1] = src[o+1] - float32(means[1])
		dst[o+2] = src[o] - float32(means[2])
	}
	return out, nil
}

// Unprepare inverts Prepare: adds the means back, restores RGB order,
// clips to [0, 255] and rounds to 8 bits.
func Unprepare(prepared *tensor.RawTensor, means Means) (*image.RGBA, error) {
	if err := checkImage(prepared); err != nil {
		return nil, err
	}

	s := prepared.Shape()
	h, w := s[0], s[1]
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	src := prepared.Data()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := (y*w + x) * 3
			img.SetRGBA(x, y, color.RGBA{
				R: toByte(float64(src[o+2]) + means[2]),
				G: toByte(float64(src[o+1]) + means[1]),
				B: toByte(float64(src[o]) + means[0]),
				A: 255,
			})
		}
	}
	return img, nil
}

func toByte(v float64) uint8 {
	if math.IsNaN(v) {
		return 0
	}
	return uint8(math.Round(math.Max(0, math.Min(255, v))))
}

func checkImage(t *tensor.RawTensor) error {
	s := t.Shape()
	if len(s) != 3 || s[2] != 3 {
		return errors.Wrapf(tensor.ErrShapeMismatch, "image must be [H, W, 3], got %v", s)
	}
	return nil
}
