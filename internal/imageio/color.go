package imageio

import (
	"image"
	"image/color"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/pkg/errors"
)

// PreserveColor recolours stylised with the content image's colours: each
// output pixel keeps the CIE-L*a*b* lightness of stylised and takes a* and
// b* from content. Both images must have the same size.
func PreserveColor(stylised, content image.Image) (*image.RGBA, error) {
	sb, cb := stylised.Bounds(), content.Bounds()
	if sb.Dx() != cb.Dx() || sb.Dy() != cb.Dy() {
		return nil, errors.Wrapf(ErrInvalidImage, "preserve color: sizes %v and %v differ", sb.Size(), cb.Size())
	}

	out := image.NewRGBA(image.Rect(0, 0, sb.Dx(), sb.Dy()))
	for y := 0; y < sb.Dy(); y++ {
		for x := 0; x < sb.Dx(); x++ {
			s, _ := colorful.MakeColor(stylised.At(sb.Min.X+x, sb.Min.Y+y))
			c, _ := colorful.MakeColor(content.At(cb.Min.X+x, cb.Min.Y+y))

			l, _, _ := s.Lab()
			_, a, b := c.Lab()
			r, g, bl := colorful.Lab(l, a, b).Clamped().RGB255()
			out.SetRGBA(x, y, color.RGBA{R: r, G: g, B: bl, A: 255})
		}
	}
	return out, nil
}
