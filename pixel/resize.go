package pixel

import (
	"fmt"
	"math"

	"github.com/disintegration/imaging"
)

// FitSize scales (w, h) so the longer side is exactly maxEdge. Images smaller
// than maxEdge are scaled up.
func FitSize(w, h, maxEdge int) (int, int) {
	if w <= 0 || h <= 0 || maxEdge <= 0 {
		return 0, 0
	}
	if w >= h {
		return maxEdge, scaleEdge(h, maxEdge, w)
	}
	return scaleEdge(w, maxEdge, h), maxEdge
}

func scaleEdge(short, maxEdge, long int) int {
	v := int(math.Round(float64(short) * float64(maxEdge) / float64(long)))
	return max(v, 1)
}

// Fit resizes b to FitSize and returns the new dimensions.
func Fit(b *Buffer, maxEdge int) (*Buffer, int, int, error) {
	if maxEdge <= 0 {
		return nil, 0, 0, fmt.Errorf("invalid max edge %d", maxEdge)
	}
	if err := b.validate(); err != nil {
		return nil, 0, 0, err
	}
	w, h := FitSize(b.Width, b.Height, maxEdge)
	out, err := Resize(b, w, h)
	if err != nil {
		return nil, 0, 0, err
	}
	return out, w, h, nil
}

// Resize scales b to exactly w x h with bilinear filtering. Channel order is
// preserved.
func Resize(b *Buffer, w, h int) (*Buffer, error) {
	if w <= 0 || h <= 0 {
		return nil, fmt.Errorf("invalid resize target %dx%d", w, h)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	resized := imaging.Resize(b.rawNRGBA(), w, h, imaging.Linear)
	return fromNRGBA(resized, b.Order), nil
}
