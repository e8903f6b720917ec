package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestIoU validates the IoU implementation against known cases.
func TestIoU(t *testing.T) {
	tests := []struct {
		name     string
		a        Box
		b        Box
		expected float32
	}{
		{
			name:     "identical boxes",
			a:        Box{0, 0, 100, 100},
			b:        Box{0, 0, 100, 100},
			expected: 1.0,
		},
		{
			name:     "no overlap",
			a:        Box{0, 0, 100, 100},
			b:        Box{200, 200, 300, 300},
			expected: 0,
		},
		{
			name:     "touching edges",
			a:        Box{0, 0, 100, 100},
			b:        Box{100, 0, 200, 100},
			expected: 0,
		},
		{
			name:     "quarter overlap",
			a:        Box{0, 0, 100, 100},
			b:        Box{50, 50, 150, 150},
			expected: 2500.0 / 17500.0,
		},
		{
			name:     "one inside other",
			a:        Box{0, 0, 100, 100},
			b:        Box{25, 25, 75, 75},
			expected: 0.25,
		},
		{
			name:     "shifted by one pixel",
			a:        Box{0, 0, 10, 10},
			b:        Box{1, 1, 11, 11},
			expected: 81.0 / 119.0,
		},
		{
			name:     "inverted box",
			a:        Box{10, 10, 0, 0},
			b:        Box{0, 0, 10, 10},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, IoU(tt.a, tt.b), 1e-5)
			assert.InDelta(t, tt.expected, IoU(tt.b, tt.a), 1e-5, "IoU must be symmetric")
		})
	}
}

func TestIoUSymmetricGrid(t *testing.T) {
	boxes := []Box{
		{0, 0, 10, 10},
		{5, 5, 15, 15},
		{-3, 2, 4, 8},
		{2.5, 2.5, 2.5, 9},
		{0, 0, 0, 0},
		{100, 100, 90, 120},
	}
	for _, a := range boxes {
		for _, b := range boxes {
			assert.Equal(t, IoU(a, b), IoU(b, a), "iou(%v,%v)", a, b)
			iou := IoU(a, b)
			assert.GreaterOrEqual(t, iou, float32(0))
			assert.LessOrEqual(t, iou, float32(1))
		}
	}
}

func TestCenterCornerRoundTrip(t *testing.T) {
	b := Box{X1: 4, Y1: 6, X2: 20, Y2: 30}
	c := b.Center()
	assert.Equal(t, CenterBox{CX: 12, CY: 18, W: 16, H: 24}, c)
	assert.Equal(t, b, c.Corner())
}

func TestTranslate(t *testing.T) {
	b := Box{0, 0, 15, 15}.Translate(16, 32)
	assert.Equal(t, Box{16, 32, 31, 47}, b)
}

func TestIntersectionInvalid(t *testing.T) {
	inter := Intersection(Box{0, 0, 5, 5}, Box{6, 6, 9, 9})
	assert.False(t, inter.Valid())
}
