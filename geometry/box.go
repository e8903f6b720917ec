// Package geometry - box and point primitives shared by every detector variant.
package geometry

import "fmt"

// Box is an axis-aligned box in corner form.
//
// X2 >= X1 and Y2 >= Y1 are expected but not enforced: decoded boxes can be
// inverted and are treated as having zero or negative area.
type Box struct {
	X1, Y1, X2, Y2 float32
}

// CenterBox is an axis-aligned box in center-size form.
type CenterBox struct {
	CX, CY, W, H float32
}

// Point is a 2D image-space point, used for facial landmarks.
type Point struct {
	X, Y float32
}

// String formats the box for logs.
func (b Box) String() string {
	return fmt.Sprintf("[%.2f, %.2f, %.2f, %.2f]", b.X1, b.Y1, b.X2, b.Y2)
}

// Width returns X2 - X1.
func (b Box) Width() float32 { return b.X2 - b.X1 }

// Height returns Y2 - Y1.
func (b Box) Height() float32 { return b.Y2 - b.Y1 }

// Area returns the plain (non pixel-inclusive) area of the box.
//
// Inverted boxes produce a zero or negative value; callers that need a
// non-negative area must check Valid first.
func (b Box) Area() float32 {
	return b.Width() * b.Height()
}

// Valid reports whether the box has positive width and height.
func (b Box) Valid() bool {
	return b.X2 > b.X1 && b.Y2 > b.Y1
}

// Center converts the box to center-size form.
//
// Returns:
//   - The center-size box with CX, CY at the midpoint and W, H the plain extents.
func (b Box) Center() CenterBox {
	w := b.Width()
	h := b.Height()
	return CenterBox{
		CX: b.X1 + w/2,
		CY: b.Y1 + h/2,
		W:  w,
		H:  h,
	}
}

// Corner converts a center-size box to corner form.
func (c CenterBox) Corner() Box {
	return Box{
		X1: c.CX - c.W/2,
		Y1: c.CY - c.H/2,
		X2: c.CX + c.W/2,
		Y2: c.CY + c.H/2,
	}
}

// Translate returns the box shifted by (dx, dy).
func (b Box) Translate(dx, dy float32) Box {
	return Box{X1: b.X1 + dx, Y1: b.Y1 + dy, X2: b.X2 + dx, Y2: b.Y2 + dy}
}

// Intersection returns the overlapping box of a and b.
//
// The result is not clamped: when the boxes do not overlap its width or
// height is zero or negative and Valid reports false.
func Intersection(a, b Box) Box {
	return Box{
		X1: max(a.X1, b.X1),
		Y1: max(a.Y1, b.Y1),
		X2: min(a.X2, b.X2),
		Y2: min(a.Y2, b.Y2),
	}
}

// IoU computes the Intersection over Union of two corner-form boxes.
//
// IoU = Area(A ∩ B) / (Area(A) + Area(B) - Area(A ∩ B))
//
// Arguments:
//   - a: The first box.
//   - b: The second box.
//
// Returns:
//   - 0 when the intersection has non-positive width or height, otherwise the
//     overlap ratio. The function is symmetric in its arguments.
//
// Example Usage:
// ```go
//
//	a := Box{X1: 0, Y1: 0, X2: 10, Y2: 10}
//	b := Box{X1: 1, Y1: 1, X2: 11, Y2: 11}
//	iou := IoU(a, b) // 81 / (100 + 100 - 81) ≈ 0.68
//
// ```
func IoU(a, b Box) float32 {
	inter := Intersection(a, b)
	if !inter.Valid() {
		return 0
	}
	interArea := inter.Area()
	union := a.Area() + b.Area() - interArea
	if union <= 0 {
		return 0
	}
	return interArea / union
}
