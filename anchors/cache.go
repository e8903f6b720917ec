package anchors

import (
	"sync"

	"github.com/nvr-ai/go-detect/geometry"
)

// Level describes one feature pyramid level.
type Level struct {
	// Stride is the pixel spacing between adjacent grid cells.
	Stride int `json:"stride" yaml:"stride" validate:"gt=0"`
	// BaseSize is the side of the reference square anchor.
	BaseSize float32 `json:"base_size" yaml:"base_size" validate:"gt=0"`
	// Ratios are the anchor aspect ratios (height / width).
	Ratios []float32 `json:"ratios" yaml:"ratios" validate:"min=1,dive,gt=0"`
	// Scales are the anchor scale multipliers.
	Scales []float32 `json:"scales" yaml:"scales" validate:"min=1,dive,gt=0"`
}

// NumAnchors is the number of anchors per grid location.
func (l Level) NumAnchors() int {
	return len(l.Ratios) * len(l.Scales)
}

// DefaultRetinaFacePyramid returns the three-level pyramid used by RetinaFace
// models, ordered from the coarsest stride to the finest.
func DefaultRetinaFacePyramid() []Level {
	return []Level{
		{Stride: 32, BaseSize: 16, Ratios: []float32{1}, Scales: []float32{32, 16}},
		{Stride: 16, BaseSize: 16, Ratios: []float32{1}, Scales: []float32{8, 4}},
		{Stride: 8, BaseSize: 16, Ratios: []float32{1}, Scales: []float32{2, 1}},
	}
}

type planeKey struct {
	height, width, stride int
}

// Cache holds a base template and the grid planes built from it.
//
// Planes are computed on first use for a (height, width, stride) and reused
// afterwards. A Cache is safe for concurrent use.
type Cache struct {
	base []geometry.Box

	mu     sync.RWMutex
	planes map[planeKey][]geometry.Box
}

// NewCache creates a cache for the template built from the given parameters.
//
// Arguments:
//   - baseSize: Side of the reference square anchor.
//   - ratios: Anchor aspect ratios.
//   - scales: Anchor scale multipliers.
//
// Returns:
//   - The cache, or the GenerateBase error.
func NewCache(baseSize float32, ratios, scales []float32) (*Cache, error) {
	base, err := GenerateBase(baseSize, ratios, scales)
	if err != nil {
		return nil, err
	}
	return &Cache{
		base:   base,
		planes: make(map[planeKey][]geometry.Box),
	}, nil
}

// NewLevelCache creates a cache for one pyramid level.
func NewLevelCache(l Level) (*Cache, error) {
	return NewCache(l.BaseSize, l.Ratios, l.Scales)
}

// Base returns a copy of the base template.
func (c *Cache) Base() []geometry.Box {
	out := make([]geometry.Box, len(c.base))
	copy(out, c.base)
	return out
}

// NumAnchors is the number of anchors per grid location.
func (c *Cache) NumAnchors() int {
	return len(c.base)
}

// Plane returns the anchor plane for a feature map. The returned slice is
// shared and must not be modified.
func (c *Cache) Plane(height, width, stride int) []geometry.Box {
	key := planeKey{height: height, width: width, stride: stride}

	c.mu.RLock()
	plane, ok := c.planes[key]
	c.mu.RUnlock()
	if ok {
		return plane
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if plane, ok = c.planes[key]; ok {
		return plane
	}
	plane = Plane(height, width, stride, c.base)
	c.planes[key] = plane
	return plane
}
