package strata

import (
	"image"
	"math"

	"github.com/hajimehoshi/ebiten/v2"
	"github.com/tanema/gween"
)

// LayerID identifies a layer for the lifetime of its registry. IDs are
// assigned monotonically and never reused, even after the layer is removed.
// Zero is never a valid id.
type LayerID uint64

// LayerOptions configures Registry.CreateLayer. Zero values select defaults:
// visible, opacity 1, BlendNormal, z-index equal to creation order, and the
// host surface's dimensions and density.
type LayerOptions struct {
	// Hidden creates the layer invisible. The zero value is visible.
	Hidden bool
	// Opacity is the initial opacity in [0, 1]. Zero defaults to 1.0; for an
	// explicitly transparent layer call SetOpacity(0) after creation.
	Opacity float64
	// Blend is the compositing mode. The zero value is BlendNormal.
	Blend BlendMode
	// ZIndex is the paint-order key. Zero defaults to the creation order;
	// for an explicit z of 0 call SetZIndex(0) after creation.
	ZIndex int
	// Width, Height, and Density override the host surface dimensions.
	// Setting any of them marks the layer custom-sized, exempting it from
	// automatic resizing when the host surface changes.
	Width, Height int
	Density       float64
}

// Layer is one offscreen render target plus compositing metadata: visibility,
// opacity, blend mode, z-index, and an optional mask. Layers are created and
// owned by a Registry; the render target lives exactly as long as the layer,
// except for the instant a resize swaps it out. The mask is a non-owning
// reference: its owner controls its lifetime and may redraw it at any time.
type Layer struct {
	id   LayerID
	name string
	reg  *Registry

	visible bool
	opacity float64
	blend   BlendMode
	zIndex  int

	target     *ebiten.Image
	mask       *ebiten.Image
	customSize bool

	w, h    int // logical dimensions
	density float64

	fade *gween.Tween
}

// newRenderTarget allocates an unmanaged offscreen color buffer at the given
// logical size and pixel density.
func newRenderTarget(w, h int, density float64) *ebiten.Image {
	return ebiten.NewImageWithOptions(
		image.Rect(0, 0, pixelDim(w, density), pixelDim(h, density)),
		&ebiten.NewImageOptions{Unmanaged: true},
	)
}

// pixelDim converts a logical dimension to device pixels (minimum 1).
func pixelDim(v int, density float64) int {
	p := int(math.Ceil(float64(v) * density))
	if p < 1 {
		p = 1
	}
	return p
}

// ID returns the layer's registry-unique identifier.
func (l *Layer) ID() LayerID { return l.id }

// Name returns the display name. Names are not required to be unique.
func (l *Layer) Name() string { return l.name }

// Visible reports whether the layer participates in compositing.
func (l *Layer) Visible() bool { return l.visible }

// Opacity returns the current opacity in [0, 1].
func (l *Layer) Opacity() float64 { return l.opacity }

// Blend returns the compositing mode.
func (l *Layer) Blend() BlendMode { return l.blend }

// ZIndex returns the paint-order key. Lower values composite first (bottom).
func (l *Layer) ZIndex() int { return l.zIndex }

// Mask returns the current mask image, or nil.
func (l *Layer) Mask() *ebiten.Image { return l.mask }

// CustomSize reports whether the layer was created with explicit dimensions
// and is therefore exempt from automatic host resizing.
func (l *Layer) CustomSize() bool { return l.customSize }

// Size returns the layer's logical dimensions and pixel density.
func (l *Layer) Size() (w, h int, density float64) {
	return l.w, l.h, l.density
}

// Canvas returns the layer's render target for direct drawing. Nil after
// Dispose. Prefer Registry.Begin/End when drawing so external tooling sees
// the mutation.
func (l *Layer) Canvas() *ebiten.Image { return l.target }

// IsDisposed reports whether the render target has been released.
func (l *Layer) IsDisposed() bool { return l.target == nil }

// --- Metadata setters ---
//
// Setters mutate metadata only (no GPU work) and return the layer so calls
// can be chained.

// SetVisible shows or hides the layer.
func (l *Layer) SetVisible(v bool) *Layer {
	l.visible = v
	return l
}

// SetOpacity sets the layer opacity, clamped to [0, 1]. Out-of-range input is
// clamped silently. Cancels an in-flight fade.
func (l *Layer) SetOpacity(o float64) *Layer {
	l.opacity = clamp01(o)
	l.fade = nil
	return l
}

// SetBlendMode sets the compositing mode. A value outside the closed enum
// falls back to BlendNormal with a warning.
func (l *Layer) SetBlendMode(b BlendMode) *Layer {
	if !b.valid() {
		logf("strata: layer %q: invalid blend mode %d, using normal", l.name, uint8(b))
		b = BlendNormal
	}
	l.blend = b
	return l
}

// SetBlendModeName sets the compositing mode from its string name. Unknown
// names fall back to BlendNormal with a warning.
func (l *Layer) SetBlendModeName(name string) *Layer {
	b, err := ParseBlendMode(name)
	if err != nil {
		logf("strata: layer %q: unknown blend mode %q, using normal", l.name, name)
	}
	l.blend = b
	return l
}

// SetZIndex changes the paint-order key and invalidates the registry's
// cached ordering.
func (l *Layer) SetZIndex(z int) *Layer {
	if l.zIndex != z {
		l.zIndex = z
		if l.reg != nil {
			l.reg.sortDirty = true
		}
	}
	return l
}

// SetMask attaches a mask. The red channel of the sampled mask multiplies the
// layer's effective opacity per pixel. The mask is a non-owning reference and
// its dimensions need not match the layer; it is stretched over the surface
// at composite time and re-read every frame, never cached.
func (l *Layer) SetMask(mask *ebiten.Image) *Layer {
	l.mask = mask
	return l
}

// ClearMask detaches the mask without releasing it (the layer never owned it).
func (l *Layer) ClearMask() *Layer {
	l.mask = nil
	return l
}

// --- Draw surface ---
//
// Drawing into a layer always uses standard source-over; the layer's blend
// mode applies when the stack is composited, not here.

// Clear fills the layer with transparent black.
func (l *Layer) Clear() *Layer {
	if l.target == nil {
		logf("strata: layer %q has no render target", l.name)
		return l
	}
	l.target.Clear()
	return l
}

// Fill fills the entire layer with the given color.
func (l *Layer) Fill(c Color) *Layer {
	if l.target == nil {
		logf("strata: layer %q has no render target", l.name)
		return l
	}
	l.target.Fill(c.toRGBA())
	return l
}

// DrawImage draws src onto the layer using the provided options.
func (l *Layer) DrawImage(src *ebiten.Image, op *ebiten.DrawImageOptions) {
	if l.target == nil {
		logf("strata: layer %q has no render target", l.name)
		return
	}
	l.target.DrawImage(src, op)
}

// DrawImageAt draws src at the given position in logical coordinates.
func (l *Layer) DrawImageAt(src *ebiten.Image, x, y float64) {
	if l.target == nil {
		logf("strata: layer %q has no render target", l.name)
		return
	}
	var op ebiten.DrawImageOptions
	op.GeoM.Translate(x, y)
	op.GeoM.Scale(l.density, l.density)
	l.target.DrawImage(src, &op)
}

// LayerDrawOpts controls how an image is drawn onto a layer with
// DrawImageColored. Zero values select defaults (scale 1, white tint,
// alpha 1).
type LayerDrawOpts struct {
	// X and Y are the draw position in logical coordinates.
	X, Y float64
	// ScaleX and ScaleY are scale factors. Zero defaults to 1.0.
	ScaleX, ScaleY float64
	// Rotation is the rotation in radians (clockwise).
	Rotation float64
	// PivotX and PivotY are the transform origin for scale and rotation.
	PivotX, PivotY float64
	// Color is a multiplicative tint. Zero value defaults to white (no tint).
	Color Color
	// Alpha is the opacity multiplier. Zero defaults to 1.0 (fully opaque).
	Alpha float64
}

// DrawImageColored draws src with full transform, color, and alpha.
func (l *Layer) DrawImageColored(src *ebiten.Image, opts LayerDrawOpts) {
	if l.target == nil {
		logf("strata: layer %q has no render target", l.name)
		return
	}
	var op ebiten.DrawImageOptions
	op.GeoM.Translate(-opts.PivotX, -opts.PivotY)
	sx, sy := opts.ScaleX, opts.ScaleY
	if sx == 0 {
		sx = 1
	}
	if sy == 0 {
		sy = 1
	}
	op.GeoM.Scale(sx, sy)
	if opts.Rotation != 0 {
		op.GeoM.Rotate(opts.Rotation)
	}
	op.GeoM.Translate(opts.X+opts.PivotX, opts.Y+opts.PivotY)
	op.GeoM.Scale(l.density, l.density)

	alpha := opts.Alpha
	if alpha == 0 {
		alpha = 1
	}
	c := opts.Color
	if c == (Color{}) {
		c = ColorWhite
	}
	op.ColorScale.Scale(
		float32(c.R*c.A*alpha),
		float32(c.G*c.A*alpha),
		float32(c.B*c.A*alpha),
		float32(c.A*alpha),
	)
	l.target.DrawImage(src, &op)
}

// --- Lifetime ---

// Resize destroys the render target and reallocates it at the given logical
// size and density. Contents are lost. The registry calls this during
// auto-resize for layers without a custom size; calling it directly is
// allowed for any layer.
func (l *Layer) Resize(w, h int, density float64) {
	if w <= 0 || h <= 0 || density <= 0 {
		logf("strata: layer %q: invalid resize %dx%d@%v", l.name, w, h, density)
		return
	}
	if l.target != nil {
		l.target.Deallocate()
	}
	l.target = newRenderTarget(w, h, density)
	l.w, l.h, l.density = w, h, density
}

// Dispose releases the render target. The mask is dropped but not released:
// the layer never owned it.
func (l *Layer) Dispose() {
	if l.target != nil {
		l.target.Deallocate()
		l.target = nil
	}
	l.mask = nil
	l.fade = nil
}
