package strata

import (
	"image"

	"github.com/hajimehoshi/ebiten/v2"
)

// blendShaderSrc is the single shared blend program. One compiled shader
// serves every blend mode: the BlendIndex uniform selects the blend function,
// so compositing never switches programs between passes.
//
// Convention: inputs and output are premultiplied (Ebitengine's native
// format); blend math runs in straight alpha between un-premultiply and
// re-premultiply. BlendMode values double as dispatch indices, so the chain
// in blendColor must stay in enum order (see blend.go).
const blendShaderSrc = `//kage:unit pixels
package main

var BlendIndex float
var Opacity float
var HasMask float

func overlayChannel(b, s float) float {
	if b <= 0.5 {
		return 2.0 * b * s
	}
	return 1.0 - 2.0*(1.0-b)*(1.0-s)
}

func blendColor(b, s vec3) vec3 {
	if BlendIndex < 0.5 { // normal
		return s
	} else if BlendIndex < 1.5 { // add
		return min(b+s, vec3(1.0))
	} else if BlendIndex < 2.5 { // multiply
		return b * s
	} else if BlendIndex < 3.5 { // screen
		return vec3(1.0) - (vec3(1.0)-b)*(vec3(1.0)-s)
	} else if BlendIndex < 4.5 { // overlay
		return vec3(overlayChannel(b.r, s.r), overlayChannel(b.g, s.g), overlayChannel(b.b, s.b))
	} else if BlendIndex < 5.5 { // darken
		return min(b, s)
	} else if BlendIndex < 6.5 { // lighten
		return max(b, s)
	} else if BlendIndex < 7.5 { // difference
		return abs(b - s)
	} else if BlendIndex < 8.5 { // exclusion
		return b + s - 2.0*b*s
	}
	// subtract
	return max(b-s, vec3(0.0))
}

func Fragment(dst vec4, src vec2, color vec4) vec4 {
	fg := imageSrc0At(src)
	bg := imageSrc1At(src)

	fc := fg.rgb
	if fg.a > 0.0 {
		fc = fc / fg.a
	}
	bc := bg.rgb
	if bg.a > 0.0 {
		bc = bc / bg.a
	}

	m := 1.0
	if HasMask > 0.5 {
		m = imageSrc2At(src).r
	}
	fa := fg.a * Opacity * m

	blended := blendColor(bc, fc)
	// Where the backdrop is transparent the blend function has no input;
	// fall back to the raw source color.
	cs := mix(fc, blended, bg.a)

	outA := fa + bg.a*(1.0-fa)
	outRGB := cs*fa + bc*bg.a*(1.0-fa)
	return vec4(outRGB, outA)
}
`

// Compositor accumulates an ordered layer stack into a destination surface
// with ping-pong buffering: each pass blends one layer over the accumulated
// result of everything beneath it, so non-trivial blend modes see the real
// background rather than raw cleared pixels. The two scratch buffers are
// owned exclusively by the compositor and never escape it.
//
// Texture-coordinate invariant: every offscreen target in the pipeline shares
// one vertical sampling convention, so no intermediate pass ever flips. A
// host whose present surface samples the other way up sets flipPresent, and
// the flip is applied exactly once, on the final accumulator-to-surface draw.
// Flipping inside the loop would make output depend on the parity of the
// pass count: correct for incidental layer counts and silently inverted
// whenever a layer is added or removed.
type Compositor struct {
	a, b         *ebiten.Image // ping-pong accumulators
	layerScratch *ebiten.Image // custom-sized layers stretched to surface dims
	maskScratch  *ebiten.Image // mask stretched to surface dims
	neutralMask  *ebiten.Image // opaque stand-in bound when a layer has no mask
	pw, ph       int           // current scratch pixel dimensions
	density      float64

	shader      *ebiten.Shader
	shaderTried bool

	flipPresent bool

	uniforms map[string]any
	shaderOp ebiten.DrawRectShaderOptions
	imgOp    ebiten.DrawImageOptions

	skipWarned map[LayerID]bool
}

func newCompositor(flipPresent bool) *Compositor {
	return &Compositor{
		flipPresent: flipPresent,
		uniforms:    make(map[string]any, 3),
		skipWarned:  make(map[LayerID]bool),
	}
}

// FlipPresent reports whether the final present draw is vertically flipped.
func (c *Compositor) FlipPresent() bool { return c.flipPresent }

// invalidate forces scratch target recreation on the next render.
func (c *Compositor) invalidate() {
	c.releaseTargets()
}

func (c *Compositor) releaseTargets() {
	for _, img := range []*ebiten.Image{c.a, c.b, c.layerScratch, c.maskScratch, c.neutralMask} {
		if img != nil {
			img.Deallocate()
		}
	}
	c.a, c.b, c.layerScratch, c.maskScratch, c.neutralMask = nil, nil, nil, nil, nil
	c.pw, c.ph = 0, 0
}

// ensureTargets (re)allocates the scratch buffers at the given pixel
// dimensions. All of them are recreated together: a half-resized ping-pong
// pair would desynchronize accumulation.
func (c *Compositor) ensureTargets(pw, ph int) {
	if pw < 1 {
		pw = 1
	}
	if ph < 1 {
		ph = 1
	}
	if c.a != nil && c.pw == pw && c.ph == ph {
		return
	}
	c.releaseTargets()
	rect := image.Rect(0, 0, pw, ph)
	unmanaged := &ebiten.NewImageOptions{Unmanaged: true}
	c.a = ebiten.NewImageWithOptions(rect, unmanaged)
	c.b = ebiten.NewImageWithOptions(rect, unmanaged)
	c.layerScratch = ebiten.NewImageWithOptions(rect, unmanaged)
	c.maskScratch = ebiten.NewImageWithOptions(rect, unmanaged)
	c.neutralMask = ebiten.NewImageWithOptions(rect, unmanaged)
	c.neutralMask.Fill(ColorWhite.toRGBA())
	c.pw, c.ph = pw, ph
}

// ensureShader lazily compiles the shared blend program. Compile failure is
// recorded once; the compositor then degrades to source-over-only output
// instead of halting the render loop.
func (c *Compositor) ensureShader() bool {
	if c.shader != nil {
		return true
	}
	if c.shaderTried {
		return false
	}
	c.shaderTried = true
	s, err := ebiten.NewShader([]byte(blendShaderSrc))
	if err != nil {
		logf("strata: blend shader failed to compile, blended and masked layers will be skipped: %v", err)
		return false
	}
	c.shader = s
	return true
}

// Render composites layers onto screen. The slice is already in paint
// order; the registry's Ordered slice is authoritative and is not re-sorted
// here. w and h are the surface's logical dimensions, density its pixel
// scale.
func (c *Compositor) Render(layers []*Layer, screen *ebiten.Image, w, h int, density float64, clearFn func(*ebiten.Image)) {
	if density <= 0 {
		density = 1
	}
	c.density = density
	c.ensureTargets(pixelDim(w, density), pixelDim(h, density))

	acc := c.a
	acc.Clear()

	if c.ensureShader() {
		scratch := c.b
		for _, l := range layers {
			if !l.visible || l.opacity <= 0 {
				continue
			}
			if l.target == nil {
				c.warnSkip(l, "no render target")
				continue
			}
			scratch.Clear()
			c.blendPass(l, acc, scratch)
			acc, scratch = scratch, acc
		}
	} else {
		c.renderDegraded(layers, acc)
	}

	if clearFn != nil {
		clearFn(screen)
	} else {
		screen.Clear()
	}
	c.present(acc, screen)
}

// blendPass draws one full-surface quad blending layer l over acc into dst.
// Passes write with BlendCopy: the shader output is the new accumulator
// verbatim, not composited over stale scratch contents.
func (c *Compositor) blendPass(l *Layer, acc, dst *ebiten.Image) {
	mask := c.neutralMask
	hasMask := float32(0)
	if l.mask != nil {
		c.stretchMask(l.mask)
		mask = c.maskScratch
		hasMask = 1
	}

	// Scalar float32 boxing is unavoidable with Ebitengine's uniform API.
	c.uniforms["BlendIndex"] = float32(l.blend)
	c.uniforms["Opacity"] = float32(l.opacity)
	c.uniforms["HasMask"] = hasMask

	op := &c.shaderOp
	op.Images[0] = c.fitLayer(l)
	op.Images[1] = acc
	op.Images[2] = mask
	op.Uniforms = c.uniforms
	op.Blend = ebiten.BlendCopy
	dst.DrawRectShader(c.pw, c.ph, c.shader, op)
	op.Images[0], op.Images[1], op.Images[2] = nil, nil, nil
}

// fitLayer returns the layer's render target. A custom-sized layer is first
// drawn into the layer scratch at the surface's dimensions, since all shader
// sources must share one size. The layer keeps its logical scale, anchored
// at the surface origin.
func (c *Compositor) fitLayer(l *Layer) *ebiten.Image {
	tb := l.target.Bounds()
	if tb.Dx() == c.pw && tb.Dy() == c.ph {
		return l.target
	}
	c.layerScratch.Clear()
	op := &c.imgOp
	op.GeoM.Reset()
	op.ColorScale.Reset()
	op.Blend = ebiten.Blend{}
	op.Filter = ebiten.FilterLinear
	s := 1.0
	if l.density > 0 {
		s = c.density / l.density
	}
	op.GeoM.Scale(s, s)
	c.layerScratch.DrawImage(l.target, op)
	return c.layerScratch
}

// stretchMask copies the mask into the mask scratch, stretched over the full
// surface; mask dimensions need not match the layer or the surface. The
// reference is re-read every frame, never cached: the mask's owner may
// redraw it at any time.
func (c *Compositor) stretchMask(mask *ebiten.Image) {
	c.maskScratch.Clear()
	mb := mask.Bounds()
	op := &c.imgOp
	op.GeoM.Reset()
	op.ColorScale.Reset()
	op.Blend = ebiten.Blend{}
	op.Filter = ebiten.FilterLinear
	op.GeoM.Scale(float64(c.pw)/float64(mb.Dx()), float64(c.ph)/float64(mb.Dy()))
	c.maskScratch.DrawImage(mask, op)
}

// renderDegraded is the no-shader fallback: unmasked normal layers draw with
// plain source-over, anything needing the blend program is skipped with a
// once-per-layer warning.
func (c *Compositor) renderDegraded(layers []*Layer, acc *ebiten.Image) {
	for _, l := range layers {
		if !l.visible || l.opacity <= 0 {
			continue
		}
		if l.target == nil {
			c.warnSkip(l, "no render target")
			continue
		}
		if l.blend != BlendNormal || l.mask != nil {
			c.warnSkip(l, "blend shader unavailable")
			continue
		}
		op := &c.imgOp
		op.GeoM.Reset()
		op.ColorScale.Reset()
		op.Blend = ebiten.Blend{}
		op.Filter = ebiten.FilterLinear
		s := 1.0
		if l.density > 0 {
			s = c.density / l.density
		}
		op.GeoM.Scale(s, s)
		op.ColorScale.ScaleAlpha(float32(l.opacity))
		acc.DrawImage(l.target, op)
	}
}

// present draws the final accumulator onto the destination surface, scaling
// pixel density back out. The flip, when configured, is applied here and only
// here (see the type comment for why).
func (c *Compositor) present(acc *ebiten.Image, screen *ebiten.Image) {
	op := &c.imgOp
	op.GeoM = c.presentGeoM()
	op.ColorScale.Reset()
	op.Blend = ebiten.Blend{}
	op.Filter = ebiten.FilterLinear
	screen.DrawImage(acc, op)
	op.GeoM.Reset()
}

// presentGeoM builds the transform for the final present draw: inverse
// density scaling, plus the vertical flip when flipPresent is set.
func (c *Compositor) presentGeoM() ebiten.GeoM {
	var g ebiten.GeoM
	s := 1.0 / c.density
	if c.flipPresent {
		g.Scale(s, -s)
		g.Translate(0, float64(c.ph)*s)
	} else {
		g.Scale(s, s)
	}
	return g
}

func (c *Compositor) warnSkip(l *Layer, reason string) {
	if c.skipWarned[l.id] {
		return
	}
	c.skipWarned[l.id] = true
	logf("strata: skipping layer %q: %s", l.name, reason)
}

// dispose releases the scratch buffers and the compiled blend program.
func (c *Compositor) dispose() {
	c.releaseTargets()
	if c.shader != nil {
		c.shader.Deallocate()
		c.shader = nil
	}
	c.skipWarned = nil
}
