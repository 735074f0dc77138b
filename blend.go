package strata

import (
	"fmt"
	"math"
	"strings"
)

// BlendMode selects the per-pixel color combination used when a layer is
// composited over the accumulated background. The enum is closed: every mode
// maps to a dispatch index in the shared blend shader and to a pure Go
// function used for CPU-side verification. Enum values double as the shader's
// BlendIndex uniform, so the order here must match the dispatch chain in
// blendShaderSrc.
type BlendMode uint8

const (
	BlendNormal     BlendMode = iota // source over background (plain alpha compositing)
	BlendAdd                         // additive: min(bg+src, 1); only brightens
	BlendMultiply                    // bg*src; only darkens
	BlendScreen                      // 1-(1-bg)*(1-src); only brightens
	BlendOverlay                     // multiply in shadows, screen in highlights
	BlendDarken                      // min(bg, src)
	BlendLighten                     // max(bg, src)
	BlendDifference                  // abs(bg-src)
	BlendExclusion                   // bg+src-2*bg*src; lower-contrast difference
	BlendSubtract                    // max(bg-src, 0)

	blendModeCount
)

// valid reports whether b is a member of the closed enum.
func (b BlendMode) valid() bool {
	return b < blendModeCount
}

// String returns the lowercase name accepted by ParseBlendMode.
func (b BlendMode) String() string {
	switch b {
	case BlendNormal:
		return "normal"
	case BlendAdd:
		return "add"
	case BlendMultiply:
		return "multiply"
	case BlendScreen:
		return "screen"
	case BlendOverlay:
		return "overlay"
	case BlendDarken:
		return "darken"
	case BlendLighten:
		return "lighten"
	case BlendDifference:
		return "difference"
	case BlendExclusion:
		return "exclusion"
	case BlendSubtract:
		return "subtract"
	default:
		return fmt.Sprintf("BlendMode(%d)", uint8(b))
	}
}

// ParseBlendMode returns the mode named by s. Matching is case-insensitive.
// Unknown names return BlendNormal along with an error so callers can decide
// whether the fallback deserves a warning.
func ParseBlendMode(s string) (BlendMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "normal":
		return BlendNormal, nil
	case "add", "additive", "lighter":
		return BlendAdd, nil
	case "multiply":
		return BlendMultiply, nil
	case "screen":
		return BlendScreen, nil
	case "overlay":
		return BlendOverlay, nil
	case "darken", "darkest":
		return BlendDarken, nil
	case "lighten", "lightest":
		return BlendLighten, nil
	case "difference":
		return BlendDifference, nil
	case "exclusion":
		return BlendExclusion, nil
	case "subtract":
		return BlendSubtract, nil
	}
	return BlendNormal, fmt.Errorf("strata: unknown blend mode %q", s)
}

// blendChannel applies the mode's blend function to one straight-alpha
// channel pair. This is the CPU mirror of blendColor in blendShaderSrc.
func (b BlendMode) blendChannel(bg, src float64) float64 {
	switch b {
	case BlendNormal:
		return src
	case BlendAdd:
		return math.Min(bg+src, 1)
	case BlendMultiply:
		return bg * src
	case BlendScreen:
		return 1 - (1-bg)*(1-src)
	case BlendOverlay:
		if bg <= 0.5 {
			return 2 * bg * src
		}
		return 1 - 2*(1-bg)*(1-src)
	case BlendDarken:
		return math.Min(bg, src)
	case BlendLighten:
		return math.Max(bg, src)
	case BlendDifference:
		return math.Abs(bg - src)
	case BlendExclusion:
		return bg + src - 2*bg*src
	case BlendSubtract:
		return math.Max(bg-src, 0)
	default:
		return src
	}
}

// CompositePixel is the CPU reference for one compositing pass, mirroring the
// blend shader exactly: straight-alpha blend math, source-over accumulation.
// bg is the accumulated background, src the layer color, opacity the layer
// opacity, and mask the sampled mask value (pass 1 for no mask). All inputs
// are straight (non-premultiplied) colors; so is the result.
//
// The GPU path is authoritative at runtime; this function exists so hosts and
// tests can verify compositing math without a graphics context.
func CompositePixel(mode BlendMode, bg, src Color, opacity, mask float64) Color {
	fa := clamp01(src.A) * clamp01(opacity) * clamp01(mask)

	// Where the backdrop is transparent the blend function has no input;
	// fall back to the raw source color (Cs' = mix(Cs, B(Cb,Cs), ab)).
	ab := clamp01(bg.A)
	var cs [3]float64
	sc := [3]float64{src.R, src.G, src.B}
	bc := [3]float64{bg.R, bg.G, bg.B}
	for i := 0; i < 3; i++ {
		blended := mode.blendChannel(bc[i], sc[i])
		cs[i] = sc[i]*(1-ab) + blended*ab
	}

	outA := fa + ab*(1-fa)
	if outA <= 0 {
		return Color{}
	}
	return Color{
		R: (cs[0]*fa + bc[0]*ab*(1-fa)) / outA,
		G: (cs[1]*fa + bc[1]*ab*(1-fa)) / outA,
		B: (cs[2]*fa + bc[2]*ab*(1-fa)) / outA,
		A: outA,
	}
}
