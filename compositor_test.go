package strata

import (
	"strings"
	"testing"

	"github.com/hajimehoshi/ebiten/v2"
)

func TestBlendShaderCompiles(t *testing.T) {
	s, err := ebiten.NewShader([]byte(blendShaderSrc))
	if err != nil {
		t.Fatalf("blend shader failed to compile: %v", err)
	}
	s.Deallocate()
}

func TestEnsureTargetsRecreatedTogether(t *testing.T) {
	c := newCompositor(false)
	c.ensureTargets(64, 48)

	oldA, oldB := c.a, c.b
	oldLayer, oldMask, oldNeutral := c.layerScratch, c.maskScratch, c.neutralMask
	if oldA == nil || oldB == nil || oldLayer == nil || oldMask == nil || oldNeutral == nil {
		t.Fatal("all scratch targets should be allocated")
	}

	// Same dimensions: nothing recreated.
	c.ensureTargets(64, 48)
	if c.a != oldA || c.b != oldB {
		t.Error("unchanged dimensions should keep the scratch targets")
	}

	// Any drift: everything recreated as a set.
	c.ensureTargets(64, 49)
	if c.a == oldA || c.b == oldB || c.layerScratch == oldLayer ||
		c.maskScratch == oldMask || c.neutralMask == oldNeutral {
		t.Error("dimension drift should recreate every scratch target")
	}
	if c.pw != 64 || c.ph != 49 {
		t.Errorf("dims = %dx%d, want 64x49", c.pw, c.ph)
	}

	c.releaseTargets()
}

func TestInvalidateForcesRecreation(t *testing.T) {
	c := newCompositor(false)
	c.ensureTargets(64, 48)
	old := c.a

	// A density-only host change can round to identical pixel dimensions;
	// invalidate guarantees recreation regardless.
	c.invalidate()
	c.ensureTargets(64, 48)
	if c.a == old {
		t.Error("invalidate should force scratch recreation")
	}
	c.releaseTargets()
}

func TestPresentGeoMFlipOnlyWhenConfigured(t *testing.T) {
	plain := newCompositor(false)
	plain.density = 1
	plain.ph = 48
	g := plain.presentGeoM()
	if g.Element(1, 1) != 1 {
		t.Errorf("unflipped present scale y = %v, want 1", g.Element(1, 1))
	}
	if g.Element(1, 2) != 0 {
		t.Errorf("unflipped present translate y = %v, want 0", g.Element(1, 2))
	}

	flipped := newCompositor(true)
	flipped.density = 1
	flipped.ph = 48
	g = flipped.presentGeoM()
	if g.Element(1, 1) != -1 {
		t.Errorf("flipped present scale y = %v, want -1", g.Element(1, 1))
	}
	if g.Element(1, 2) != 48 {
		t.Errorf("flipped present translate y = %v, want 48", g.Element(1, 2))
	}
}

func TestPresentGeoMScalesOutDensity(t *testing.T) {
	c := newCompositor(false)
	c.density = 2
	c.ph = 96
	g := c.presentGeoM()
	if g.Element(0, 0) != 0.5 || g.Element(1, 1) != 0.5 {
		t.Errorf("scale = %v, %v; want 0.5, 0.5", g.Element(0, 0), g.Element(1, 1))
	}
}

// The flip lives in the present transform only. Pass parity must never feed
// into it: whatever the layer count, intermediate passes copy between
// same-convention targets and only the last draw compensates for the host.
func TestFlipIndependentOfPassCount(t *testing.T) {
	r, err := NewRegistry(RegistryConfig{Width: 64, Height: 48, FlipPresent: true})
	if err != nil {
		t.Fatal(err)
	}
	c := r.Compositor()
	screen := ebiten.NewImage(64, 48)

	r.CreateLayer("l1", LayerOptions{})
	r.Render(screen, nil)
	base := c.presentGeoM()
	if base.Element(1, 1) != -1 {
		t.Fatalf("flipped present scale y = %v, want -1", base.Element(1, 1))
	}

	for i := 2; i <= 5; i++ {
		r.CreateLayer("l", LayerOptions{})
		r.Render(screen, nil)
		if g := c.presentGeoM(); g != base {
			t.Fatalf("present transform changed with %d layers", i)
		}
	}
}

func TestRenderSkipsNilTargetLayer(t *testing.T) {
	warnings := captureWarnings(t)
	r, _ := newTestRegistry(t)
	r.CreateLayer("ok", LayerOptions{})
	broken := r.CreateLayer("broken", LayerOptions{})
	broken.Dispose()

	screen := ebiten.NewImage(64, 48)
	r.Render(screen, nil)
	r.Render(screen, nil)

	skips := 0
	for _, w := range *warnings {
		if strings.Contains(w, "skipping layer") {
			skips++
		}
	}
	if skips != 1 {
		t.Errorf("skip warnings = %d, want 1 (once per layer, not per frame)", skips)
	}
}

func TestRenderSkipsInvisibleAndTransparentLayers(t *testing.T) {
	warnings := captureWarnings(t)
	r, _ := newTestRegistry(t)
	r.CreateLayer("hidden", LayerOptions{Hidden: true})
	r.CreateLayer("ghost", LayerOptions{}).SetOpacity(0)

	screen := ebiten.NewImage(64, 48)
	r.Render(screen, nil)

	// Skipping invisible or zero-opacity layers is normal operation, not a
	// recoverable error: nothing should be logged.
	if len(*warnings) != 0 {
		t.Errorf("warnings = %v, want none", *warnings)
	}
}

func TestDegradedModeSkipsBlendedAndMaskedLayers(t *testing.T) {
	warnings := captureWarnings(t)
	r, _ := newTestRegistry(t)
	c := r.Compositor()
	// Simulate a failed shader compile.
	c.shaderTried = true
	c.shader = nil

	r.CreateLayer("plain", LayerOptions{})
	r.CreateLayer("added", LayerOptions{Blend: BlendAdd})
	r.CreateLayer("masked", LayerOptions{}).SetMask(ebiten.NewImage(8, 8))

	screen := ebiten.NewImage(64, 48)
	r.Render(screen, nil)
	r.Render(screen, nil)

	unavailable := 0
	for _, w := range *warnings {
		if strings.Contains(w, "blend shader unavailable") {
			unavailable++
		}
	}
	if unavailable != 2 {
		t.Errorf("degraded skip warnings = %d, want 2 (once per affected layer)", unavailable)
	}
}

func TestRenderUsesCopyBlendForPasses(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.CreateLayer("a", LayerOptions{})
	screen := ebiten.NewImage(64, 48)
	r.Render(screen, nil)

	// Each pass must write the shader output verbatim; compositing it over
	// stale scratch contents would double-blend.
	if r.Compositor().shaderOp.Blend != ebiten.BlendCopy {
		t.Error("blend passes should write with BlendCopy")
	}
}

func TestRenderClearCallback(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.CreateLayer("a", LayerOptions{})
	screen := ebiten.NewImage(64, 48)

	called := 0
	r.Render(screen, func(dst *ebiten.Image) {
		called++
		if dst != screen {
			t.Error("clear callback should receive the destination surface")
		}
	})
	if called != 1 {
		t.Errorf("clear callback called %d times, want 1", called)
	}
}

func TestRenderRecreatesScratchOnDensityChange(t *testing.T) {
	r, density := newTestRegistry(t)
	r.CreateLayer("a", LayerOptions{})
	screen := ebiten.NewImage(64, 48)

	r.Render(screen, nil)
	c := r.Compositor()
	oldA, oldB := c.a, c.b
	if c.pw != 64 || c.ph != 48 {
		t.Fatalf("scratch dims = %dx%d, want 64x48", c.pw, c.ph)
	}

	*density = 2
	r.Render(screen, nil)
	if c.a == oldA || c.b == oldB {
		t.Error("density change must recreate both scratch buffers")
	}
	if c.pw != 128 || c.ph != 96 {
		t.Errorf("scratch dims = %dx%d, want 128x96", c.pw, c.ph)
	}
}

func TestRenderNilScreenWarns(t *testing.T) {
	warnings := captureWarnings(t)
	r, _ := newTestRegistry(t)
	r.Render(nil, nil)
	if len(*warnings) != 1 {
		t.Errorf("warnings = %d, want 1", len(*warnings))
	}
}
