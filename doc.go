// Package strata is a layer-compositing engine for [Ebitengine].
//
// Strata manages an ordered stack of offscreen render targets ("layers"),
// each with visibility, opacity, a blend mode, and an optional alpha mask,
// and composites them into one destination surface. Accumulation is
// ping-ponged between two scratch buffers so every blend pass sees the
// correctly accumulated result of everything beneath it, and a single shared
// Kage program handles every blend mode, dispatched by a uniform index
// instead of per-mode program switching.
//
// # Quick start
//
//	layers, err := strata.NewRegistry(strata.RegistryConfig{Width: 640, Height: 480})
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	layers.CreateLayer("bg", strata.LayerOptions{})
//	layers.CreateLayer("fx", strata.LayerOptions{Blend: strata.BlendAdd, Opacity: 0.5})
//
// Draw into one layer at a time between Begin and End:
//
//	l := layers.Begin("bg")
//	l.Fill(strata.Color{R: 1, A: 1})
//	layers.End()
//
// Then composite the stack from your game's Draw:
//
//	func (g *Game) Draw(screen *ebiten.Image) {
//		g.layers.Render(screen, nil)
//	}
//
// # Paint order
//
// Layers composite bottom-up, ordered by (z-index, creation order)
// ascending. [Registry.Ordered] is the single authoritative ordering;
// nothing downstream re-sorts it.
//
// # Error handling
//
// Construction failures return errors. Everything that can go wrong per
// frame (unknown names, a missing render target, a blend program that
// failed to compile) is logged and recovered locally, so one bad frame
// never halts rendering. Route the warning channel with [SetLogFunc].
//
// [Ebitengine]: https://ebitengine.org
package strata
