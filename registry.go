package strata

import (
	"fmt"
	"sort"

	"github.com/hajimehoshi/ebiten/v2"
)

// RegistryConfig configures NewRegistry. Width and Height are the host
// surface's logical dimensions and are required.
type RegistryConfig struct {
	Width, Height int
	// DensityFunc reports the host's current pixel density. Nil means a
	// fixed density of 1. To follow the display, wrap Ebitengine's device
	// scale factor:
	//
	//	DensityFunc: func() float64 { return ebiten.Monitor().DeviceScaleFactor() }
	DensityFunc func() float64
	// FlipPresent vertically flips the final accumulator-to-surface draw,
	// for hosts whose present surface samples with an inverted vertical
	// axis. Intermediate compositing passes are never flipped; see
	// Compositor.
	FlipPresent bool
}

// Registry owns an ordered stack of layers: creation and disposal, the
// single-active-draw-target state machine, resize propagation, and the paint
// order consumed by the compositor. All methods are driven from one calling
// thread (the game loop), like the rest of the engine.
type Registry struct {
	layers    map[LayerID]*Layer
	order     []*Layer // creation order
	byName    map[string]LayerID
	sorted    []*Layer // cached (zIndex, creationOrder) ordering
	sortDirty bool

	nextID LayerID
	active LayerID // 0 when idle

	autoResize   bool
	hostW, hostH int
	lastW, lastH int
	lastDensity  float64
	densityFn    func() float64

	comp      *Compositor
	onMutated func(LayerID)
}

// NewRegistry creates a registry for a host surface of the given size.
// Returns an error if the configuration does not describe a usable surface.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("strata: invalid surface size %dx%d", cfg.Width, cfg.Height)
	}
	fn := cfg.DensityFunc
	if fn == nil {
		fn = func() float64 { return 1 }
	}
	d := fn()
	if d <= 0 {
		return nil, fmt.Errorf("strata: invalid surface density %v", d)
	}
	return &Registry{
		layers:      make(map[LayerID]*Layer),
		byName:      make(map[string]LayerID),
		autoResize:  true,
		hostW:       cfg.Width,
		hostH:       cfg.Height,
		lastW:       cfg.Width,
		lastH:       cfg.Height,
		lastDensity: d,
		densityFn:   fn,
		comp:        newCompositor(cfg.FlipPresent),
	}, nil
}

// Compositor returns the registry's compositor.
func (r *Registry) Compositor() *Compositor { return r.comp }

// --- Creation and lookup ---

// CreateLayer allocates a new layer and registers it under name. Names are
// not required to be unique; the name index keeps the most recently created
// layer for a duplicated name (last write wins).
func (r *Registry) CreateLayer(name string, opts LayerOptions) *Layer {
	if r.layers == nil {
		logf("strata: create %q: registry is disposed", name)
		return nil
	}
	r.nextID++
	id := r.nextID

	w, h := r.lastW, r.lastH
	density := r.lastDensity
	custom := opts.Width != 0 || opts.Height != 0 || opts.Density != 0
	if opts.Width > 0 {
		w = opts.Width
	}
	if opts.Height > 0 {
		h = opts.Height
	}
	if opts.Density > 0 {
		density = opts.Density
	}

	opacity := opts.Opacity
	if opacity == 0 {
		opacity = 1
	}
	z := opts.ZIndex
	if z == 0 {
		z = int(id)
	}
	blend := opts.Blend
	if !blend.valid() {
		logf("strata: layer %q: invalid blend mode %d, using normal", name, uint8(blend))
		blend = BlendNormal
	}

	l := &Layer{
		id:         id,
		name:       name,
		reg:        r,
		visible:    !opts.Hidden,
		opacity:    clamp01(opacity),
		blend:      blend,
		zIndex:     z,
		customSize: custom,
		target:     newRenderTarget(w, h, density),
		w:          w,
		h:          h,
		density:    density,
	}
	r.layers[id] = l
	r.order = append(r.order, l)
	r.byName[name] = id
	r.sortDirty = true
	return l
}

// Get returns the layer registered under name, or nil if unknown. With
// duplicate names it returns the most recently created one.
func (r *Registry) Get(name string) *Layer {
	if id, ok := r.byName[name]; ok {
		return r.layers[id]
	}
	return nil
}

// GetByID returns the layer with the given id, or nil.
func (r *Registry) GetByID(id LayerID) *Layer { return r.layers[id] }

// Count returns the number of registered layers.
func (r *Registry) Count() int { return len(r.order) }

// Ordered returns the layers sorted by (zIndex, creationOrder) ascending:
// bottom of the stack first. This is the single authoritative paint order;
// the compositor and any other caller consume it as-is and must not re-sort.
// The returned slice is cached and MUST NOT be mutated.
func (r *Registry) Ordered() []*Layer {
	if r.sortDirty || r.sorted == nil {
		r.sorted = append(r.sorted[:0], r.order...)
		// order is creation order, so a stable sort by zIndex alone
		// preserves creation order as the tiebreak.
		sort.SliceStable(r.sorted, func(i, j int) bool {
			return r.sorted[i].zIndex < r.sorted[j].zIndex
		})
		r.sortDirty = false
	}
	return r.sorted
}

// --- Removal ---

// Remove removes the layer registered under name. Returns false (logged) if
// the name is unknown.
func (r *Registry) Remove(name string) bool {
	l := r.Get(name)
	if l == nil {
		logf("strata: remove: no layer named %q", name)
		return false
	}
	return r.RemoveLayer(l)
}

// RemoveLayer disposes the layer's render target and drops the layer from
// the registry. If the layer is mid-draw it is ended first. The name index
// entry is removed only if it still points at this layer: a later duplicate
// keeps the name.
func (r *Registry) RemoveLayer(l *Layer) bool {
	if l == nil || r.layers[l.id] != l {
		return false
	}
	if r.active == l.id {
		r.End()
	}
	l.Dispose()
	delete(r.layers, l.id)
	if id, ok := r.byName[l.name]; ok && id == l.id {
		delete(r.byName, l.name)
	}
	for i, cur := range r.order {
		if cur == l {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.sortDirty = true
	l.reg = nil
	return true
}

// --- Draw state machine ---
//
// The registry is either idle or drawing into exactly one layer. There is no
// direct transition between two drawing states: beginning a layer while
// another is mid-draw implicitly ends the first, with a warning.

// Begin binds the named layer as the active draw target and returns it.
// Unknown names log a warning and return nil, leaving the state unchanged.
func (r *Registry) Begin(name string) *Layer {
	l := r.Get(name)
	if l == nil {
		logf("strata: begin: no layer named %q", name)
		return nil
	}
	return r.BeginLayer(l)
}

// BeginLayer binds l as the active draw target. If another layer is still
// drawing it is ended first, with a warning: only one render target may be
// bound at a time. A layer missing its render target logs an error and the
// state is unchanged.
func (r *Registry) BeginLayer(l *Layer) *Layer {
	if l == nil || r.layers[l.id] != l {
		logf("strata: begin: layer is not registered")
		return nil
	}
	if l.target == nil {
		logf("strata: begin: layer %q has no render target", l.name)
		return nil
	}
	if r.active != 0 {
		logf("strata: begin %q while layer %d is still drawing, ending it first", l.name, r.active)
		r.End()
	}
	r.active = l.id
	return l
}

// End unbinds the active draw target and notifies the mutation listener.
// Warns and no-ops when no layer is drawing.
func (r *Registry) End() {
	if r.active == 0 {
		logf("strata: end: no layer is drawing")
		return
	}
	id := r.active
	r.active = 0
	if r.onMutated != nil {
		r.onMutated(id)
	}
}

// Active returns the layer currently bound for drawing, or nil when idle.
func (r *Registry) Active() *Layer {
	if r.active == 0 {
		return nil
	}
	return r.layers[r.active]
}

// SetOnLayerMutated registers a listener invoked with the layer id after
// each End. External tooling (inspector thumbnails) hooks here; rendering
// never depends on it and an absent listener costs nothing.
func (r *Registry) SetOnLayerMutated(fn func(LayerID)) {
	r.onMutated = fn
}

// --- Name-addressed mutators ---
//
// Convenience forms of the Layer setters keyed by name. Each returns the
// mutated layer for chaining, or nil (logged) when the name is unknown.

func (r *Registry) lookup(name, op string) *Layer {
	l := r.Get(name)
	if l == nil {
		logf("strata: %s: no layer named %q", op, name)
	}
	return l
}

// SetVisible shows or hides the named layer.
func (r *Registry) SetVisible(name string, v bool) *Layer {
	if l := r.lookup(name, "set visible"); l != nil {
		return l.SetVisible(v)
	}
	return nil
}

// SetOpacity sets the named layer's opacity, clamped to [0,1].
func (r *Registry) SetOpacity(name string, o float64) *Layer {
	if l := r.lookup(name, "set opacity"); l != nil {
		return l.SetOpacity(o)
	}
	return nil
}

// SetBlendMode sets the named layer's compositing mode.
func (r *Registry) SetBlendMode(name string, b BlendMode) *Layer {
	if l := r.lookup(name, "set blend mode"); l != nil {
		return l.SetBlendMode(b)
	}
	return nil
}

// SetBlendModeName sets the named layer's compositing mode from a string.
func (r *Registry) SetBlendModeName(name, mode string) *Layer {
	if l := r.lookup(name, "set blend mode"); l != nil {
		return l.SetBlendModeName(mode)
	}
	return nil
}

// SetZIndex changes the named layer's paint-order key.
func (r *Registry) SetZIndex(name string, z int) *Layer {
	if l := r.lookup(name, "set z-index"); l != nil {
		return l.SetZIndex(z)
	}
	return nil
}

// SetMask attaches a mask to the named layer.
func (r *Registry) SetMask(name string, mask *ebiten.Image) *Layer {
	if l := r.lookup(name, "set mask"); l != nil {
		return l.SetMask(mask)
	}
	return nil
}

// ClearMask detaches the named layer's mask.
func (r *Registry) ClearMask(name string) *Layer {
	if l := r.lookup(name, "clear mask"); l != nil {
		return l.ClearMask()
	}
	return nil
}

// --- Resize propagation ---

// Layout records the host surface's logical size. Call it from
// ebiten.Game.Layout, or whenever the host reports a new size; reallocation
// happens in CheckResize at the start of the next Render.
func (r *Registry) Layout(w, h int) {
	if w > 0 && h > 0 {
		r.hostW, r.hostH = w, h
	}
}

// SetAutoResize toggles automatic resize propagation. Enabled by default.
func (r *Registry) SetAutoResize(enabled bool) {
	r.autoResize = enabled
}

// CheckResize compares the host size and density against the last observed
// values and, on any drift (a density-only change included), reallocates the
// render target of every layer without a custom size, plus the compositor's
// scratch buffers. Deferred with a warning while a layer is mid-draw: a
// render target must not be destroyed under an active drawing pass.
func (r *Registry) CheckResize() {
	if !r.autoResize {
		return
	}
	density := r.densityFn()
	if density <= 0 {
		density = r.lastDensity
	}
	if r.hostW == r.lastW && r.hostH == r.lastH && density == r.lastDensity {
		return
	}
	if r.active != 0 {
		logf("strata: resize deferred: layer %d is still drawing", r.active)
		return
	}
	r.lastW, r.lastH, r.lastDensity = r.hostW, r.hostH, density
	for _, l := range r.order {
		if l.customSize {
			continue
		}
		l.Resize(r.lastW, r.lastH, density)
	}
	r.comp.invalidate()
}

// --- Rendering ---

// Render composites every visible layer onto screen in paint order. clearFn,
// when non-nil, prepares the screen before the final draw; nil clears it to
// transparent black.
func (r *Registry) Render(screen *ebiten.Image, clearFn func(*ebiten.Image)) {
	if screen == nil {
		logf("strata: render: nil destination surface")
		return
	}
	b := screen.Bounds()
	r.Layout(b.Dx(), b.Dy())
	r.CheckResize()
	r.comp.Render(r.Ordered(), screen, r.lastW, r.lastH, r.lastDensity, clearFn)
}

// Dispose ends any active draw, releases every layer's render target and the
// compositor's scratch buffers. The registry must not be used afterwards.
func (r *Registry) Dispose() {
	if r.active != 0 {
		r.End()
	}
	for _, l := range r.order {
		l.Dispose()
		l.reg = nil
	}
	r.layers = nil
	r.order = nil
	r.byName = nil
	r.sorted = nil
	r.comp.dispose()
}
