package strata

import (
	"github.com/tanema/gween"
	"github.com/tanema/gween/ease"
)

// FadeTo animates the layer's opacity toward the target value over duration
// seconds, using the given easing function. The fade is advanced by
// Registry.Update; setting opacity directly cancels it. The target is
// clamped to [0, 1] like every other opacity write.
func (l *Layer) FadeTo(opacity float64, duration float32, easeFn ease.TweenFunc) *Layer {
	l.fade = gween.New(float32(l.opacity), float32(clamp01(opacity)), duration, easeFn)
	return l
}

// IsFading reports whether an opacity fade is in flight.
func (l *Layer) IsFading() bool { return l.fade != nil }

// updateFade advances an in-flight fade by dt seconds.
func (l *Layer) updateFade(dt float32) {
	if l.fade == nil {
		return
	}
	v, done := l.fade.Update(dt)
	l.opacity = clamp01(float64(v))
	if done {
		l.fade = nil
	}
}

// Update advances in-flight opacity fades by dt seconds. Call once per frame
// (e.g. from ebiten.Game.Update); a registry with no active fades does no
// work.
func (r *Registry) Update(dt float32) {
	for _, l := range r.order {
		l.updateFade(dt)
	}
}
