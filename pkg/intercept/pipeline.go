// Package intercept composes HTTP interceptors into ordered pipelines and
// exposes a post-handler hook (Recorder/Outcome) for interceptors that
// decide based on what the wrapped handler produced.
package intercept

import "net/http"

// Interceptor wraps a handler with additional behavior.
type Interceptor interface {
	Wrap(next http.Handler) http.Handler
}

// Func adapts a plain middleware function to an Interceptor.
type Func func(next http.Handler) http.Handler

// Wrap implements Interceptor.
func (f Func) Wrap(next http.Handler) http.Handler {
	return f(next)
}

// Pipeline is an ordered list of interceptors. The first stage is the
// outermost one and sees the request first.
type Pipeline struct {
	stages []Interceptor
}

// New creates a pipeline from the given stages. Nil stages are skipped so
// optional components can be passed unconditionally.
func New(stages ...Interceptor) *Pipeline {
	p := &Pipeline{}
	return p.Use(stages...)
}

// Use appends stages and returns the pipeline.
func (p *Pipeline) Use(stages ...Interceptor) *Pipeline {
	for _, s := range stages {
		if s == nil {
			continue
		}
		p.stages = append(p.stages, s)
	}
	return p
}

// Len returns the number of stages.
func (p *Pipeline) Len() int {
	return len(p.stages)
}

// Then returns h wrapped by every stage.
func (p *Pipeline) Then(h http.Handler) http.Handler {
	if h == nil {
		h = http.DefaultServeMux
	}
	for i := len(p.stages) - 1; i >= 0; i-- {
		h = p.stages[i].Wrap(h)
	}
	return h
}

// ThenFunc is Then for a handler function.
func (p *Pipeline) ThenFunc(fn http.HandlerFunc) http.Handler {
	return p.Then(fn)
}

// Middleware returns the pipeline as a func(http.Handler) http.Handler so
// it can be mounted with routers such as chi.
func (p *Pipeline) Middleware() func(http.Handler) http.Handler {
	return p.Then
}
