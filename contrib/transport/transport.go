package transport

import "context"

// Server is transport server.
type Server interface {
	Start(context.Context) error
	Stop(context.Context) error
}

type AppContext interface {
	Kind() Kind
}

type Kind string

func (k Kind) String() string {
	return string(k)
}

type (
	serverAppContext struct{}
)

// kindContext is the trivial AppContext most single-purpose servers
// need: just their own Kind, nothing else.
type kindContext Kind

func (k kindContext) Kind() Kind { return Kind(k) }

// WithKind is shorthand for NewContext(ctx, a value whose Kind() is k).
func WithKind(ctx context.Context, k Kind) context.Context {
	return NewContext(ctx, kindContext(k))
}

// NewContext attaches appCtx to ctx so a handler several calls deep can
// tell which transport (proxy data-plane vs admin HTTP) is serving the
// current request without threading an extra parameter through.
func NewContext(ctx context.Context, appCtx AppContext) context.Context {
	return context.WithValue(ctx, serverAppContext{}, appCtx)
}

// FromContext retrieves the AppContext NewContext attached, or nil if
// none was set.
func FromContext(ctx context.Context) AppContext {
	appCtx, _ := ctx.Value(serverAppContext{}).(AppContext)
	return appCtx
}
