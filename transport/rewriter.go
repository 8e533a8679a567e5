package transport

import (
	"context"

	"github.com/google/go-dap"
)

// inboundRewriter decorates a Transport so every inbound message has its
// source.path fields rewritten from remoteRoot back to localRoot before
// reaching the Client. Outbound
// rewriting already happens inside sshTransport.Send; wrapping here keeps
// that asymmetry invisible to callers — a decorated Transport looks exactly
// like any other Transport.
type inboundRewriter struct {
	inner                 Transport
	localRoot, remoteRoot string
}

// NewInboundRewriter wraps tr so inbound DAP messages have source.path
// rewritten from remoteRoot to localRoot. If either root is empty, it
// returns tr unchanged.
func NewInboundRewriter(tr Transport, localRoot, remoteRoot string) Transport {
	if localRoot == "" || remoteRoot == "" {
		return tr
	}
	return &inboundRewriter{inner: tr, localRoot: localRoot, remoteRoot: remoteRoot}
}

func (r *inboundRewriter) Connect(ctx context.Context) error { return r.inner.Connect(ctx) }
func (r *inboundRewriter) Disconnect()                       { r.inner.Disconnect() }
func (r *inboundRewriter) Send(msg dap.Message) error        { return r.inner.Send(msg) }
func (r *inboundRewriter) State() State                      { return r.inner.State() }

func (r *inboundRewriter) OnMessage(fn func(dap.Message)) {
	r.inner.OnMessage(func(msg dap.Message) {
		RewriteInbound(msg, r.localRoot, r.remoteRoot)
		fn(msg)
	})
}

func (r *inboundRewriter) OnError(fn func(error))                   { r.inner.OnError(fn) }
func (r *inboundRewriter) OnClose(fn func(code int, signal string)) { r.inner.OnClose(fn) }
