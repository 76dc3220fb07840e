package appcontext

import (
	"bufio"
	"context"
	"sync"

	"github.com/cloudwego/netpoll"
)

// RequestContext holds all state needed during the lifecycle of one
// hijack-eligible connection: the raw netpoll connection, the engine's
// parent context, and the buffered reader net/http parsed the request
// from (reused by adaptor.ResponseWriter.Hijack so buffered body bytes
// aren't dropped when ownership passes to the bridge).
type RequestContext struct {
	conn   netpoll.Connection
	req    context.Context // parent context
	reader *bufio.Reader
}

// pool recycles RequestContext objects to reduce GC pressure.
var pool = sync.Pool{
	New: func() interface{} {
		return new(RequestContext)
	},
}

// NewRequestContext retrieves and initializes a RequestContext from the pool.
func NewRequestContext(conn netpoll.Connection, parent context.Context) *RequestContext {
	c := pool.Get().(*RequestContext)
	c.conn = conn
	c.req = parent
	if c.reader != nil {
		c.reader.Reset(conn)
	}
	return c
}

// Release returns the RequestContext to the pool for reuse.
func (c *RequestContext) Release() {
	c.reset()
	pool.Put(c)
}

// reset clears the fields of RequestContext.
func (c *RequestContext) reset() {
	c.conn = nil
	c.req = nil
	// reader is not nil-ed; NewRequestContext resets it in place for reuse.
}

// Conn returns the netpoll.Connection.
func (c *RequestContext) Conn() netpoll.Connection {
	return c.conn
}

// Req returns the parent context.
func (c *RequestContext) Req() context.Context {
	return c.req
}

// GetReader returns the connection's reusable bufio.Reader, the same
// one net/http buffered the request headers (and any already-read body
// bytes) through.
func (c *RequestContext) GetReader() *bufio.Reader {
	if c.reader == nil {
		c.reader = bufio.NewReader(c.conn)
	}
	return c.reader
}