package host

import (
	"errors"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/tobsdb/pivot/internal/view"
	"github.com/tobsdb/pivot/pkg"
)

// MessageWriter is the sending half of a websocket connection.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
}

type subscription struct {
	view_name string
	view      *view.View
}

// ConnCtx is the state of one client connection. Writes are serialized
// since update pushes can arrive from any goroutine that mutates a table.
type ConnCtx struct {
	locker sync.Mutex
	w      MessageWriter
	closed bool

	// nil when the host has no users configured
	User *User

	subs map[string]subscription
}

var errConnClosed = errors.New("connection closed")

func NewConnCtx(w MessageWriter, user *User) *ConnCtx {
	return &ConnCtx{w: w, User: user, subs: map[string]subscription{}}
}

func (ctx *ConnCtx) Allowed(role UserRole) bool {
	return ctx.User == nil || ctx.User.HasClearance(role)
}

func (ctx *ConnCtx) Write(buf []byte) error {
	ctx.locker.Lock()
	defer ctx.locker.Unlock()
	if ctx.closed {
		return errConnClosed
	}
	return ctx.w.WriteMessage(websocket.TextMessage, buf)
}

func (ctx *ConnCtx) writeJSON(v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return ctx.Write(buf)
}

func (ctx *ConnCtx) WriteResponse(r Response) error { return ctx.writeJSON(r) }

func (ctx *ConnCtx) addSubscription(id, view_name string, v *view.View) {
	ctx.locker.Lock()
	defer ctx.locker.Unlock()
	ctx.subs[id] = subscription{view_name, v}
}

func (ctx *ConnCtx) removeSubscription(id string) (subscription, bool) {
	ctx.locker.Lock()
	defer ctx.locker.Unlock()
	sub, ok := ctx.subs[id]
	delete(ctx.subs, id)
	return sub, ok
}

// Close stops writes and drops the connection's update subscriptions.
func (ctx *ConnCtx) Close() {
	ctx.locker.Lock()
	ctx.closed = true
	subs := ctx.subs
	ctx.subs = map[string]subscription{}
	ctx.locker.Unlock()

	for id, sub := range subs {
		if err := sub.view.RemoveUpdate(id); err != nil {
			pkg.DebugLog("dropping subscription", id, err)
		}
	}
}
