package host

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/tobsdb/pivot/internal/metrics"
	"github.com/tobsdb/pivot/internal/table"
	"github.com/tobsdb/pivot/internal/view"
	"github.com/tobsdb/pivot/pkg"
	"go.uber.org/zap"
)

type WsRequest struct {
	Action RequestAction `json:"action"`
	ReqId  int           `json:"__pivot_client_req_id__"`
}

var Upgrader = websocket.Upgrader{
	WriteBufferSize: 1024 * 10,
	ReadBufferSize:  1024 * 10,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type Options struct {
	// Metrics mounts the prometheus handler on /metrics.
	Metrics bool
}

// Host owns the named tables and views served to websocket clients.
type Host struct {
	Locker sync.RWMutex
	tables pkg.Map[string, *table.Table]
	views  pkg.Map[string, *view.View]
	// name -> user; auth is off while empty
	Users   pkg.Map[string, *User]
	options Options
}

func New(options Options, users ...*User) *Host {
	h := &Host{
		tables:  pkg.Map[string, *table.Table]{},
		views:   pkg.Map[string, *view.View]{},
		Users:   pkg.Map[string, *User]{},
		options: options,
	}
	for _, u := range users {
		h.Users.Set(u.Name, u)
	}
	return h
}

func (h *Host) GetLocker() *sync.RWMutex { return &h.Locker }

func (h *Host) table(name string) (*table.Table, error) {
	h.Locker.RLock()
	defer h.Locker.RUnlock()
	t := h.tables.Get(name)
	if t == nil {
		return nil, table.NewQueryError(http.StatusNotFound, fmt.Sprintf("Table %q not found", name))
	}
	return t, nil
}

func (h *Host) hasTable(name string) bool {
	h.Locker.RLock()
	defer h.Locker.RUnlock()
	return h.tables.Has(name)
}

func (h *Host) addTable(name string, t *table.Table) bool {
	h.Locker.Lock()
	defer h.Locker.Unlock()
	if h.tables.Has(name) {
		return false
	}
	h.tables.Set(name, t)
	return true
}

func (h *Host) removeTable(name string) {
	pkg.LockWrap(h, func() { h.tables.Delete(name) })
}

func (h *Host) view(name string) (*view.View, error) {
	h.Locker.RLock()
	defer h.Locker.RUnlock()
	v := h.views.Get(name)
	if v == nil {
		return nil, table.NewQueryError(http.StatusNotFound, fmt.Sprintf("View %q not found", name))
	}
	return v, nil
}

func (h *Host) hasView(name string) bool {
	h.Locker.RLock()
	defer h.Locker.RUnlock()
	return h.views.Has(name)
}

func (h *Host) addView(name string, v *view.View) bool {
	h.Locker.Lock()
	defer h.Locker.Unlock()
	if h.views.Has(name) {
		return false
	}
	h.views.Set(name, v)
	return true
}

// removeView drops name only while it still refers to v.
func (h *Host) removeView(name string, v *view.View) {
	pkg.LockWrap(h, func() {
		if h.views.Get(name) == v {
			h.views.Delete(name)
		}
	})
}

func (h *Host) addUser(u *User) bool {
	h.Locker.Lock()
	defer h.Locker.Unlock()
	if h.Users.Has(u.Name) {
		return false
	}
	h.Users.Set(u.Name, u)
	return true
}

func (h *Host) removeUser(name string) bool {
	h.Locker.Lock()
	defer h.Locker.Unlock()
	if !h.Users.Has(name) {
		return false
	}
	h.Users.Delete(name)
	return true
}

func (h *Host) authRequired() (required bool) {
	pkg.RLockWrap(h, func() { required = len(h.Users) > 0 })
	return
}

func (h *Host) validate(name, password string) *User {
	h.Locker.RLock()
	u := h.Users.Get(name)
	h.Locker.RUnlock()
	if u == nil || !u.ValidateUser(password) {
		return nil
	}
	return u
}

var errInvalidAuth = errors.New("Invalid auth")

// credentials reads "user:pass" from the auth query param or the
// Authorization header, falling back to username/password params.
func credentials(r *http.Request) (string, string) {
	if name, password, ok := r.BasicAuth(); ok {
		return name, password
	}
	q := r.URL.Query()
	auth := q.Get("auth")
	if auth == "" {
		auth = r.Header.Get("Authorization")
	}
	if name, password, ok := strings.Cut(auth, ":"); ok {
		return name, password
	}
	return q.Get("username"), q.Get("password")
}

func (h *Host) authenticate(r *http.Request) (*User, error) {
	if !h.authRequired() {
		return nil, nil
	}
	name, password := credentials(r)
	if u := h.validate(name, password); u != nil {
		return u, nil
	}
	return nil, errInvalidAuth
}

func ConnError(w http.ResponseWriter, r *http.Request, conn_error string) {
	pkg.InfoLog("connection error:", conn_error)
	headers := http.Header{}
	headers.Set("pivot-error", conn_error)
	conn, err := Upgrader.Upgrade(w, r, headers)
	if err != nil {
		pkg.ErrorLog(err)
		return
	}

	conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, conn_error))
	conn.Close()
}

func (h *Host) HandleConnection(w http.ResponseWriter, r *http.Request) {
	user, err := h.authenticate(r)
	if err != nil {
		ConnError(w, r, err.Error())
		return
	}

	conn, err := Upgrader.Upgrade(w, r, nil)
	if err != nil {
		pkg.ErrorLog("upgrade failed;", err)
		return
	}
	log := pkg.Logger().With(zap.String("remote", r.RemoteAddr))
	log.Info("connection established")

	ctx := NewConnCtx(conn, user)
	defer func() {
		ctx.Close()
		conn.Close()
		log.Info("connection closed")
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error("read failed", zap.Error(err))
			}
			return
		}

		var req WsRequest
		if err := json.Unmarshal(message, &req); err != nil {
			if err := ctx.WriteResponse(NewErrorResponse(http.StatusBadRequest, err.Error())); err != nil {
				return
			}
			continue
		}

		start := time.Now()
		res := ActionHandler(h, req.Action, ctx, message)
		res.ReqId = req.ReqId
		log.Debug("handled request",
			zap.String("action", string(req.Action)),
			zap.Int("status", res.Status),
			zap.Duration("took", time.Since(start)))

		if err := ctx.WriteResponse(res); err != nil {
			log.Error("write failed", zap.Error(err))
			return
		}
	}
}

func (h *Host) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	if h.options.Metrics {
		mux.Handle("/metrics", metrics.Handler())
	}
	mux.HandleFunc("/", h.HandleConnection)
	return mux
}

func (h *Host) Listen(port int) {
	exit := make(chan os.Signal, 2)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	s := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: h.Mux(),
	}

	go func() {
		err := s.ListenAndServe()
		if err != http.ErrServerClosed {
			pkg.FatalLog(err)
		}
	}()

	pkg.InfoLog("Pivot listening on port", port)
	<-exit
	pkg.DebugLog("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.Shutdown(ctx)
	h.Close()
}

// Close deletes every table, which in turn invalidates their views.
func (h *Host) Close() {
	h.Locker.Lock()
	tables := h.tables
	h.tables = pkg.Map[string, *table.Table]{}
	h.Locker.Unlock()
	for name, t := range tables {
		if err := t.Delete(); err != nil {
			pkg.DebugLog("closing table", name, err)
		}
	}
}
