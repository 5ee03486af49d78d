// Go client for a pivot host.
//
// Usage:
//
//	c, err := client.NewClient("ws://localhost:7086", client.ClientOptions{})
//	if err := c.Connect(); err != nil { ... }
//	defer c.Disconnect()
//
//	c.Table("trades", []map[string]any{{"sym": "A", "px": 1.5}}, map[string]any{"index": "sym"})
//	c.View("trades", "by_sym", map[string]any{"group_by": []string{"sym"}})
//	rows, err := c.ToJSON("by_sym")
//
// Update callbacks run on the client's read loop and must not wait on
// other requests made through the same client.
package client

import (
	"errors"
	"fmt"
	"net/url"
	"sync"

	"github.com/goccy/go-json"
	ws "github.com/gorilla/websocket"
	"github.com/tobsdb/pivot/pkg"
	"go.uber.org/zap"
)

type ClientOptions struct {
	Username string
	Password string
}

type Response struct {
	Status    int             `json:"status"`
	Message   string          `json:"message"`
	Data      json.RawMessage `json:"data"`
	RequestId int             `json:"__pivot_client_req_id__"`
}

// Err turns a failed response into an error.
func (r Response) Err() error {
	if r.Status >= 400 {
		return fmt.Errorf("%d: %s", r.Status, r.Message)
	}
	return nil
}

func (r Response) Decode(v any) error { return json.Unmarshal(r.Data, v) }

// Update is a pushed view update. Reset means the view's earlier rows are
// gone and Delta holds its whole content.
type Update struct {
	Subscription   string           `json:"subscription"`
	View           string           `json:"view"`
	PortID         int              `json:"port_id"`
	Reset          bool             `json:"reset"`
	Delta          []map[string]any `json:"delta"`
	Removed        []any            `json:"removed"`
	Arrow          []byte           `json:"arrow"`
	ColumnsChanged bool             `json:"columns_changed"`
}

var ErrNotConnected = errors.New("Not connected")

type Client struct {
	// The formatted connection url of the pivot host
	Url *url.URL

	conn  *ws.Conn
	write sync.Mutex

	mu      sync.Mutex
	next    int
	pending map[int]chan Response
	subs    map[string]func(Update)
	// pushes that beat their on_update response, kept while a
	// subscription request is in flight
	early       map[string][]Update
	subscribing int
	err         error
	done        chan struct{}
}

func NewClient(urlStr string, options ClientOptions) (*Client, error) {
	Url, err := url.Parse(urlStr)
	if err != nil {
		return nil, err
	}
	if options.Username != "" {
		q := Url.Query()
		q.Set("username", options.Username)
		q.Set("password", options.Password)
		Url.RawQuery = q.Encode()
	}
	return &Client{
		Url:     Url,
		pending: map[int]chan Response{},
		subs:    map[string]func(Update){},
		early:   map[string][]Update{},
	}, nil
}

func (c *Client) Connect() error {
	if c.conn != nil {
		return nil
	}
	conn, res, err := ws.DefaultDialer.Dial(c.Url.String(), nil)
	if err != nil {
		return err
	}
	if err := res.Header.Get("pivot-error"); err != "" {
		conn.Close()
		return fmt.Errorf("Pivot Error: %s", err)
	}

	pkg.Logger().Info("connected to pivot host", zap.String("url", c.Url.Redacted()))
	c.conn = conn
	c.done = make(chan struct{})
	go c.readLoop()
	return nil
}

func (c *Client) Disconnect() error {
	if c.conn == nil {
		return ErrNotConnected
	}
	c.write.Lock()
	err := c.conn.WriteMessage(ws.CloseMessage,
		ws.FormatCloseMessage(ws.CloseNormalClosure, "Disconnect"))
	c.write.Unlock()
	if err != nil {
		pkg.ErrorLog(err)
	}
	if err := c.conn.Close(); err != nil {
		return err
	}
	<-c.done
	pkg.DebugLog("disconnected from pivot host")
	return nil
}

type envelope struct {
	Subscription string `json:"subscription"`
	RequestId    int    `json:"__pivot_client_req_id__"`
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.fail(err)
			return
		}
		var env envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			pkg.ErrorLog("bad message from host;", err)
			continue
		}

		if env.Subscription != "" {
			var u Update
			if err := json.Unmarshal(msg, &u); err != nil {
				pkg.ErrorLog("bad update from host;", err)
				continue
			}
			c.mu.Lock()
			cb, ok := c.subs[u.Subscription]
			if !ok && c.subscribing > 0 {
				c.early[u.Subscription] = append(c.early[u.Subscription], u)
			}
			c.mu.Unlock()
			if ok {
				cb(u)
			}
			continue
		}

		var res Response
		if err := json.Unmarshal(msg, &res); err != nil {
			pkg.ErrorLog("bad response from host;", err)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[res.RequestId]
		delete(c.pending, res.RequestId)
		c.mu.Unlock()
		if ok {
			ch <- res
		}
	}
}

// fail ends every waiting request once the connection is gone.
func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

// Request sends one action and waits for its response.
func (c *Client) Request(action string, args map[string]any) (Response, error) {
	if c.conn == nil {
		return Response{}, ErrNotConnected
	}
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return Response{}, c.err
	}
	c.next++
	id := c.next
	ch := make(chan Response, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	req := map[string]any{}
	for k, v := range args {
		req[k] = v
	}
	req["action"] = action
	req["__pivot_client_req_id__"] = id
	buf, err := json.Marshal(req)
	if err != nil {
		c.forget(id)
		return Response{}, err
	}

	c.write.Lock()
	err = c.conn.WriteMessage(ws.TextMessage, buf)
	c.write.Unlock()
	if err != nil {
		c.forget(id)
		return Response{}, err
	}

	res, ok := <-ch
	if !ok {
		return Response{}, ErrNotConnected
	}
	return res, res.Err()
}

func (c *Client) forget(id int) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *Client) Table(name string, data any, options map[string]any) (string, error) {
	res, err := c.Request("table", map[string]any{"name": name, "data": data, "options": options})
	if err != nil {
		return "", err
	}
	var out struct {
		Name string `json:"name"`
	}
	err = res.Decode(&out)
	return out.Name, err
}

func (c *Client) Update(table string, data any, port int) error {
	_, err := c.Request("update", map[string]any{"table": table, "data": data, "port_id": port})
	return err
}

func (c *Client) Remove(table string, keys []any, port int) error {
	_, err := c.Request("remove", map[string]any{"table": table, "keys": keys, "port_id": port})
	return err
}

func (c *Client) MakePort(table string) (int, error) {
	res, err := c.Request("make_port", map[string]any{"table": table})
	if err != nil {
		return 0, err
	}
	var port int
	err = res.Decode(&port)
	return port, err
}

func (c *Client) View(table, name string, config map[string]any) (string, error) {
	res, err := c.Request("view", map[string]any{"table": table, "name": name, "config": config})
	if err != nil {
		return "", err
	}
	var out struct {
		Name string `json:"name"`
	}
	err = res.Decode(&out)
	return out.Name, err
}

func (c *Client) ToJSON(view string) ([]map[string]any, error) {
	res, err := c.Request("to_json", map[string]any{"view": view})
	if err != nil {
		return nil, err
	}
	var rows []map[string]any
	err = res.Decode(&rows)
	return rows, err
}

func (c *Client) ToColumns(view string) (map[string][]any, error) {
	res, err := c.Request("to_columns", map[string]any{"view": view})
	if err != nil {
		return nil, err
	}
	var cols map[string][]any
	err = res.Decode(&cols)
	return cols, err
}

// OnUpdate subscribes cb to a view's updates. mode is none, row or arrow.
func (c *Client) OnUpdate(view, mode string, cb func(Update)) (string, error) {
	c.mu.Lock()
	c.subscribing++
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.subscribing--
		if c.subscribing == 0 {
			c.early = map[string][]Update{}
		}
		c.mu.Unlock()
	}()

	res, err := c.Request("on_update", map[string]any{"view": view, "mode": mode})
	if err != nil {
		return "", err
	}
	var id string
	if err := res.Decode(&id); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.subs[id] = cb
	early := c.early[id]
	delete(c.early, id)
	c.mu.Unlock()
	for _, u := range early {
		cb(u)
	}
	return id, nil
}

func (c *Client) RemoveUpdate(id string) error {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
	_, err := c.Request("remove_update", map[string]any{"subscription": id})
	return err
}
