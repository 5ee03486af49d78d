package host

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/tobsdb/pivot/internal/format"
	"github.com/tobsdb/pivot/internal/table"
	"github.com/tobsdb/pivot/internal/view"
	"github.com/tobsdb/pivot/pkg"
)

type Response struct {
	Data    any    `json:"data"`
	Message string `json:"message"`
	Status  int    `json:"status"`
	// don't manually set this. it comes from the client
	ReqId int `json:"__pivot_client_req_id__"`
}

func NewErrorResponse(status int, err string) Response {
	return Response{Message: err, Status: status}
}

func NewResponse(status int, message string, data any) Response {
	return Response{Data: data, Message: message, Status: status}
}

func errorResponse(err error) Response {
	if errors.Is(err, view.ErrViewDeleted) || errors.Is(err, view.ErrSourceDeleted) {
		return NewErrorResponse(http.StatusGone, err.Error())
	}
	return NewErrorResponse(table.StatusOf(err), err.Error())
}

// UpdateMessage is pushed to a connection for each delivered view update.
type UpdateMessage struct {
	Subscription   string           `json:"subscription"`
	View           string           `json:"view"`
	PortID         int              `json:"port_id"`
	Reset          bool             `json:"reset,omitempty"`
	Delta          []map[string]any `json:"delta,omitempty"`
	Removed        []any            `json:"removed,omitempty"`
	Arrow          []byte           `json:"arrow,omitempty"`
	ColumnsChanged bool             `json:"columns_changed,omitempty"`
}

// DataRequest carries table data as JSON rows or columns, CSV text, or an
// Arrow IPC stream (base64 in JSON).
type DataRequest struct {
	Table  string `json:"table"`
	Data   any    `json:"data"`
	CSV    string `json:"csv"`
	Arrow  []byte `json:"arrow"`
	PortID int    `json:"port_id"`
}

func (r DataRequest) payload() any {
	if r.Arrow != nil {
		return format.NewArrow(r.Arrow)
	}
	if r.CSV != "" {
		return format.CSV(r.CSV)
	}
	return r.Data
}

type CreateTableRequest struct {
	DataRequest
	Name    string        `json:"name"`
	Options table.Options `json:"options"`
}

func CreateTableReqHandler(h *Host, raw []byte) Response {
	var req CreateTableRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	name := req.Name
	if name == "" {
		name = uuid.New().String()
	} else if h.hasTable(name) {
		return NewErrorResponse(http.StatusConflict, fmt.Sprintf("Table %q already exists", name))
	}

	t, err := table.New(req.payload(), req.Options)
	if err != nil {
		return errorResponse(err)
	}
	if !h.addTable(name, t) {
		t.Delete()
		return NewErrorResponse(http.StatusConflict, fmt.Sprintf("Table %q already exists", name))
	}
	size, _ := t.Size()
	return NewResponse(http.StatusCreated, fmt.Sprintf("Created table %s", name),
		map[string]any{"name": name, "size": size})
}

func UpdateReqHandler(h *Host, raw []byte) Response {
	var req DataRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	t, err := h.table(req.Table)
	if err != nil {
		return errorResponse(err)
	}
	if err := t.Update(req.payload(), table.UpdateOptions{PortID: req.PortID}); err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Updated table %s", req.Table), nil)
}

type RemoveRequest struct {
	Table  string `json:"table"`
	Keys   []any  `json:"keys"`
	PortID int    `json:"port_id"`
}

func RemoveReqHandler(h *Host, raw []byte) Response {
	var req RemoveRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	t, err := h.table(req.Table)
	if err != nil {
		return errorResponse(err)
	}
	if err := t.Remove(req.Keys, table.UpdateOptions{PortID: req.PortID}); err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Removed rows from table %s", req.Table), nil)
}

func ReplaceReqHandler(h *Host, raw []byte) Response {
	var req DataRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	t, err := h.table(req.Table)
	if err != nil {
		return errorResponse(err)
	}
	if err := t.Replace(req.payload()); err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Replaced table %s", req.Table), nil)
}

type TableRequest struct {
	Table string `json:"table"`
}

func ClearReqHandler(h *Host, raw []byte) Response {
	var req TableRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	t, err := h.table(req.Table)
	if err != nil {
		return errorResponse(err)
	}
	if err := t.Clear(); err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Cleared table %s", req.Table), nil)
}

func MakePortReqHandler(h *Host, raw []byte) Response {
	var req TableRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	t, err := h.table(req.Table)
	if err != nil {
		return errorResponse(err)
	}
	port, err := t.MakePort()
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusCreated, "Created port", port)
}

func DeleteTableReqHandler(h *Host, raw []byte) Response {
	var req TableRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	t, err := h.table(req.Table)
	if err != nil {
		return errorResponse(err)
	}
	if err := t.Delete(); err != nil {
		return errorResponse(err)
	}
	h.removeTable(req.Table)
	return NewResponse(http.StatusOK, fmt.Sprintf("Deleted table %s", req.Table), nil)
}

func TableSchemaReqHandler(h *Host, raw []byte) Response {
	var req TableRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	t, err := h.table(req.Table)
	if err != nil {
		return errorResponse(err)
	}
	schema, err := t.Schema()
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, "", map[string]any{
		"schema": schema.Map(),
		"index":  t.GetIndex(),
		"limit":  t.GetLimit(),
	})
}

func SizeReqHandler(h *Host, raw []byte) Response {
	var req TableRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	t, err := h.table(req.Table)
	if err != nil {
		return errorResponse(err)
	}
	size, err := t.Size()
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, "", size)
}

type ValidateExpressionsRequest struct {
	Table       string            `json:"table"`
	Expressions map[string]string `json:"expressions"`
}

func ValidateExpressionsReqHandler(h *Host, raw []byte) Response {
	var req ValidateExpressionsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	t, err := h.table(req.Table)
	if err != nil {
		return errorResponse(err)
	}
	res, err := t.ValidateExpressions(req.Expressions)
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, "", res)
}

type CreateViewRequest struct {
	Table  string      `json:"table"`
	Name   string      `json:"name"`
	Config view.Config `json:"config"`
}

func CreateViewReqHandler(h *Host, raw []byte) Response {
	var req CreateViewRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	t, err := h.table(req.Table)
	if err != nil {
		return errorResponse(err)
	}
	name := req.Name
	if name == "" {
		name = uuid.New().String()
	} else if h.hasView(name) {
		return NewErrorResponse(http.StatusConflict, fmt.Sprintf("View %q already exists", name))
	}

	v, err := t.View(req.Config)
	if err != nil {
		return errorResponse(err)
	}
	if !h.addView(name, v) {
		v.Delete()
		return NewErrorResponse(http.StatusConflict, fmt.Sprintf("View %q already exists", name))
	}
	v.OnDelete(func() { h.removeView(name, v) })
	return NewResponse(http.StatusCreated, fmt.Sprintf("Created view %s", name),
		map[string]any{"name": name})
}

type ViewRequest struct {
	View     string          `json:"view"`
	Viewport format.Viewport `json:"viewport"`
	Column   string          `json:"column"`
	Row      int             `json:"row"`
	Depth    int             `json:"depth"`
}

func decodeView(h *Host, raw []byte) (*view.View, ViewRequest, error) {
	var req ViewRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return nil, req, table.NewQueryError(http.StatusBadRequest, err.Error())
	}
	v, err := h.view(req.View)
	return v, req, err
}

// MaterializeReqHandler serves to_json, to_columns, to_csv and to_arrow.
func MaterializeReqHandler(h *Host, action RequestAction, raw []byte) Response {
	v, req, err := decodeView(h, raw)
	if err != nil {
		return errorResponse(err)
	}
	var data any
	switch action {
	case RequestActionToJSON:
		data, err = v.ToJSON(req.Viewport)
	case RequestActionToColumns:
		data, err = v.ToColumns(req.Viewport)
	case RequestActionToCSV:
		data, err = v.ToCSV(req.Viewport)
	case RequestActionToArrow:
		data, err = v.ToArrow(req.Viewport)
	default:
		return NewErrorResponse(http.StatusBadRequest, fmt.Sprintf("unknown action: %s", action))
	}
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, "", data)
}

func ViewSchemaReqHandler(h *Host, raw []byte) Response {
	v, _, err := decodeView(h, raw)
	if err != nil {
		return errorResponse(err)
	}
	schema, err := v.Schema()
	if err != nil {
		return errorResponse(err)
	}
	exprs, err := v.ExpressionSchema()
	if err != nil {
		return errorResponse(err)
	}
	cfg, err := v.GetConfig()
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, "", map[string]any{
		"schema":            schema.Map(),
		"expression_schema": exprs,
		"config":            cfg,
	})
}

func NumRowsReqHandler(h *Host, raw []byte) Response {
	v, _, err := decodeView(h, raw)
	if err != nil {
		return errorResponse(err)
	}
	rows, err := v.NumRows()
	if err != nil {
		return errorResponse(err)
	}
	cols, err := v.NumColumns()
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, "", map[string]int{"rows": rows, "columns": cols})
}

func MinMaxReqHandler(h *Host, raw []byte) Response {
	v, req, err := decodeView(h, raw)
	if err != nil {
		return errorResponse(err)
	}
	mm, err := v.GetMinMax(req.Column)
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, "", []any{format.JSONValue(mm[0]), format.JSONValue(mm[1])})
}

// TreeReqHandler serves expand, collapse and set_depth.
func TreeReqHandler(h *Host, action RequestAction, raw []byte) Response {
	v, req, err := decodeView(h, raw)
	if err != nil {
		return errorResponse(err)
	}
	switch action {
	case RequestActionExpand:
		err = v.Expand(req.Row)
	case RequestActionCollapse:
		err = v.Collapse(req.Row)
	case RequestActionSetDepth:
		err = v.SetDepth(req.Depth)
	default:
		return NewErrorResponse(http.StatusBadRequest, fmt.Sprintf("unknown action: %s", action))
	}
	if err != nil {
		return errorResponse(err)
	}
	rows, err := v.NumRows()
	if err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, "", rows)
}

type OnUpdateRequest struct {
	View string          `json:"view"`
	Mode view.UpdateMode `json:"mode"`
}

func OnUpdateReqHandler(h *Host, ctx *ConnCtx, raw []byte) Response {
	var req OnUpdateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	v, err := h.view(req.View)
	if err != nil {
		return errorResponse(err)
	}

	// the callback can fire from another table writer before id is known
	var id string
	ready := make(chan struct{})
	id, err = v.OnUpdate(func(u view.Update) {
		<-ready
		msg := UpdateMessage{
			Subscription:   id,
			View:           req.View,
			PortID:         u.PortID,
			Reset:          u.Reset,
			Delta:          u.Delta,
			Removed:        u.Removed,
			Arrow:          u.Arrow,
			ColumnsChanged: u.ColumnsChanged,
		}
		if err := ctx.writeJSON(msg); err != nil {
			pkg.DebugLog("failed to push update;", err)
		}
	}, req.Mode)
	close(ready)
	if err != nil {
		return errorResponse(err)
	}
	ctx.addSubscription(id, req.View, v)
	return NewResponse(http.StatusCreated, "Subscribed to view updates", id)
}

type RemoveUpdateRequest struct {
	Subscription string `json:"subscription"`
}

func RemoveUpdateReqHandler(ctx *ConnCtx, raw []byte) Response {
	var req RemoveUpdateRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	sub, ok := ctx.removeSubscription(req.Subscription)
	if !ok {
		return NewErrorResponse(http.StatusNotFound, fmt.Sprintf("No update callback with id %q", req.Subscription))
	}
	if err := sub.view.RemoveUpdate(req.Subscription); err != nil {
		return errorResponse(err)
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Unsubscribed from view %s", sub.view_name), nil)
}

func DeleteViewReqHandler(h *Host, raw []byte) Response {
	v, req, err := decodeView(h, raw)
	if err != nil {
		return errorResponse(err)
	}
	if err := v.Delete(); err != nil {
		return errorResponse(err)
	}
	h.removeView(req.View, v)
	return NewResponse(http.StatusOK, fmt.Sprintf("Deleted view %s", req.View), nil)
}

type CreateUserRequest struct {
	Name     string   `json:"name"`
	Password string   `json:"password"`
	Role     UserRole `json:"role"`
}

func CreateUserReqHandler(h *Host, raw []byte) Response {
	var req CreateUserRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	if req.Name == "" || req.Password == "" {
		return NewErrorResponse(http.StatusBadRequest, "Missing name or password")
	}
	if req.Role < UserRoleAdmin || req.Role > UserRoleReadOnly {
		return NewErrorResponse(http.StatusBadRequest, fmt.Sprintf("Invalid role %d", req.Role))
	}
	user, err := NewUser(req.Name, req.Password, req.Role)
	if err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	if !h.addUser(user) {
		return NewErrorResponse(http.StatusConflict, fmt.Sprintf("User %q already exists", req.Name))
	}
	return NewResponse(http.StatusCreated, fmt.Sprintf("Created new user %s", req.Name), user.Id)
}

type DeleteUserRequest struct {
	Name string `json:"name"`
}

func DeleteUserReqHandler(h *Host, raw []byte) Response {
	var req DeleteUserRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		return NewErrorResponse(http.StatusBadRequest, err.Error())
	}
	if !h.removeUser(req.Name) {
		return NewErrorResponse(http.StatusNotFound, fmt.Sprintf("User %q not found", req.Name))
	}
	return NewResponse(http.StatusOK, fmt.Sprintf("Deleted user %s", req.Name), nil)
}
