package host

import (
	"fmt"
	"net/http"
)

type RequestAction string

const (
	// table actions
	RequestActionTable               RequestAction = "table"
	RequestActionUpdate              RequestAction = "update"
	RequestActionRemove              RequestAction = "remove"
	RequestActionReplace             RequestAction = "replace"
	RequestActionClear               RequestAction = "clear"
	RequestActionMakePort            RequestAction = "make_port"
	RequestActionDeleteTable         RequestAction = "delete_table"
	RequestActionTableSchema         RequestAction = "table_schema"
	RequestActionSize                RequestAction = "size"
	RequestActionValidateExpressions RequestAction = "validate_expressions"

	// view actions
	RequestActionView         RequestAction = "view"
	RequestActionToJSON       RequestAction = "to_json"
	RequestActionToColumns    RequestAction = "to_columns"
	RequestActionToCSV        RequestAction = "to_csv"
	RequestActionToArrow      RequestAction = "to_arrow"
	RequestActionSchema       RequestAction = "schema"
	RequestActionNumRows      RequestAction = "num_rows"
	RequestActionGetMinMax    RequestAction = "get_min_max"
	RequestActionExpand       RequestAction = "expand"
	RequestActionCollapse     RequestAction = "collapse"
	RequestActionSetDepth     RequestAction = "set_depth"
	RequestActionOnUpdate     RequestAction = "on_update"
	RequestActionRemoveUpdate RequestAction = "remove_update"
	RequestActionDeleteView   RequestAction = "delete_view"

	// user actions
	RequestActionCreateUser RequestAction = "create_user"
	RequestActionDeleteUser RequestAction = "delete_user"
)

// IsReadOnly reports whether the action leaves table data untouched.
// Views are client state, so read-only users may create and drive them.
func (action RequestAction) IsReadOnly() bool {
	switch action {
	case RequestActionTable, RequestActionUpdate, RequestActionRemove, RequestActionReplace,
		RequestActionClear, RequestActionMakePort, RequestActionDeleteTable,
		RequestActionCreateUser, RequestActionDeleteUser:
		return false
	default:
		return true
	}
}

func (action RequestAction) IsUserAction() bool {
	return action == RequestActionCreateUser || action == RequestActionDeleteUser
}

func ActionHandler(h *Host, action RequestAction, ctx *ConnCtx, raw []byte) Response {
	role := UserRoleReadOnly
	if action.IsUserAction() {
		role = UserRoleAdmin
	} else if !action.IsReadOnly() {
		role = UserRoleReadWrite
	}
	if !ctx.Allowed(role) {
		return NewErrorResponse(http.StatusForbidden, InsufficientPermissions.Error())
	}

	switch action {
	case RequestActionTable:
		return CreateTableReqHandler(h, raw)
	case RequestActionUpdate:
		return UpdateReqHandler(h, raw)
	case RequestActionRemove:
		return RemoveReqHandler(h, raw)
	case RequestActionReplace:
		return ReplaceReqHandler(h, raw)
	case RequestActionClear:
		return ClearReqHandler(h, raw)
	case RequestActionMakePort:
		return MakePortReqHandler(h, raw)
	case RequestActionDeleteTable:
		return DeleteTableReqHandler(h, raw)
	case RequestActionTableSchema:
		return TableSchemaReqHandler(h, raw)
	case RequestActionSize:
		return SizeReqHandler(h, raw)
	case RequestActionValidateExpressions:
		return ValidateExpressionsReqHandler(h, raw)
	case RequestActionView:
		return CreateViewReqHandler(h, raw)
	case RequestActionToJSON, RequestActionToColumns, RequestActionToCSV, RequestActionToArrow:
		return MaterializeReqHandler(h, action, raw)
	case RequestActionSchema:
		return ViewSchemaReqHandler(h, raw)
	case RequestActionNumRows:
		return NumRowsReqHandler(h, raw)
	case RequestActionGetMinMax:
		return MinMaxReqHandler(h, raw)
	case RequestActionExpand, RequestActionCollapse, RequestActionSetDepth:
		return TreeReqHandler(h, action, raw)
	case RequestActionOnUpdate:
		return OnUpdateReqHandler(h, ctx, raw)
	case RequestActionRemoveUpdate:
		return RemoveUpdateReqHandler(ctx, raw)
	case RequestActionDeleteView:
		return DeleteViewReqHandler(h, raw)
	case RequestActionCreateUser:
		return CreateUserReqHandler(h, raw)
	case RequestActionDeleteUser:
		return DeleteUserReqHandler(h, raw)
	default:
		return NewErrorResponse(http.StatusBadRequest, fmt.Sprintf("unknown action: %s", action))
	}
}
