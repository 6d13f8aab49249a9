package core

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"

	"github.com/declarest/declarest/core/internal/sdata"
)

// CRUDEngine dispatches a matched route to the backend and shapes the
// response payload. Reads return raw JSON (object for get, array for list);
// writes return the {message, affected_rows, id?, record?} envelope.
type CRUDEngine struct {
	be  Backend
	gen *APIGenerator
}

func NewCRUDEngine(be Backend, gen *APIGenerator) *CRUDEngine {
	return &CRUDEngine{be: be, gen: gen}
}

// Execute runs the operation for rc.Route, filling rc.Result and rc.Status.
func (e *CRUDEngine) Execute(ctx context.Context, rc *RequestContext) error {
	rp := rc.Route
	if rp == nil {
		return NewError(ErrNotFound, "not found")
	}

	switch rp.Op {
	case OpList:
		return e.list(ctx, rc, rp)
	case OpGet:
		return e.get(ctx, rc, rp)
	case OpCreate:
		return e.create(ctx, rc, rp)
	case OpUpdate:
		return e.update(ctx, rc, rp)
	case OpDelete:
		return e.delete(ctx, rc, rp)
	default:
		return NewError(ErrInternal, "unknown operation")
	}
}

func (e *CRUDEngine) postgres() bool { return e.be.Type() == "postgres" }

// list builds equality filters from the query string. limit and offset are
// reserved and never appear in WHERE; filter keys are sorted so generated SQL
// is stable.
func (e *CRUDEngine) list(ctx context.Context, rc *RequestContext, rp *RoutePattern) error {
	q := SelectQuery{Table: rp.Table}

	keys := make([]string, 0, len(rc.Query))
	for k := range rc.Query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := rc.Query[k]
		switch k {
		case "limit":
			n, err := parseUnsigned(v)
			if err != nil {
				return NewError(ErrInvalidParameter, "invalid limit parameter")
			}
			q.Limit = &n
		case "offset":
			n, err := parseUnsigned(v)
			if err != nil {
				return NewError(ErrInvalidParameter, "invalid offset parameter")
			}
			q.Offset = &n
		default:
			q.Where = append(q.Where, Cond{Column: k, Value: CoerceParam(v, e.postgres())})
		}
	}

	rows, err := e.be.Select(ctx, q)
	if err != nil {
		return err
	}
	rc.Result = rows
	rc.Status = http.StatusOK
	return nil
}

func (e *CRUDEngine) get(ctx context.Context, rc *RequestContext, rp *RoutePattern) error {
	pkCol, pkVal, err := e.primaryKey(rc, rp)
	if err != nil {
		return err
	}

	one := int64(1)
	rows, err := e.be.Select(ctx, SelectQuery{
		Table: rp.Table,
		Where: []Cond{{Column: pkCol, Value: pkVal}},
		Limit: &one,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return NewError(ErrNotFound, "record not found")
	}
	rc.Result = rows[0]
	rc.Status = http.StatusOK
	return nil
}

func (e *CRUDEngine) create(ctx context.Context, rc *RequestContext, rp *RoutePattern) error {
	obj, err := bodyObject(rc)
	if err != nil {
		return err
	}

	table := e.gen.Table(rp.Table)
	injectAutoFields(obj, table, rc, true)

	cols, vals := e.bindColumns(table, obj, "")
	if len(cols) == 0 {
		return NewError(ErrValidation, "no insertable columns in request body")
	}

	res, err := e.be.Insert(ctx, rp.Table, cols, vals)
	if err != nil {
		return err
	}

	envelope := map[string]any{
		"message":       "Record inserted",
		"affected_rows": res.Affected,
	}
	if res.HasInsertID {
		envelope["id"] = res.LastInsertID
	}
	if res.Returned != nil {
		envelope["record"] = res.Returned
	}
	rc.Result = envelope
	rc.Status = http.StatusCreated
	return nil
}

func (e *CRUDEngine) update(ctx context.Context, rc *RequestContext, rp *RoutePattern) error {
	obj, err := bodyObject(rc)
	if err != nil {
		return err
	}

	pkCol, pkVal, err := e.primaryKey(rc, rp)
	if err != nil {
		return err
	}

	table := e.gen.Table(rp.Table)
	injectAutoFields(obj, table, rc, false)

	cols, vals := e.bindColumns(table, obj, pkCol)
	if len(cols) == 0 {
		return NewError(ErrValidation, "no updatable columns in request body")
	}

	affected, err := e.be.Update(ctx, rp.Table, cols, vals, pkCol, pkVal)
	if err != nil {
		return err
	}
	rc.Result = map[string]any{
		"message":       "Record updated",
		"affected_rows": affected,
	}
	rc.Status = http.StatusOK
	return nil
}

func (e *CRUDEngine) delete(ctx context.Context, rc *RequestContext, rp *RoutePattern) error {
	pkCol, pkVal, err := e.primaryKey(rc, rp)
	if err != nil {
		return err
	}

	affected, err := e.be.Delete(ctx, rp.Table, pkCol, pkVal)
	if err != nil {
		return err
	}
	if affected == 0 {
		return NewError(ErrNotFound, "record not found")
	}
	rc.Result = map[string]any{
		"message":       "Record deleted",
		"affected_rows": affected,
	}
	rc.Status = http.StatusOK
	return nil
}

// primaryKey resolves the PK column name from the table schema (default id)
// and coerces the first path parameter into its bind value.
func (e *CRUDEngine) primaryKey(rc *RequestContext, rp *RoutePattern) (string, any, error) {
	if len(rp.ParamNames) == 0 {
		return "", nil, NewError(ErrValidation, "missing primary key in path")
	}
	raw, ok := rc.PathParams[rp.ParamNames[0]]
	if !ok || raw == "" {
		return "", nil, NewError(ErrValidation, "missing primary key in path")
	}

	pkCol := "id"
	if t := e.gen.Table(rp.Table); t != nil {
		if pk := t.PrimaryKey(); pk != nil {
			pkCol = pk.Name
		}
	}
	return pkCol, CoerceParam(raw, e.postgres()), nil
}

// bindColumns pairs body values with table columns in schema order, skipping
// auto-increment keys and the WHERE column. Without a schema the body keys
// are taken sorted.
func (e *CRUDEngine) bindColumns(t *sdata.Table, obj map[string]any, skip string) ([]string, []any) {
	pg := e.postgres()
	var cols []string
	var vals []any

	if t == nil {
		keys := make([]string, 0, len(obj))
		for k := range obj {
			if k != skip {
				keys = append(keys, k)
			}
		}
		sort.Strings(keys)
		for _, k := range keys {
			cols = append(cols, k)
			vals = append(vals, BindJSONValue(obj[k], pg))
		}
		return cols, vals
	}

	for _, c := range t.Columns {
		if c.Name == skip || c.AutoIncrement {
			continue
		}
		v, ok := obj[c.Name]
		if !ok {
			continue
		}
		cols = append(cols, c.Name)
		vals = append(vals, BindJSONValue(v, pg))
	}
	return cols, vals
}

// bodyObject requires a decoded JSON object body.
func bodyObject(rc *RequestContext) (map[string]any, error) {
	if len(rc.RawBody) == 0 || rc.JSONBody == nil {
		return nil, NewError(ErrValidation, "Request body is required")
	}
	obj, ok := rc.JSONBody.(map[string]any)
	if !ok {
		return nil, NewError(ErrValidation, "Request body must be a JSON object")
	}
	return obj, nil
}

// injectAutoFields writes the authenticated consumer name into createdBy and
// updatedBy auto-field columns. Creates fill both; updates only updatedBy.
func injectAutoFields(obj map[string]any, t *sdata.Table, rc *RequestContext, create bool) {
	if t == nil {
		return
	}
	ident, ok := GetExt[ConsumerIdentity](rc)
	if !ok || ident.Name == "" {
		return
	}
	for _, c := range t.Columns {
		if !c.AutoField {
			continue
		}
		switch c.Name {
		case "createdBy", "created_by":
			if create {
				obj[c.Name] = ident.Name
			}
		case "updatedBy", "updated_by":
			obj[c.Name] = ident.Name
		}
	}
}

func parseUnsigned(s string) (int64, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	return n, nil
}
