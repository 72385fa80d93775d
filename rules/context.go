package rules

import (
	"reflect"
	"strconv"
	"strings"
)

// Context is the merged, read-only view of an order and a return request
// that conditions are resolved against
type Context map[string]any

// NewContext merges order and return fields into a fresh map. Return fields
// win when both documents carry the same key. The original documents are
// also reachable as "order" and "return", so "order.customer.country" and
// "return.reason" resolve as well. Neither input is modified.
func NewContext(order, req Document) Context {
	ctx := make(Context, len(order)+len(req)+2)
	for k, v := range order {
		ctx[k] = v
	}
	for k, v := range req {
		ctx[k] = v
	}
	ctx["order"] = map[string]any(order)
	ctx["return"] = map[string]any(req)
	return ctx
}

// Resolve looks up a dotted path such as "customer.country" or
// "order_items.0.sku". Map keys and slice indexes are both supported.
// A missing key, an out-of-range index or a nil value reports false.
func (c Context) Resolve(path string) (any, bool) {
	if path == "" {
		return nil, false
	}

	var cur any = map[string]any(c)
	for _, seg := range strings.Split(path, ".") {
		if seg == "" {
			return nil, false
		}
		next, ok := step(cur, seg)
		if !ok {
			return nil, false
		}
		cur = next
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func step(cur any, seg string) (any, bool) {
	switch m := cur.(type) {
	case map[string]any:
		v, ok := m[seg]
		return v, ok && v != nil
	case Document:
		v, ok := m[seg]
		return v, ok && v != nil
	case Context:
		v, ok := m[seg]
		return v, ok && v != nil
	}

	rv := reflect.ValueOf(cur)
	switch rv.Kind() {
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		v := rv.MapIndex(reflect.ValueOf(seg).Convert(rv.Type().Key()))
		if !v.IsValid() {
			return nil, false
		}
		out := v.Interface()
		return out, out != nil
	case reflect.Slice, reflect.Array:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= rv.Len() {
			return nil, false
		}
		out := rv.Index(i).Interface()
		return out, out != nil
	}
	return nil, false
}
