package paging

import (
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
)

// Result is a merged listing. Envelope is the last page's object with the
// array field replaced by every item collected; on failure it is the failed
// page's object (possibly nil) with the array field removed and Items nil.
type Result[T any] struct {
	Items    []T
	Envelope map[string]json.RawMessage
	OK       bool
	Status   int
	Message  string
}

// Collect drains p, concatenating the array stored under key on every page.
// It stops at the first failed page without retrying.
func Collect[T any](ctx context.Context, p *Pager, key string) Result[T] {
	var (
		raws []json.RawMessage
		last Response
	)
	for {
		resp, ok := p.Next(ctx)
		if !ok {
			break
		}
		if !resp.OK {
			return failed[T](resp, key)
		}
		items, err := pageItems(resp.Data, key)
		if err != nil {
			return failed[T](Response{
				Data:    resp.Data,
				Status:  StatusTransport,
				Message: err.Error(),
			}, key)
		}
		raws = append(raws, items...)
		last = resp
	}

	merged, err := json.Marshal(nonNil(raws))
	if err != nil {
		return failed[T](Response{Data: last.Data, Status: StatusTransport, Message: err.Error()}, key)
	}
	items := make([]T, 0, len(raws))
	for i, raw := range raws {
		var item T
		if err := json.Unmarshal(raw, &item); err != nil {
			return failed[T](Response{
				Data:    last.Data,
				Status:  StatusTransport,
				Message: fmt.Sprintf("decode %s[%d]: %v", key, i, err),
			}, key)
		}
		items = append(items, item)
	}

	env := maps.Clone(last.Data)
	if env == nil {
		env = make(map[string]json.RawMessage, 1)
	}
	env[key] = merged
	return Result[T]{
		Items:    items,
		Envelope: env,
		OK:       true,
		Status:   last.Status,
		Message:  last.Message,
	}
}

// FetchAll requests path with query and follows every next link.
func FetchAll[T any](ctx context.Context, t Transport, path string, query url.Values, key string) Result[T] {
	return Collect[T](ctx, NewPager(t, path, query), key)
}

func pageItems(data map[string]json.RawMessage, key string) ([]json.RawMessage, error) {
	raw, ok := data[key]
	if !ok || string(raw) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("field %q is not an array: %w", key, err)
	}
	return items, nil
}

func failed[T any](resp Response, key string) Result[T] {
	env := maps.Clone(resp.Data)
	delete(env, key)
	return Result[T]{
		Envelope: env,
		OK:       false,
		Status:   resp.Status,
		Message:  resp.Message,
	}
}

func nonNil(raws []json.RawMessage) []json.RawMessage {
	if raws == nil {
		return []json.RawMessage{}
	}
	return raws
}
