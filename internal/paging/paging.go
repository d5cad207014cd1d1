// Package paging folds a cursor-paginated JSON API into complete record sets.
//
// Each page is a JSON object holding one array field plus an optional
// "meta" object whose "next" member is the absolute URL of the following
// page. Pages are fetched strictly one after another since every request
// depends on the previous response.
package paging

import (
	"context"
	"encoding/json"
	"net/url"
)

// StatusTransport is the status reported when no HTTP response was obtained
// or the body could not be decoded.
const StatusTransport = -1

// Response is what a Transport returns for one page request. Data is nil
// unless the body was decoded.
type Response struct {
	Data    map[string]json.RawMessage
	OK      bool
	Status  int
	Message string
}

// Transport performs a single GET. query is nil for every request after the
// first one.
type Transport interface {
	Get(ctx context.Context, rawURL string, query url.Values) Response
}

// TransportFunc adapts a function to Transport.
type TransportFunc func(ctx context.Context, rawURL string, query url.Values) Response

func (f TransportFunc) Get(ctx context.Context, rawURL string, query url.Values) Response {
	return f(ctx, rawURL, query)
}

type meta struct {
	Next string `json:"next"`
}

// Pager walks the pages of one listing.
type Pager struct {
	transport Transport
	next      string
	query     url.Values
	done      bool
}

func NewPager(t Transport, path string, query url.Values) *Pager {
	return &Pager{transport: t, next: path, query: query}
}

// Next fetches the following page. The boolean is false once the listing is
// exhausted or a previous page failed; a failed page is itself returned with
// true so the caller sees the failure.
func (p *Pager) Next(ctx context.Context) (Response, bool) {
	if p.done {
		return Response{}, false
	}
	resp := p.transport.Get(ctx, p.next, p.query)
	p.query = nil
	if !resp.OK {
		p.done = true
		return resp, true
	}
	link := nextLink(resp.Data)
	if link == "" {
		p.done = true
	} else {
		p.next = link
	}
	return resp, true
}

func nextLink(data map[string]json.RawMessage) string {
	raw, ok := data["meta"]
	if !ok {
		return ""
	}
	var m meta
	if err := json.Unmarshal(raw, &m); err != nil {
		return ""
	}
	return m.Next
}
