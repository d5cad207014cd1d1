// Package transitland is a typed client for the Transitland REST API. Every
// call goes through the paging fold, including single-record lookups, and
// every call hits the network.
package transitland

import (
	"context"
	"net/url"
	"strings"

	"bus-tracker/internal/gtfs"
	"bus-tracker/internal/paging"
)

const (
	keyOperators = "operators"
	keyRoutes    = "routes"
	keyTrips     = "trips"
	keyStops     = "stops"
)

type Client struct {
	transport paging.Transport
}

func NewClient(t paging.Transport) *Client {
	return &Client{transport: t}
}

func (c *Client) Operators(ctx context.Context, query url.Values) paging.Result[gtfs.Operator] {
	return paging.FetchAll[gtfs.Operator](ctx, c.transport, "/operators", query, keyOperators)
}

func (c *Client) Operator(ctx context.Context, operatorID string) paging.Result[gtfs.Operator] {
	return paging.FetchAll[gtfs.Operator](ctx, c.transport, "/operators/"+escape(operatorID), nil, keyOperators)
}

// Routes lists the routes of one operator.
func (c *Client) Routes(ctx context.Context, operatorID string, query url.Values) paging.Result[gtfs.Route] {
	q := cloneQuery(query)
	q.Set("operator_onestop_id", operatorID)
	return paging.FetchAll[gtfs.Route](ctx, c.transport, "/routes", q, keyRoutes)
}

func (c *Client) Route(ctx context.Context, routeID string) paging.Result[gtfs.Route] {
	return paging.FetchAll[gtfs.Route](ctx, c.transport, "/routes/"+escape(routeID), nil, keyRoutes)
}

// Trips lists the trips of a route. Listed trips carry no stop times; fetch
// a single trip for those.
func (c *Client) Trips(ctx context.Context, routeID string, query url.Values) paging.Result[gtfs.Trip] {
	return paging.FetchAll[gtfs.Trip](ctx, c.transport, "/routes/"+escape(routeID)+"/trips", query, keyTrips)
}

// Trip returns one trip with its shape and stop times.
func (c *Client) Trip(ctx context.Context, routeID, tripID string) paging.Result[gtfs.Trip] {
	return paging.FetchAll[gtfs.Trip](ctx, c.transport, "/routes/"+escape(routeID)+"/trips/"+escape(tripID), nil, keyTrips)
}

func (c *Client) Stops(ctx context.Context, query url.Values) paging.Result[gtfs.Stop] {
	return paging.FetchAll[gtfs.Stop](ctx, c.transport, "/stops", query, keyStops)
}

// Departures returns the stop with its upcoming departures attached.
func (c *Client) Departures(ctx context.Context, stopID string, query url.Values) paging.Result[gtfs.Stop] {
	return paging.FetchAll[gtfs.Stop](ctx, c.transport, "/stops/"+escape(stopID)+"/departures", query, keyStops)
}

// FilterRoutesByDestination keeps routes whose long or short name contains
// any of the filters, case-insensitively. No filters keeps everything.
func FilterRoutesByDestination(routes []gtfs.Route, filters []string) []gtfs.Route {
	if len(filters) == 0 {
		return routes
	}
	var out []gtfs.Route
	for _, r := range routes {
		name := strings.ToLower(r.RouteLongName + " " + r.RouteShortName)
		for _, f := range filters {
			if strings.Contains(name, strings.ToLower(f)) {
				out = append(out, r)
				break
			}
		}
	}
	return out
}

func escape(s string) string { return url.PathEscape(s) }

func cloneQuery(q url.Values) url.Values {
	out := make(url.Values, len(q)+1)
	for k, v := range q {
		out[k] = append([]string(nil), v...)
	}
	return out
}
