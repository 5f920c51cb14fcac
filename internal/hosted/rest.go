package hosted

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/supabase-community/postgrest-go"
)

// ErrNoRows is returned by Run when a Single() query matched no row.
var ErrNoRows = errors.New("hosted: no rows")

// codeNoRows is the REST API's answer to a single-object request that
// matched zero rows.
const codeNoRows = "PGRST116"

// restErrorPattern matches the "(code) message" errors of postgrest-go.
var restErrorPattern = regexp.MustCompile(`(?s)^\(([^)]*)\) (.*)$`)

// Rest is a data API client acting as the caller in ctx. Build queries
// with its postgrest-go methods and send them with Run.
type Rest struct {
	*postgrest.Client
	t *callTransport
}

// Rest returns a data API client for one call.
func (c *Client) Rest(ctx context.Context) *Rest {
	t := c.newTransport(ctx)
	pc := postgrest.NewClient(c.baseURL+"/rest/v1", "public", map[string]string{"apikey": c.apiKey})
	pc.SetAuthToken(c.bearer(ctx, ""))
	pc.Transport.Parent = t
	return &Rest{Client: pc, t: t}
}

// Run sends q and decodes its JSON answer into out, a pointer to a row
// for Single() queries and to a slice otherwise. Failed answers come back
// as *APIError, and a Single() query that matched nothing as ErrNoRows.
func (r *Rest) Run(q *postgrest.FilterBuilder, out any) error {
	_, err := q.ExecuteTo(out)
	if err == nil {
		return nil
	}
	if r.t.status < 400 {
		return fmt.Errorf("hosted: data API: %w", err)
	}

	apiErr := &APIError{Status: r.t.status, Message: err.Error()}
	if m := restErrorPattern.FindStringSubmatch(err.Error()); m != nil {
		apiErr.Code, apiErr.Message = m[1], m[2]
	}
	if apiErr.Code == codeNoRows {
		return ErrNoRows
	}
	return apiErr
}
