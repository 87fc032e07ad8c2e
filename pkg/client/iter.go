package client

import (
	"context"
	"sync"
)

// Result pairs the outcome of one query with the query that produced it.
// Exactly one of Value and Err is set.
type Result struct {
	Query map[string]any
	Value map[string]any
	Err   error
}

// Iter dispatches all queries concurrently and streams results in
// completion order. The channel is closed once every query has produced a
// result; the concurrency bound of the client still applies, so any number
// of queries may be submitted at once. Cancelling the context makes the
// remaining queries fail with the context error.
func (c *Client) Iter(ctx context.Context, queries []map[string]any, opts ...RequestOption) <-chan Result {
	out := make(chan Result, len(queries))
	var wg sync.WaitGroup
	for _, query := range queries {
		wg.Add(1)
		go func(query map[string]any) {
			defer wg.Done()
			value, err := c.Get(ctx, query, opts...)
			out <- Result{Query: query, Value: value, Err: err}
		}(query)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
