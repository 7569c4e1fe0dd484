// Package pagination drives a cursor-paginated search one page at a time.
//
// The search API links each page to the next through the Link header, so
// pages cannot be fetched in parallel. The Engine fetches the first page,
// publishes the accumulated items, and then waits for the consumer to ask for
// more before following the next link.
//
// Example usage:
//
//	engine := pagination.NewEngine(searchClient, pagination.DefaultConfig())
//	more := make(chan struct{})
//	states, err := engine.Run(ctx, "language:go", more)
//	for state := range states {
//		render(state)
//		more <- struct{}{} // when the user scrolls near the bottom
//	}
//
// Every run:
//   - Emits the empty State before any I/O
//   - Emits one State per fetched page, items appended in page order
//   - Ends on the last page, a rate limit, a failed page, or ctx cancellation
//   - Never reports errors; failures become an Offline State
package pagination
