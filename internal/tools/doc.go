// Package tools defines tool handlers and the registry that holds them.
//
// # Overview
//
// A Tool pairs a name and JSON schema with a handler. Handlers come in
// exactly two shapes: Unary returns one result, Streaming pushes tokens
// through a Sink and signals completion by returning. The Handler
// interface is sealed so the dispatcher can switch over the two kinds
// without a default case.
//
//	r := tools.NewRegistry(logger)
//	err := r.Register(tools.Tool{
//		Name:    "echo",
//		Handler: tools.Unary(echoFn),
//	})
//
// Registration rejects duplicate names with ErrDuplicateTool; the
// registered handler stays authoritative for its name until
// Unregister. Resolve returns a copy, so a handler resolved before an
// Unregister keeps working for calls already in flight.
package tools
