// Package peer implements the collective channel between the worker and its
// peers: the fitting driver that launched it and the transfer engine it
// spawns.
//
// A Conn exchanges tagged frames over a byte stream (a child process's
// stdin/stdout) or a WebSocket. Every call blocks, and both ends must issue
// calls in the same order. Each frame carries its operation, element kind
// and element count, so a peer that falls out of step is reported as an
// apperrors.ProtocolError instead of reading the wrong payload.
//
// The typed collectives are generic helpers over a Channel:
//
//	n, err := peer.BroadcastIn[int32](ctx, driver, 2)
//	params, err := peer.ScatterIn[float64](ctx, driver, int(n[0]))
//	err = peer.GatherOut(ctx, driver, observables)
//
// Ends have a Role. Barrier and Disconnect are ordered by role so that two
// ends never both wait to write on an unbuffered transport.
package peer
