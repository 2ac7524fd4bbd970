// Package orchestration runs one worker: it loads the reference data, joins
// the driver, spawns the transfer engine and drives the lockstep iteration
// protocol between them until the driver's budget is spent.
package orchestration
