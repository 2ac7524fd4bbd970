// Package atmosphere turns fit parameters into an atmospheric state.
//
// A Grid holds the immutable baseline atmosphere loaded at setup. A Builder
// combines the grid with a temperature-profile generator and produces a
// Profiles matrix for each parameter vector: row 0 is temperature, rows
// 1..N are species abundances that sum to one in every layer. CheckBounds
// decides whether a built profile may be sent to the transfer engine.
package atmosphere
