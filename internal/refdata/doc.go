// Package refdata reads the reference files a worker needs at setup: the
// baseline atmosphere, the planetary/stellar parameter (TEP) file, instrument
// filter curves and the stellar model grid. Every reader returns plain data;
// physical interpretation lives with the callers.
package refdata
