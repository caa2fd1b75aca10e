// Package ports defines the interfaces between the kiln engine core and
// its adapters: cache stores and builder runners. Hosts embedding kiln
// implement these to plug in custom storage backends or build logic.
package ports
