// Package domain defines the core value types of the kiln build model:
// asset identities, builder definitions, targets, option layers, actions,
// graph nodes, and the error taxonomy. It has no dependencies on the
// engine internals and can be imported by hosts embedding kiln.
package domain
