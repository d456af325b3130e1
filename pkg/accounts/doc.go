// Package accounts defines the typed account and group model and the
// read-only catalog the pool engine uses to look them up.
//
// Account and group records are created and destroyed by the
// administrative layer; this package only decodes them. Records arrive
// from the coordination store as loosely typed string hashes and are
// decoded once, at the store boundary, into explicit typed fields — no
// component downstream of the catalog touches raw hash fields.
package accounts
