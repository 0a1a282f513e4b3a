// Package diff shrinks page transfers by sending deltas against a twin.
//
// The owner of a page keeps a twin, a copy of the page content as it was last
// sent, stamped with the version it represented. When a node asks for the
// page and claims to hold exactly that version, the owner sends the XBZRLE
// delta between the twin and the current content instead of the whole page.
// The requester rebuilds the page by applying the delta to its own cached
// copy. Whenever the delta would not be smaller than a page, or the versions
// do not match, the full page is sent; a payload of exactly one page is
// always literal.
//
// XBZRLE encoding
//
// A delta is a sequence of (zero run, non-zero run, literal bytes) records,
// both run lengths being unsigned LEB128 varints. A zero run counts bytes
// unchanged since the twin, a non-zero run counts the changed bytes that
// follow and that are copied verbatim. Unchanged bytes at the end of the page
// are not encoded, so identical pages encode to an empty delta.
package diff
