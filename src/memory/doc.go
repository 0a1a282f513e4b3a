// Package memory keeps the coherence metadata of guest pages.
//
// Guest memory is registered as a set of slots, each covering a contiguous
// range of virtual frame numbers [BaseVFN, BaseVFN+NPages). The SlotTable
// keeps the slots sorted by BaseVFN and bounded in number. Every page of a
// slot has a PageState holding its version, probable owner, access right,
// policy tag, twin snapshot and fault statistics, plus a coherence lock
// serialising ownership transitions on that page.
//
// The reverse map of a slot records, for each page, the set of remote nodes
// holding a copy. It is stored as one NodeSet bitmask per page in a
// contiguous slice, along with a backup copy used to restore the copyset when
// an ownership transfer fails half-way.
package memory
