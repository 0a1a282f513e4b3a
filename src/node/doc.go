// Package node implements a coherence node: the component that resolves
// guest page faults by fetching pages from their owners, and serves the
// requests of the other nodes.
//
// The protocol is a single-writer, multiple-reader scheme with distributed
// ownership. Every page has one owner. Other nodes hold either a read-only
// replica (Shared) or nothing (Invalid), and remember a probable owner that
// requests are sent to. A node that is no longer the owner answers with a
// redirect naming its own probable owner, and the requester follows the
// chain.
//
// A read fault fetches the page from the owner, which adds the requester to
// the page's copyset. A write fault fetches the page along with ownership;
// before handing it over, the owner invalidates every replica in the
// copyset. Each write fault bumps the page version. Page transfers are delta
// encoded against the twin of the version the requester already holds,
// when there is one.
//
// Node 0 owns every page when a cluster starts.
package node
