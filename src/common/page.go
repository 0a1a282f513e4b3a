package common

// PageSize is the size in bytes of a guest page, the unit of coherence and
// the maximum payload of a transport frame.
const PageSize = 4096
