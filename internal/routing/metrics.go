package routing

// ConnMetrics receives byte counters for a single connection. Defined here
// (rather than in internal/forwarder) so both internal/forwarder and
// internal/routing can depend on it without forming an import cycle
// between the two.
type ConnMetrics interface {
	AddBytesUp(n int64)
	AddBytesDown(n int64)
}
