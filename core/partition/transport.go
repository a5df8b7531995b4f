package partition

// Transport is the collaborator that actually writes bytes. It is
// external to this package; only the contract is specified here.
//
// DoSendRequest must submit req without blocking and guarantee that
// req.Complete is invoked exactly once, either synchronously (rare) or
// later from a transport-owned goroutine. If DoSendRequest itself
// returns an error, Complete is never called for req. Dispatcher treats
// such an error as a failure of the whole dispatch: it closes the
// dispatch's iterator and returns the error from the send call, so no
// failure result for req is delivered through the iterator.
type Transport[ID comparable, R any] interface {
	DoSendRequest(req *PartitionedRequest[ID, R]) error
}
