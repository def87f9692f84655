package fn

import "errors"

// ErrShuttingDown is returned if a receive was interrupted by the quit
// channel.
var ErrShuttingDown = errors.New("shutting down")

// RecvResp waits for either a response or an error of a request that was
// handed to a goroutine, or for the quit channel to be closed.
func RecvResp[T any](r <-chan T, e <-chan error, q <-chan struct{}) (T,
	error) {

	var noResp T
	select {
	case resp := <-r:
		return resp, nil

	case err := <-e:
		return noResp, err

	case <-q:
		return noResp, ErrShuttingDown
	}
}
