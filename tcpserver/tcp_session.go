package tcpserver

// TCPServerSession is implemented by each connection handler. The server
// creates one per accepted connection, runs Handle in its own goroutine and
// removes the session from its registry once Handle returns.
type TCPServerSession interface {
	// ID returns the identifier assigned by the server.
	ID() uint32

	// Handle runs the receive loop until the peer disconnects, the session
	// decides to close, or Close is called from another goroutine.
	Handle()

	// Close force-closes the transport, which makes a blocked Handle return.
	// It must be safe to call more than once and concurrently with Handle.
	//
	// Returns:
	//   - An error if closing the transport failed
	Close() error

	// Send writes parts to the connection as one uninterrupted write.
	// Implementations serialise concurrent calls.
	//
	// Parameters:
	//   - parts: Byte slices written back to back
	//
	// Returns:
	//   - An error if the write failed
	Send(parts ...[]byte) error
}
