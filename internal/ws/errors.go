package ws

import "errors"

var (
	// ErrAuthentication is returned by Accept when the token validator
	// rejects the connect attempt. No session is created.
	ErrAuthentication = errors.New("ws: authentication failed")

	// ErrCapacity is returned by Accept when the session table is at its
	// configured maximum.
	ErrCapacity = errors.New("ws: connection limit reached")

	// ErrUnknownConnection is returned for operations addressing a
	// connection id with no live session.
	ErrUnknownConnection = errors.New("ws: unknown connection")

	// ErrQueueClosed is reported by a session whose send queue has been
	// closed by teardown. Publish treats it as a silent no-op.
	ErrQueueClosed = errors.New("ws: send queue closed")

	// ErrManagerClosed is returned by Accept after Shutdown.
	ErrManagerClosed = errors.New("ws: manager closed")
)
