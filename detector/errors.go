package detector

import (
	"errors"
	"net"
	"os"
	"syscall"
)

var (
	// ErrConnConfigNil indicates that a nil ConnectionConfig was provided.
	ErrConnConfigNil = errors.New("detector: connection config is nil")

	// ErrAlreadyRunning is returned by Run when the client loop is already running.
	ErrAlreadyRunning = errors.New("detector: client is already running")

	// ErrConnClosed indicates that the device closed the control connection.
	ErrConnClosed = errors.New("detector: connection closed by server")

	// ErrConnRefused indicates that the device refused the TCP connection.
	ErrConnRefused = errors.New("detector: connection refused")
)

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}

func isConnClosed(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed)
}

func isConnReset(err error) bool {
	return errors.Is(err, syscall.ECONNRESET)
}
