package rdmnet

import (
	"net"
	"syscall"

	"golang.org/x/sys/unix"
)

// invalidFD marks a Connection's socket as Invalid (spec invariant 2).
const invalidFD = -1

// errWouldBlock is compared against the raw errno returned by sendSocket
// on a non-blocking socket with a full send buffer.
var errWouldBlock error = unix.EAGAIN

// dialNonBlocking opens a non-blocking TCP socket and issues connect().
// It returns the file descriptor and whether the connect completed
// synchronously (the fast-connect path, spec §4.3): on Linux a loopback
// or already-reachable peer can complete connect() immediately, in which
// case the caller should skip TCPConnPending and begin the RDMnet
// handshake directly.
func dialNonBlocking(addr *net.TCPAddr) (fd int, fastConnect bool, err error) {
	domain := unix.AF_INET
	if addr.IP.To4() == nil {
		domain = unix.AF_INET6
	}

	fd, err = unix.Socket(domain, unix.SOCK_STREAM, unix.IPPROTO_TCP)
	if err != nil {
		return invalidFD, false, err
	}
	if err = unix.SetNonblock(fd, true); err != nil {
		_ = unix.Close(fd)
		return invalidFD, false, err
	}

	sa, err := sockaddrFromTCPAddr(addr)
	if err != nil {
		_ = unix.Close(fd)
		return invalidFD, false, err
	}

	err = unix.Connect(fd, sa)
	switch err {
	case nil:
		return fd, true, nil
	case unix.EINPROGRESS:
		return fd, false, nil
	default:
		_ = unix.Close(fd)
		return invalidFD, false, err
	}
}

func sockaddrFromTCPAddr(addr *net.TCPAddr) (unix.Sockaddr, error) {
	if ip4 := addr.IP.To4(); ip4 != nil {
		var sa unix.SockaddrInet4
		sa.Port = addr.Port
		copy(sa.Addr[:], ip4)
		return &sa, nil
	}
	var sa unix.SockaddrInet6
	sa.Port = addr.Port
	copy(sa.Addr[:], addr.IP.To16())
	return &sa, nil
}

// socketError fetches SO_ERROR after a poll CONNECT/ERR event to learn
// whether a non-blocking connect succeeded or failed, and why.
func socketError(fd int) error {
	errno, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if errno == 0 {
		return nil
	}
	return syscall.Errno(errno)
}

func closeSocket(fd int) error {
	if fd == invalidFD {
		return nil
	}
	return unix.Close(fd)
}

func recvSocket(fd int, buf []byte) (int, error) {
	n, err := unix.Read(fd, buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}

func sendSocket(fd int, buf []byte) (int, error) {
	n, err := unix.Write(fd, buf)
	if err != nil {
		return 0, err
	}
	return n, nil
}
