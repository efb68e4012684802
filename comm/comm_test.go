package comm_test

import (
	"bytes"
	"errors"
	"io"
	"log"
	"net"
	"testing"
	"time"

	"github.com/OKState-TWISTER/twister-automation/comm"
)

func tcpEchoServer(t *testing.T) string {
	ln, err := net.Listen("tcp", "localhost:0")
	if err != nil {
		t.Fatal("could not listen, test aborted")
	}
	t.Cleanup(func() { ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() { io.Copy(conn, conn) }() // use goroutines to handle multiple connections
		}
	}()
	return ln.Addr().String()
}

func TestPoolFillsToCapacity(t *testing.T) {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(3, time.Second, maker)
	for i := 0; i < 3; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		if conn == nil {
			t.Fatal("got nil conn from pool")
		}
	}
	if pool.Active() != 3 {
		t.Errorf("expected 3 active connections, got %d", pool.Active())
	}
}

func TestPoolReusesReleasedConns(t *testing.T) {
	addr := tcpEchoServer(t)
	made := 0
	maker := func() (io.ReadWriteCloser, error) {
		made++
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(3, time.Second, maker)
	for i := 0; i < 5; i++ {
		conn, err := pool.Get()
		if err != nil {
			t.Fatal("could not get connection:", err)
		}
		pool.Put(conn)
	}
	if made != 1 {
		t.Errorf("expected a single dial for serial get/put cycles, got %d", made)
	}
}

func TestPoolReturnWithErrorDestroysBadConn(t *testing.T) {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(1, time.Hour, maker)
	conn, err := pool.Get()
	if err != nil {
		t.Fatal("could not get connection:", err)
	}
	pool.ReturnWithError(conn, errors.New("io exploded"))
	if pool.Size() != 0 {
		t.Errorf("bad conn should have been destroyed, pool size %d", pool.Size())
	}
	conn, err = pool.Get()
	if err != nil {
		t.Fatal("could not redial after destroy:", err)
	}
	pool.ReturnWithError(conn, nil)
	if pool.Size() != 1 {
		t.Errorf("healthy conn should have been returned, pool size %d", pool.Size())
	}
}

func TestPoolMaintainsSize(t *testing.T) {
	addr := tcpEchoServer(t)
	maker := func() (io.ReadWriteCloser, error) {
		return net.Dial("tcp", addr)
	}
	pool := comm.NewPool(2, time.Second, maker)
	held := []io.ReadWriter{}
	for i := 0; i < 2; i++ {
		rw, err := pool.Get()
		if err != nil {
			log.Fatal("could not get connection:", err)
		}
		held = append(held, rw)
	}
	newConn := make(chan io.ReadWriter, 1)
	// now that they are all taken out, try to get a new one
	go func() {
		rw, _ := pool.Get()
		newConn <- rw
	}()
	select {
	case <-newConn:
		t.Fatal("failed to prevent pool overflow")
	case <-time.After(500 * time.Millisecond):
		// blocked as it should; hand one back so the goroutine can finish
		pool.Put(held[0])
	}
}

type rwBuffer struct {
	in  bytes.Buffer
	out bytes.Buffer
}

func (b *rwBuffer) Read(p []byte) (int, error)  { return b.in.Read(p) }
func (b *rwBuffer) Write(p []byte) (int, error) { return b.out.Write(p) }

func TestTerminatorFramesWritesAndTrimsReads(t *testing.T) {
	buf := &rwBuffer{}
	buf.in.WriteString("+3.14\n")
	term := comm.NewTerminator(buf, '\n', '\n')
	n, err := term.Write([]byte("*IDN?"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 {
		t.Errorf("expected write length of payload only, got %d", n)
	}
	if got := buf.out.String(); got != "*IDN?\n" {
		t.Errorf("expected terminated command on the wire, got %q", got)
	}
	rd := make([]byte, 16)
	n, err = term.Read(rd)
	if err != nil {
		t.Fatal(err)
	}
	if got := string(rd[:n]); got != "+3.14" {
		t.Errorf("expected terminator stripped, got %q", got)
	}
}

func TestTimeoutPassthroughForPlainReadWriters(t *testing.T) {
	buf := &rwBuffer{}
	rw, err := comm.NewTimeout(buf, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if rw != io.ReadWriter(buf) {
		t.Error("expected non-conn ReadWriter to pass through unwrapped")
	}
}
