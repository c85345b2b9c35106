package scanner

import (
	"bufio"
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startListener 在回环地址上启动一个监听器，handle 处理每个连接
func startListener(t *testing.T, handle func(net.Conn)) int {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				handle(conn)
			}()
		}
	}()

	return ln.Addr().(*net.TCPAddr).Port
}

// closedPorts 返回当前没有监听的端口
func closedPorts(t *testing.T, n int) []int {
	t.Helper()

	var listeners []net.Listener
	var ports []int
	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		listeners = append(listeners, ln)
		ports = append(ports, ln.Addr().(*net.TCPAddr).Port)
	}
	for _, ln := range listeners {
		ln.Close()
	}
	return ports
}

func TestProbeHostBanner(t *testing.T) {
	port := startListener(t, func(conn net.Conn) {
		conn.Write([]byte("SSH-2.0-OpenSSH_8.9p1\r\n"))
	})

	ps := NewPortScanner(time.Second, WithProbes(nil))
	open := ps.ProbeHost(context.Background(), "127.0.0.1", []int{port})

	require.Len(t, open, 1)
	assert.Equal(t, port, open[0].Port)
	assert.Equal(t, "SSH-2.0-OpenSSH_8.9p1", open[0].Banner)
}

func TestProbeHostSilentServiceIsOpenWithEmptyBanner(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	port := startListener(t, func(conn net.Conn) {
		<-release
	})

	ps := NewPortScanner(200*time.Millisecond, WithProbes(nil))
	start := time.Now()
	open := ps.ProbeHost(context.Background(), "127.0.0.1", []int{port})

	require.Len(t, open, 1)
	assert.Empty(t, open[0].Banner)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestProbeHostSendsProbe(t *testing.T) {
	port := startListener(t, func(conn net.Conn) {
		line, err := bufio.NewReader(conn).ReadString('\n')
		if err != nil {
			return
		}
		conn.Write([]byte("echo:" + line))
	})

	ps := NewPortScanner(time.Second, WithProbes(map[int][]byte{port: []byte("INFO\r\n")}))
	open := ps.ProbeHost(context.Background(), "127.0.0.1", []int{port})

	require.Len(t, open, 1)
	assert.Equal(t, "echo:INFO", open[0].Banner)
}

func TestBannerSlowServiceGetsFullReadTimeout(t *testing.T) {
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		client, server := net.Pipe()
		go func() {
			defer server.Close()
			// 服务端先慢慢读取探测包，再慢慢回复
			time.Sleep(300 * time.Millisecond)
			line, err := bufio.NewReader(server).ReadString('\n')
			if err != nil {
				return
			}
			time.Sleep(300 * time.Millisecond)
			server.Write([]byte("+PONG " + line))
		}()
		return client, nil
	}

	ps := NewPortScanner(500*time.Millisecond, WithDialer(dial), WithProbes(map[int][]byte{6379: []byte("PING\r\n")}))
	open := ps.ProbeHost(context.Background(), "192.0.2.1", []int{6379})

	require.Len(t, open, 1)
	assert.Equal(t, "+PONG PING", open[0].Banner)
}

func TestProbeHostClosedPortsBoundedTime(t *testing.T) {
	ports := closedPorts(t, 100)

	ps := NewPortScanner(200 * time.Millisecond)
	start := time.Now()
	open := ps.ProbeHost(context.Background(), "127.0.0.1", ports)

	assert.Empty(t, open)
	assert.Less(t, time.Since(start), 3*time.Second)
}

func TestProbeHostSortedByPort(t *testing.T) {
	var ports []int
	for i := 0; i < 5; i++ {
		ports = append(ports, startListener(t, func(conn net.Conn) {
			conn.Write([]byte("hello"))
		}))
	}
	reversed := make([]int, len(ports))
	for i, p := range ports {
		reversed[len(ports)-1-i] = p
	}

	ps := NewPortScanner(time.Second, WithProbes(nil))
	open := ps.ProbeHost(context.Background(), "127.0.0.1", reversed)

	require.Len(t, open, 5)
	for i := 1; i < len(open); i++ {
		assert.Less(t, open[i-1].Port, open[i].Port)
	}
}

func TestProbeHostBoundedConcurrency(t *testing.T) {
	var active, peak int32
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		n := atomic.AddInt32(&active, 1)
		defer atomic.AddInt32(&active, -1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return nil, errors.New("connection refused")
	}

	ports := make([]int, 200)
	for i := range ports {
		ports[i] = i + 1
	}

	ps := NewPortScanner(time.Second, WithWorkers(8), WithDialer(dial))
	open := ps.ProbeHost(context.Background(), "192.0.2.1", ports)

	assert.Empty(t, open)
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(8))
	assert.Greater(t, atomic.LoadInt32(&peak), int32(1))
}

func TestProbeHostCancelledStopsDispatch(t *testing.T) {
	var mu sync.Mutex
	dialed := 0
	ctx, cancel := context.WithCancel(context.Background())

	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		mu.Lock()
		dialed++
		if dialed == 4 {
			cancel()
		}
		mu.Unlock()
		return nil, errors.New("connection refused")
	}

	ports := make([]int, 1000)
	for i := range ports {
		ports[i] = i + 1
	}

	ps := NewPortScanner(time.Second, WithWorkers(2), WithDialer(dial))
	ps.ProbeHost(ctx, "192.0.2.1", ports)

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, dialed, 10)
}

func TestParsePortRange(t *testing.T) {
	ports, err := ParsePortRange("443, 22,80-82,22")
	require.NoError(t, err)
	assert.Equal(t, []int{22, 80, 81, 82, 443}, ports)

	ports, err = ParsePortRange("")
	require.NoError(t, err)
	assert.Len(t, ports, 30)

	ports, err = ParsePortRange("all")
	require.NoError(t, err)
	assert.Len(t, ports, 65535)

	for _, bad := range []string{"0", "65536", "abc", "90-80", "1-2-3", ","} {
		_, err := ParsePortRange(bad)
		assert.Error(t, err, bad)
	}
}
