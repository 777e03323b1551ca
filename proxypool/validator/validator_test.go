package validator

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/armon/go-socks5"

	"irproxy_pool/proxypool/model"
	"irproxy_pool/proxypool/stats"
)

func recordFor(t *testing.T, addr string, proto model.Protocol) *model.ProxyRecord {
	t.Helper()
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		t.Fatalf("bad addr %s: %v", addr, err)
	}
	port, _ := strconv.Atoi(portStr)
	return &model.ProxyRecord{Address: host, Port: port, Protocol: proto}
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func acceptAll(ln net.Listener) {
	for {
		c, err := ln.Accept()
		if err != nil {
			return
		}
		c.Close()
	}
}

func pipe(a, b net.Conn) {
	go func() {
		io.Copy(a, b)
		a.Close()
	}()
	io.Copy(b, a)
	b.Close()
}

// connectProxy is a minimal HTTP CONNECT proxy.
func connectProxy(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodConnect {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		upstream, err := net.DialTimeout("tcp", r.Host, 2*time.Second)
		if err != nil {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		hj, ok := w.(http.Hijacker)
		if !ok {
			upstream.Close()
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		client, buf, err := hj.Hijack()
		if err != nil {
			upstream.Close()
			return
		}
		buf.WriteString("HTTP/1.1 200 Connection established\r\n\r\n")
		buf.Flush()
		pipe(client, upstream)
	}))
	t.Cleanup(srv.Close)
	return srv
}

// socks5Proxy runs a no-auth SOCKS5 server on a random local port.
func socks5Proxy(t *testing.T) net.Listener {
	t.Helper()
	srv, err := socks5.New(&socks5.Config{})
	if err != nil {
		t.Fatal(err)
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })
	go srv.Serve(ln)
	return ln
}

func TestProbe_TCP(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go acceptAll(ln)

	counters := &stats.Counters{}
	v := NewValidator(time.Second, 2, ModeTCP, counters)

	alive, ping := v.Probe(context.Background(), recordFor(t, ln.Addr().String(), model.ProtoVMess))
	if !alive || ping < 1 {
		t.Errorf("Expected a live listener with a positive ping, got alive=%v ping=%d", alive, ping)
	}
	if alive, _ := v.Probe(context.Background(), recordFor(t, closedAddr(t), model.ProtoHTTP)); alive {
		t.Error("Expected a closed port to be dead")
	}
	if snap := counters.Snapshot(); snap.ActiveFound != 1 || snap.InactiveFound != 1 {
		t.Errorf("Unexpected counters %+v", snap)
	}
}

func TestProbe_HTTPConnectHandshake(t *testing.T) {
	target := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer target.Close()
	proxySrv := connectProxy(t)

	v := NewValidator(2*time.Second, 1, ModeHandshake, nil)
	v.Target = strings.TrimPrefix(target.URL, "https://")

	proxyAddr := strings.TrimPrefix(proxySrv.URL, "http://")
	if alive, _ := v.Probe(context.Background(), recordFor(t, proxyAddr, model.ProtoHTTP)); !alive {
		t.Error("Expected the CONNECT proxy to pass the handshake")
	}

	// A plain TCP listener accepts the connection but never answers CONNECT.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go acceptAll(ln)
	if alive, _ := v.Probe(context.Background(), recordFor(t, ln.Addr().String(), model.ProtoHTTP)); alive {
		t.Error("Expected a non-proxy listener to fail the handshake")
	}
}

func TestProbe_SOCKS5Handshake(t *testing.T) {
	target, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer target.Close()
	go acceptAll(target)

	ln := socks5Proxy(t)
	v := NewValidator(2*time.Second, 1, ModeHandshake, nil)
	v.Target = target.Addr().String()

	if alive, _ := v.Probe(context.Background(), recordFor(t, ln.Addr().String(), model.ProtoSOCKS5)); !alive {
		t.Error("Expected the SOCKS5 proxy to pass the handshake")
	}

	v.Target = closedAddr(t)
	if alive, _ := v.Probe(context.Background(), recordFor(t, ln.Addr().String(), model.ProtoSOCKS5)); alive {
		t.Error("Expected a refused upstream to fail the handshake")
	}
}

func TestProbeAll_StampsRecords(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()
	go acceptAll(ln)

	live := recordFor(t, ln.Addr().String(), model.ProtoSOCKS5)
	dead := recordFor(t, closedAddr(t), model.ProtoHTTP)
	dead.IsActive = true

	v := NewValidator(time.Second, 4, ModeTCP, nil)
	if n := v.ProbeAll(context.Background(), []*model.ProxyRecord{live, dead}, "2026-10-15"); n != 1 {
		t.Errorf("Expected 1 alive, got %d", n)
	}

	if !live.IsActive || live.PingMs == nil || live.LastChecked != "2026-10-15" {
		t.Errorf("Unexpected live record %+v", live)
	}
	if !strings.HasPrefix(live.Name, live.HostPort()+" (") {
		t.Errorf("Expected the live name to carry the ping, got %q", live.Name)
	}
	if dead.IsActive || dead.PingMs != nil || dead.Name != dead.HostPort() {
		t.Errorf("Unexpected dead record %+v", dead)
	}
	if v.ProbeAll(context.Background(), nil, "2026-10-15") != 0 {
		t.Error("Expected 0 for an empty batch")
	}
}
