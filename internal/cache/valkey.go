package cache

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ValkeyConfig holds connection parameters for a Valkey/Redis-compatible server.
type ValkeyConfig struct {
	Addr         string
	Username     string
	Password     string
	DB           int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	MaxRetries   int
	TLS          bool
	// PoolSize caps idle connections kept between commands.
	PoolSize int
}

// ValkeyProvider speaks RESP2 to Valkey over a small pool of connections.
type ValkeyProvider struct {
	cfg ValkeyConfig

	mu     sync.Mutex
	idle   []*valkeyConn
	closed bool
}

// NewValkeyProvider pings the server so bad credentials or addresses fail at
// startup rather than on the first alert.
func NewValkeyProvider(cfg ValkeyConfig) (*ValkeyProvider, error) {
	if cfg.Addr == "" {
		return nil, errors.New("valkey addr is required")
	}
	applyValkeyDefaults(&cfg)
	p := &ValkeyProvider{cfg: cfg}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()
	reply, err := p.do(ctx, "PING")
	if err != nil {
		return nil, fmt.Errorf("valkey ping: %w", err)
	}
	if reply.kind != replyStatus || reply.text() != "PONG" {
		return nil, fmt.Errorf("unexpected PING response: %s", reply.data)
	}
	return p, nil
}

// Get fetches bytes by key, returning ErrCacheMiss when the key is absent.
func (p *ValkeyProvider) Get(ctx context.Context, key string) ([]byte, error) {
	reply, err := p.do(ctx, "GET", key)
	if err != nil {
		return nil, err
	}
	switch reply.kind {
	case replyNil:
		return nil, ErrCacheMiss
	case replyBulk:
		return reply.data, nil
	}
	return nil, fmt.Errorf("unexpected reply %q for GET", reply.kind)
}

// Set stores bytes with the provided TTL; ttl <= 0 means no expiry.
func (p *ValkeyProvider) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	reply, err := p.do(ctx, setArgs(key, value, ttl, false)...)
	if err != nil {
		return err
	}
	if reply.kind != replyStatus || reply.text() != "OK" {
		return fmt.Errorf("unexpected SET response: %s", reply.data)
	}
	return nil
}

// SetNX stores the value only if the key does not exist.
func (p *ValkeyProvider) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	reply, err := p.do(ctx, setArgs(key, value, ttl, true)...)
	if err != nil {
		return false, err
	}
	switch reply.kind {
	case replyStatus:
		return true, nil
	case replyNil:
		return false, nil
	}
	return false, fmt.Errorf("unexpected SET NX reply %q", reply.kind)
}

// Del removes a key.
func (p *ValkeyProvider) Del(ctx context.Context, key string) error {
	_, err := p.do(ctx, "DEL", key)
	return err
}

// Incr runs INCR on key.
func (p *ValkeyProvider) Incr(ctx context.Context, key string) (int64, error) {
	reply, err := p.do(ctx, "INCR", key)
	if err != nil {
		return 0, err
	}
	if reply.kind != replyInteger {
		return 0, fmt.Errorf("unexpected INCR reply %q", reply.kind)
	}
	return strconv.ParseInt(reply.text(), 10, 64)
}

// Close shuts every idle connection; later commands fail.
func (p *ValkeyProvider) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = nil
	p.closed = true
	p.mu.Unlock()
	for _, vc := range idle {
		vc.close()
	}
	return nil
}

func setArgs(key string, value []byte, ttl time.Duration, nx bool) []any {
	args := []any{"SET", key, value}
	if ttl > 0 {
		args = append(args, "PX", strconv.FormatInt(ttl.Milliseconds(), 10))
	}
	if nx {
		args = append(args, "NX")
	}
	return args
}

// do sends one command and reads its reply, retrying transient network
// failures on a fresh connection.
func (p *ValkeyProvider) do(ctx context.Context, args ...any) (respReply, error) {
	var lastErr error
	for attempt := 0; attempt < p.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return respReply{}, ctx.Err()
			case <-time.After(backoff(attempt - 1)):
			}
		}
		if err := ctx.Err(); err != nil {
			return respReply{}, err
		}

		vc, err := p.acquire(ctx)
		if err != nil {
			lastErr = err
			if retryable(err) {
				continue
			}
			return respReply{}, err
		}

		reply, err := vc.roundTrip(args...)
		if err != nil {
			vc.close()
			var serverErr respError
			if errors.As(err, &serverErr) {
				return respReply{}, err
			}
			lastErr = err
			if retryable(err) {
				continue
			}
			return respReply{}, err
		}
		p.release(vc)
		return reply, nil
	}
	return respReply{}, lastErr
}

func (p *ValkeyProvider) acquire(ctx context.Context) (*valkeyConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New("valkey provider closed")
	}
	if n := len(p.idle); n > 0 {
		vc := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()
		return vc, nil
	}
	p.mu.Unlock()

	vc, err := p.dial(ctx)
	if err != nil {
		return nil, err
	}
	if err := p.handshake(vc); err != nil {
		vc.close()
		return nil, err
	}
	return vc, nil
}

func (p *ValkeyProvider) release(vc *valkeyConn) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || len(p.idle) >= p.cfg.PoolSize {
		vc.close()
		return
	}
	p.idle = append(p.idle, vc)
}

func (p *ValkeyProvider) dial(ctx context.Context) (*valkeyConn, error) {
	dialer := &net.Dialer{Timeout: p.cfg.DialTimeout}
	var (
		conn net.Conn
		err  error
	)
	if p.cfg.TLS {
		td := &tls.Dialer{NetDialer: dialer, Config: &tls.Config{MinVersion: tls.VersionTLS12, ServerName: tlsHost(p.cfg.Addr)}}
		conn, err = td.DialContext(ctx, "tcp", p.cfg.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", p.cfg.Addr)
	}
	if err != nil {
		return nil, err
	}
	return &valkeyConn{
		conn:         conn,
		r:            bufio.NewReader(conn),
		w:            bufio.NewWriter(conn),
		readTimeout:  p.cfg.ReadTimeout,
		writeTimeout: p.cfg.WriteTimeout,
	}, nil
}

func (p *ValkeyProvider) handshake(vc *valkeyConn) error {
	if p.cfg.Password != "" {
		args := []any{"AUTH", p.cfg.Password}
		if p.cfg.Username != "" {
			args = []any{"AUTH", p.cfg.Username, p.cfg.Password}
		}
		reply, err := vc.roundTrip(args...)
		if err != nil {
			return fmt.Errorf("valkey auth: %w", err)
		}
		if !strings.EqualFold(reply.text(), "OK") {
			return fmt.Errorf("valkey auth failed: %s", reply.data)
		}
	}
	if p.cfg.DB > 0 {
		reply, err := vc.roundTrip("SELECT", strconv.Itoa(p.cfg.DB))
		if err != nil {
			return fmt.Errorf("valkey select: %w", err)
		}
		if !strings.EqualFold(reply.text(), "OK") {
			return fmt.Errorf("valkey select failed: %s", reply.data)
		}
	}
	return nil
}

type replyKind byte

const (
	replyStatus  replyKind = '+'
	replyBulk    replyKind = '$'
	replyInteger replyKind = ':'
	replyNil     replyKind = '_'
)

type respReply struct {
	kind replyKind
	data []byte
}

func (r respReply) text() string { return string(r.data) }

// respError is an error reply sent by the server; it is never retried.
type respError string

func (e respError) Error() string { return string(e) }

type valkeyConn struct {
	conn         net.Conn
	r            *bufio.Reader
	w            *bufio.Writer
	readTimeout  time.Duration
	writeTimeout time.Duration
}

func (vc *valkeyConn) close() {
	_ = vc.conn.Close()
}

func (vc *valkeyConn) roundTrip(args ...any) (respReply, error) {
	if err := vc.writeArray(args...); err != nil {
		return respReply{}, err
	}
	return vc.readReply()
}

func (vc *valkeyConn) writeArray(args ...any) error {
	if err := vc.conn.SetWriteDeadline(time.Now().Add(vc.writeTimeout)); err != nil {
		return err
	}
	fmt.Fprintf(vc.w, "*%d\r\n", len(args))
	for _, arg := range args {
		var b []byte
		switch v := arg.(type) {
		case string:
			b = []byte(v)
		case []byte:
			b = v
		default:
			return fmt.Errorf("unsupported RESP argument %T", arg)
		}
		fmt.Fprintf(vc.w, "$%d\r\n", len(b))
		vc.w.Write(b)
		vc.w.WriteString("\r\n")
	}
	return vc.w.Flush()
}

func (vc *valkeyConn) readReply() (respReply, error) {
	if err := vc.conn.SetReadDeadline(time.Now().Add(vc.readTimeout)); err != nil {
		return respReply{}, err
	}
	line, err := vc.r.ReadString('\n')
	if err != nil {
		return respReply{}, err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return respReply{}, errors.New("empty RESP line")
	}
	body := line[1:]
	switch line[0] {
	case '+':
		return respReply{kind: replyStatus, data: []byte(body)}, nil
	case '-':
		return respReply{}, respError(body)
	case ':':
		return respReply{kind: replyInteger, data: []byte(body)}, nil
	case '_':
		return respReply{kind: replyNil}, nil
	case '$':
		size, err := strconv.Atoi(body)
		if err != nil {
			return respReply{}, fmt.Errorf("bad bulk length %q", body)
		}
		if size < 0 {
			return respReply{kind: replyNil}, nil
		}
		buf := make([]byte, size+2)
		if _, err := io.ReadFull(vc.r, buf); err != nil {
			return respReply{}, err
		}
		if buf[size] != '\r' || buf[size+1] != '\n' {
			return respReply{}, errors.New("invalid bulk termination")
		}
		return respReply{kind: replyBulk, data: buf[:size]}, nil
	}
	return respReply{}, fmt.Errorf("unexpected RESP prefix %q", line[0])
}

func applyValkeyDefaults(cfg *ValkeyConfig) {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 2 * time.Second
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = 500 * time.Millisecond
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 500 * time.Millisecond
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 1
	}
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
}

func backoff(attempt int) time.Duration {
	return time.Duration(1<<attempt) * 25 * time.Millisecond
}

// retryable covers timeouts and connections the server dropped while idle.
func retryable(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func tlsHost(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}
