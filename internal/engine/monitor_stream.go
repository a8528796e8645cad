package engine

import (
	"bufio"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// monitorStream is a dedicated connection switched into MONITOR mode.
// It reads the inline status replies the server pushes for every command.
type monitorStream struct {
	conn net.Conn
	rd   *bufio.Reader
}

// monitorReplyError is an error reply received on the monitor connection
type monitorReplyError string

func (e monitorReplyError) Error() string { return string(e) }

// dialMonitor connects with the client options, authenticates and issues MONITOR
func dialMonitor(ctx context.Context, opts *redis.Options) (*monitorStream, error) {
	dialer := &net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 5 * time.Minute}
	network := opts.Network
	if network == "" {
		network = "tcp"
	}

	var conn net.Conn
	var err error
	if opts.TLSConfig != nil {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: opts.TLSConfig}).DialContext(ctx, network, opts.Addr)
	} else {
		conn, err = dialer.DialContext(ctx, network, opts.Addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial monitor: %w", err)
	}

	s := &monitorStream{conn: conn, rd: bufio.NewReader(conn)}
	if opts.DialTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(opts.DialTimeout))
	}

	if opts.Password != "" {
		auth := []string{"AUTH"}
		if opts.Username != "" {
			auth = append(auth, opts.Username)
		}
		if err := s.call(append(auth, opts.Password)...); err != nil {
			conn.Close()
			return nil, fmt.Errorf("monitor auth: %w", err)
		}
	}
	if err := s.call("MONITOR"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("monitor: %w", err)
	}

	_ = conn.SetDeadline(time.Time{})
	return s, nil
}

// call writes one command and expects a status reply
func (s *monitorStream) call(args ...string) error {
	var b strings.Builder
	fmt.Fprintf(&b, "*%d\r\n", len(args))
	for _, arg := range args {
		fmt.Fprintf(&b, "$%d\r\n%s\r\n", len(arg), arg)
	}
	if _, err := s.conn.Write([]byte(b.String())); err != nil {
		return err
	}

	line, err := s.readLine()
	if err != nil {
		return err
	}
	switch {
	case strings.HasPrefix(line, "+"):
		return nil
	case strings.HasPrefix(line, "-"):
		return monitorReplyError(line[1:])
	default:
		return fmt.Errorf("unexpected reply %q", line)
	}
}

func (s *monitorStream) readLine() (string, error) {
	line, err := s.rd.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// run delivers every monitor line to fn until the connection fails or ctx ends
func (s *monitorStream) run(ctx context.Context, fn func(line string)) error {
	stop := context.AfterFunc(ctx, func() { s.conn.Close() })
	defer stop()
	defer s.conn.Close()

	for {
		line, err := s.readLine()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		switch {
		case strings.HasPrefix(line, "+"):
			fn(line[1:])
		case strings.HasPrefix(line, "-"):
			return monitorReplyError(line[1:])
		}
	}
}

var errMalformedMonitorLine = errors.New("malformed monitor line")

// ParseMonitorLine splits a MONITOR line such as
//
//	1339518083.107412 [0 127.0.0.1:60866] "set" "key" "value"
//
// into the command name and its unescaped arguments.
func ParseMonitorLine(line string) (string, []string, error) {
	idx := strings.Index(line, "] ")
	if idx < 0 {
		return "", nil, errMalformedMonitorLine
	}
	rest := line[idx+2:]

	var tokens []string
	for i := 0; i < len(rest); {
		if rest[i] == ' ' {
			i++
			continue
		}
		if rest[i] != '"' {
			return "", nil, fmt.Errorf("%w: expected quote at %d", errMalformedMonitorLine, i)
		}
		j := i + 1
		for ; j < len(rest); j++ {
			if rest[j] == '\\' {
				j++
				continue
			}
			if rest[j] == '"' {
				break
			}
		}
		if j >= len(rest) {
			return "", nil, fmt.Errorf("%w: unterminated argument", errMalformedMonitorLine)
		}
		token, err := strconv.Unquote(rest[i : j+1])
		if err != nil {
			return "", nil, fmt.Errorf("%w: %v", errMalformedMonitorLine, err)
		}
		tokens = append(tokens, token)
		i = j + 1
	}

	if len(tokens) == 0 {
		return "", nil, fmt.Errorf("%w: no command", errMalformedMonitorLine)
	}
	return tokens[0], tokens[1:], nil
}
