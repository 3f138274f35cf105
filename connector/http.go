package connector

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/corehsm/yubihsm-go/hsmerror"
	"github.com/google/uuid"
)

// MaxHTTPResponseSize caps the connector's response (headers and body
// together), mirroring the bridge's own internal buffer limit — a
// misbehaving or compromised connector cannot force unbounded memory
// growth.
const MaxHTTPResponseSize = 8192

// DefaultHTTPTimeout is applied to dialing and to each request round trip
// unless overridden.
const DefaultHTTPTimeout = 5 * time.Second

const headerDelimiter = "\r\n\r\n"
const httpSuccessStatus = "HTTP/1.1 200 OK"
const contentLengthHeader = "Content-Length: "
const transferEncodingHeader = "Transfer-Encoding: "

// HTTPConfig configures an HTTPConnector.
type HTTPConfig struct {
	Addr    string
	Port    uint16
	Timeout time.Duration
}

func (c HTTPConfig) hostport() string {
	return fmt.Sprintf("%s:%d", c.Addr, c.Port)
}

// DefaultHTTPConfig matches the bridge's own default listen address.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{Addr: "127.0.0.1", Port: 12345, Timeout: DefaultHTTPTimeout}
}

// HTTPConnector speaks the minimal HTTP subset a yubihsm-connector-style
// bridge process expects: GET /connector/status, POST /connector/api, one
// request in flight at a time, no chunked transfer encoding. This is
// deliberately not a general HTTP client (spec.md §9): it writes its own
// request lines and parses responses with a fixed, narrow byte-level
// parser rather than pulling in net/http, since its only job is
// interoperating with one specific daemon.
//
// The connection is a cloneable-in-spirit handle: it dials lazily on
// first use, redials and resends once after a connection error, and drops
// the socket after any other failed round trip so the next call dials
// afresh. Callers may hold a Client across long idle periods without
// pre-flighting the socket.
type HTTPConnector struct {
	hostport string
	timeout  time.Duration

	mu   sync.Mutex
	conn net.Conn
}

// NewHTTPConnector dials nothing up front; the underlying socket connects
// lazily on first use.
func NewHTTPConnector(cfg HTTPConfig) *HTTPConnector {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	return &HTTPConnector{hostport: cfg.hostport(), timeout: timeout}
}

// SendMessage implements connector.Connector.
func (c *HTTPConnector) SendMessage(id uuid.UUID, request []byte) ([]byte, error) {
	headers := fmt.Sprintf("POST /connector/api HTTP/1.1\r\nHost: %s\r\nX-Request-ID: %s\r\nContent-Length: %d\r\n\r\n",
		c.hostport, id, len(request))
	raw := append([]byte(headers), request...)
	return c.roundTrip(raw)
}

// Healthcheck implements connector.Connector by issuing GET
// /connector/status and parsing the bridge's "key=value\n" body.
func (c *HTTPConnector) Healthcheck(_ context.Context) (Status, error) {
	req := fmt.Sprintf("GET /connector/status HTTP/1.1\r\nHost: %s\r\nContent-Length: 0\r\n\r\n", c.hostport)
	body, err := c.roundTrip([]byte(req))
	if err != nil {
		return Status{}, err
	}

	fields := map[string]string{}
	for _, line := range strings.Split(string(body), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		fields[k] = v
	}

	return Status{
		Serial:  fields["serial"],
		Version: fields["version"],
		Message: fields["status"],
	}, nil
}

// Close releases the pooled socket, if any.
func (c *HTTPConnector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	if err != nil {
		return hsmerror.Wrap(hsmerror.KindConnectionError, err, "failed to close connector socket")
	}
	return nil
}

// roundTrip writes request and returns the parsed response body, dialing
// lazily. After a connection error it redials and resends once; after any
// other failure it closes the socket so the next call dials a fresh one.
func (c *HTTPConnector) roundTrip(request []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		conn, err := c.dial()
		if err != nil {
			return nil, err
		}
		c.conn = conn
	}

	body, err := c.send(c.conn, request)
	if err == nil {
		return body, nil
	}
	if !hsmerror.Is(err, hsmerror.KindConnectionError) {
		c.conn.Close()
		c.conn = nil
		return nil, err
	}

	c.conn.Close()
	conn, dialErr := c.dial()
	if dialErr != nil {
		c.conn = nil
		return nil, err
	}
	c.conn = conn
	return c.send(c.conn, request)
}

func (c *HTTPConnector) dial() (net.Conn, error) {
	conn, err := net.DialTimeout("tcp", c.hostport, c.timeout)
	if err != nil {
		return nil, hsmerror.Wrap(hsmerror.KindConnectionError, err, "failed to connect to connector")
	}
	return conn, nil
}

func (c *HTTPConnector) send(conn net.Conn, request []byte) ([]byte, error) {
	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, hsmerror.Wrap(hsmerror.KindConnectionError, err, "failed to set connector deadline")
	}
	if _, err := conn.Write(request); err != nil {
		return nil, hsmerror.Wrap(hsmerror.KindConnectionError, err, "failed to write connector request")
	}
	raw, err := readRawResponse(conn)
	if err != nil {
		return nil, err
	}
	return ParseHTTPResponse(raw)
}

// readRawResponse reads exactly as many bytes off conn as the response's
// own Content-Length header declares, capped at MaxHTTPResponseSize. As
// soon as the header block arrives it runs validateHeaders (the same check
// ParseHTTPResponse uses) to learn where the body starts and how long it
// is, so a bad status line, a missing Content-Length or a
// Transfer-Encoding header already fails here.
func readRawResponse(conn net.Conn) ([]byte, error) {
	buf := make([]byte, MaxHTTPResponseSize)
	total := 0

	for {
		n, readErr := conn.Read(buf[total:])
		total += n

		if lines, headerEnd, ok := splitHeaders(buf[:total]); ok {
			contentLength, err := validateHeaders(lines)
			if err != nil {
				return nil, err
			}
			if headerEnd+contentLength > MaxHTTPResponseSize {
				return nil, hsmerror.Newf(hsmerror.KindProtocolError,
					"declared response size %d exceeds %d-byte limit", headerEnd+contentLength, MaxHTTPResponseSize)
			}
			if total >= headerEnd+contentLength {
				return buf[:headerEnd+contentLength], nil
			}
		}

		if readErr != nil {
			return nil, hsmerror.Wrap(hsmerror.KindConnectionError, readErr, "failed to read connector response")
		}
		if total >= MaxHTTPResponseSize {
			return nil, hsmerror.Newf(hsmerror.KindProtocolError, "connector response exceeds %d-byte limit", MaxHTTPResponseSize)
		}
	}
}

// splitHeaders locates the header/body boundary in a raw response buffer.
// ok is false until the full header block (terminated by "\r\n\r\n") has
// arrived. lines mirrors the status line followed by each header line,
// the same split original_source's http_connector.rs ResponseReader uses.
func splitHeaders(data []byte) (lines []string, headerEnd int, ok bool) {
	idx := bytes.Index(data, []byte(headerDelimiter))
	if idx < 0 {
		return nil, 0, false
	}
	headerEnd = idx + len(headerDelimiter)
	return strings.Split(string(data[:headerEnd]), "\r\n"), headerEnd, true
}

// validateHeaders enforces spec.md §9's narrow HTTP contract: a fixed
// "HTTP/1.1 200 OK" status line, a mandatory Content-Length, and no
// Transfer-Encoding.
func validateHeaders(lines []string) (contentLength int, err error) {
	if len(lines) == 0 || lines[0] != httpSuccessStatus {
		status := ""
		if len(lines) > 0 {
			status = lines[0]
		}
		return 0, hsmerror.Newf(hsmerror.KindProtocolError, "unexpected http response status: %q", status)
	}

	contentLength = -1
	for _, line := range lines[1:] {
		switch {
		case strings.HasPrefix(line, contentLengthHeader):
			n, convErr := strconv.Atoi(strings.TrimSpace(line[len(contentLengthHeader):]))
			if convErr != nil || n < 0 {
				return 0, hsmerror.Newf(hsmerror.KindProtocolError, "malformed content-length header: %q", line)
			}
			contentLength = n
		case strings.HasPrefix(line, transferEncodingHeader):
			return 0, hsmerror.Newf(hsmerror.KindProtocolError,
				"connector sent unsupported transfer encoding: %s", strings.TrimSpace(line[len(transferEncodingHeader):]))
		}
	}
	if contentLength < 0 {
		return 0, hsmerror.New(hsmerror.KindProtocolError, "http response missing content-length")
	}
	return contentLength, nil
}

// ParseHTTPResponse is the narrow byte-level HTTP response parser spec.md
// §9 calls for in place of a general HTTP client: a fixed "HTTP/1.1 200
// OK" status line, a mandatory Content-Length, no Transfer-Encoding, and
// the full declared body already present in data. Exported so it can be
// fed raw response bytes directly, without a socket or test server.
func ParseHTTPResponse(data []byte) ([]byte, error) {
	lines, headerEnd, ok := splitHeaders(data)
	if !ok {
		return nil, hsmerror.New(hsmerror.KindProtocolError, "http response missing header terminator")
	}
	contentLength, err := validateHeaders(lines)
	if err != nil {
		return nil, err
	}
	if headerEnd+contentLength > MaxHTTPResponseSize {
		return nil, hsmerror.Newf(hsmerror.KindProtocolError,
			"declared response size %d exceeds %d-byte limit", headerEnd+contentLength, MaxHTTPResponseSize)
	}
	if len(data) < headerEnd+contentLength {
		return nil, hsmerror.New(hsmerror.KindProtocolError, "http response body shorter than declared content-length")
	}
	return append([]byte(nil), data[headerEnd:headerEnd+contentLength]...), nil
}
