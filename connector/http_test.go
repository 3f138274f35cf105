package connector_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/corehsm/yubihsm-go/connector"
	"github.com/corehsm/yubihsm-go/hsmerror"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestConnector(t *testing.T, srv *httptest.Server) *connector.HTTPConnector {
	t.Helper()
	var host string
	fmt.Sscanf(srv.URL, "http://%s", &host)
	h, portStr, err := splitHostPort(host)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)
	return connector.NewHTTPConnector(connector.HTTPConfig{Addr: h, Port: uint16(port)})
}

func splitHostPort(hostport string) (string, string, error) {
	for i := len(hostport) - 1; i >= 0; i-- {
		if hostport[i] == ':' {
			return hostport[:i], hostport[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("no port in %q", hostport)
}

func TestSendMessageRoundtrip(t *testing.T) {
	var gotRequestID string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/connector/api", r.URL.Path)
		gotRequestID = r.Header.Get("X-Request-ID")
		w.Write([]byte{0x81, 0, 2, 'h', 'i'})
	}))
	defer srv.Close()

	c := newTestConnector(t, srv)
	id := uuid.New()
	resp, err := c.SendMessage(id, []byte{0x01, 0, 2, 'h', 'i'})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x81, 0, 2, 'h', 'i'}, resp)
	assert.Equal(t, id.String(), gotRequestID)
}

func TestSendMessageRejectsChunkedResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Transfer-Encoding", "chunked")
		flusher, ok := w.(http.Flusher)
		w.Write([]byte("partial"))
		if ok {
			flusher.Flush()
		}
	}))
	defer srv.Close()

	c := newTestConnector(t, srv)
	_, err := c.SendMessage(uuid.New(), []byte{0x01, 0, 0})
	require.Error(t, err)
}

func TestSendMessageRejectsNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newTestConnector(t, srv)
	_, err := c.SendMessage(uuid.New(), []byte{0x01, 0, 0})
	require.Error(t, err)
}

func TestHealthcheckParsesStatusBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/connector/status", r.URL.Path)
		w.Write([]byte("status=OK\nserial=0123456789\nversion=3.0.3\n"))
	}))
	defer srv.Close()

	c := newTestConnector(t, srv)
	status, err := c.Healthcheck(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "0123456789", status.Serial)
	assert.Equal(t, "3.0.3", status.Version)
	assert.Equal(t, "OK", status.Message)
}

// TestParseHTTPResponseAcceptsWellFormedBody pins spec.md §8 scenario 6's
// first half: fed the raw bytes of a complete response with a declared
// Content-Length, the parser returns exactly that body.
func TestParseHTTPResponseAcceptsWellFormedBody(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\nOK!!")
	body, err := connector.ParseHTTPResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte("OK!!"), body)
}

// TestParseHTTPResponseRejectsChunkedEncoding pins spec.md §8 scenario 6's
// second half: the same response with a Transfer-Encoding header inserted
// must be rejected outright rather than parsed as chunked data.
func TestParseHTTPResponseRejectsChunkedEncoding(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\nContent-Length: 4\r\n\r\nOK!!")
	_, err := connector.ParseHTTPResponse(raw)
	require.Error(t, err)
	assert.True(t, hsmerror.Is(err, hsmerror.KindProtocolError))
}

func TestParseHTTPResponseRejectsUnexpectedStatusLine(t *testing.T) {
	raw := []byte("HTTP/1.1 404 Not Found\r\nContent-Length: 0\r\n\r\n")
	_, err := connector.ParseHTTPResponse(raw)
	require.Error(t, err)
	assert.True(t, hsmerror.Is(err, hsmerror.KindProtocolError))
}

func TestParseHTTPResponseRejectsMissingContentLength(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\n\r\nOK!!")
	_, err := connector.ParseHTTPResponse(raw)
	require.Error(t, err)
	assert.True(t, hsmerror.Is(err, hsmerror.KindProtocolError))
}

func TestParseHTTPResponseRejectsTruncatedBody(t *testing.T) {
	raw := []byte("HTTP/1.1 200 OK\r\nContent-Length: 4\r\n\r\nOK")
	_, err := connector.ParseHTTPResponse(raw)
	require.Error(t, err)
	assert.True(t, hsmerror.Is(err, hsmerror.KindProtocolError))
}
