// Package yubihsm is a client library for the YubiHSM2 command protocol:
// a framed, SCP03-secured channel over a connector or direct USB
// transport. Client owns the single live session to a device and
// transparently rekeys it as the message counter approaches its limit.
package yubihsm

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/corehsm/yubihsm-go/authkey"
	"github.com/corehsm/yubihsm-go/command"
	"github.com/corehsm/yubihsm-go/commands"
	"github.com/corehsm/yubihsm-go/connector"
	"github.com/corehsm/yubihsm-go/hsmerror"
	"github.com/corehsm/yubihsm-go/securechannel"
)

// Client owns one authenticated secure channel to a device and
// serializes every command issued through it (spec.md §4.3: the device
// itself processes one command per session at a time).
type Client struct {
	conn       connector.Connector
	authKeyID  uint16
	authKey    authkey.Key
	counterCap uint32
	logger     *slog.Logger

	mu      sync.Mutex
	channel *securechannel.Channel
}

// Option configures a Client at Open time.
type Option func(*Client)

// WithCounterLimit overrides the channel's message-count cap before
// transparent rekey kicks in. Mainly useful in tests.
func WithCounterLimit(limit uint32) Option {
	return func(c *Client) { c.counterCap = limit }
}

// WithLogger overrides the client's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// Open authenticates a new session over conn using the authentication
// key at authKeyID and returns a ready-to-use Client.
func Open(conn connector.Connector, authKeyID uint16, key authkey.Key, opts ...Option) (*Client, error) {
	c := &Client{
		conn:       conn,
		authKeyID:  authKeyID,
		authKey:    key,
		counterCap: securechannel.DefaultCounterLimit,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	channel, err := c.newChannel()
	if err != nil {
		return nil, err
	}
	c.channel = channel
	return c, nil
}

func (c *Client) newChannel() (*securechannel.Channel, error) {
	channel, err := securechannel.New(c.conn, c.authKeyID, c.authKey,
		securechannel.WithCounterLimit(c.counterCap),
		securechannel.WithLogger(c.logger),
	)
	if err != nil {
		return nil, err
	}
	if err := channel.Authenticate(); err != nil {
		return nil, err
	}
	return channel, nil
}

// Do serializes fn against the client's current session and transparently
// rekeys exactly once if the session is at or past its message limit
// (spec.md §4.3). fn must not retain the *commands.Session it's handed
// past the call.
func (c *Client) Do(fn func(*commands.Session) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := fn(commands.NewSession(c.channel))
	if err == nil {
		return nil
	}
	if !hsmerror.Is(err, hsmerror.KindCommandLimitExceeded) && !hsmerror.Is(err, hsmerror.KindClosedSessionError) {
		return err
	}

	c.logger.Info("rekeying session", "auth_key_id", c.authKeyID)
	fresh, rekeyErr := c.newChannel()
	if rekeyErr != nil {
		return rekeyErr
	}
	c.channel = fresh
	return fn(commands.NewSession(c.channel))
}

// Ping issues an unauthenticated echo, usable even if the session has
// never successfully authenticated, and returns its round-trip time.
func (c *Client) Ping() (time.Duration, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	start := time.Now()
	err := commands.NewSession(c.channel).Ping()
	return time.Since(start), err
}

// DeviceInfo queries device identity/firmware information.
func (c *Client) DeviceInfo() (commands.DeviceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return commands.NewSession(c.channel).DeviceInfo()
}

// Healthcheck delegates to the underlying transport.
func (c *Client) Healthcheck(ctx context.Context) error {
	_, err := c.conn.Healthcheck(ctx)
	return err
}

// Close terminates the current session and releases the transport.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	channelErr := c.channel.Close()
	connErr := c.conn.Close()
	if channelErr != nil {
		return channelErr
	}
	return connErr
}

// ResetDeviceAndReconnect sends reset-device (spec.md's supplemented
// device-lifecycle feature) and tears down the local session, since the
// device itself drops every open session on reset.
func (c *Client) ResetDeviceAndReconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, _, err := c.channel.Send(command.ResetDevice, nil)
	// reset-device closes the device's end of every session regardless
	// of whether the response made it back before the reset took effect.
	_ = c.channel.Close()
	if err != nil {
		return err
	}
	fresh, err := c.newChannel()
	if err != nil {
		return err
	}
	c.channel = fresh
	return nil
}
