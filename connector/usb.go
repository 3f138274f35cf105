package connector

import (
	"context"
	"time"

	"github.com/corehsm/yubihsm-go/hsmerror"
	"github.com/google/gousb"
	"github.com/google/uuid"
)

// USB vendor/product/interface/endpoint constants for the direct-attached
// device, as opposed to going through an HTTP bridge process.
const (
	USBVendorID  gousb.ID = 0x1050
	USBProductID gousb.ID = 0x0030

	usbInterfaceNum = 0
	usbAltSetting   = 0
	usbEndpointOut  = 0x01
	usbEndpointIn   = 0x81

	// MaxUSBTransferSize matches the framed protocol's own maximum, so a
	// single bulk transfer always carries exactly one frame.
	MaxUSBTransferSize = 2048

	// DefaultUSBReadTimeout bounds how long a single bulk-in read may
	// block waiting on the device.
	DefaultUSBReadTimeout = 30 * time.Second
)

// USBConnector talks to a directly attached device over USB bulk
// transfers, with no bridge process in between.
type USBConnector struct {
	ctx      *gousb.Context
	dev      *gousb.Device
	intf     *gousb.Interface
	done     func()
	inEP     *gousb.InEndpoint
	outEP    *gousb.OutEndpoint
	readTimeout time.Duration
}

// USBOption configures OpenUSB.
type USBOption func(*USBConnector)

// WithUSBReadTimeout overrides DefaultUSBReadTimeout.
func WithUSBReadTimeout(d time.Duration) USBOption {
	return func(c *USBConnector) { c.readTimeout = d }
}

// OpenUSB claims the device's bulk interface. It resets the device and
// drains any stale data left over from a previous, uncleanly terminated
// session before returning, matching the bridge's own connect-time
// behavior.
func OpenUSB(opts ...USBOption) (*USBConnector, error) {
	c := &USBConnector{
		ctx:         gousb.NewContext(),
		readTimeout: DefaultUSBReadTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}

	dev, err := c.ctx.OpenDeviceWithVIDPID(USBVendorID, USBProductID)
	if err != nil {
		c.ctx.Close()
		return nil, hsmerror.Wrap(hsmerror.KindConnectionError, err, "failed to open usb device")
	}
	if dev == nil {
		c.ctx.Close()
		return nil, hsmerror.New(hsmerror.KindConnectionError, "no matching usb device found")
	}
	c.dev = dev

	if err := dev.Reset(); err != nil {
		c.Close()
		return nil, hsmerror.Wrap(hsmerror.KindConnectionError, err, "failed to reset usb device")
	}

	if err := dev.SetAutoDetach(true); err != nil {
		c.Close()
		return nil, hsmerror.Wrap(hsmerror.KindConnectionError, err, "failed to enable kernel driver auto-detach")
	}

	intf, done, err := dev.DefaultInterface()
	if err != nil {
		c.Close()
		return nil, hsmerror.Wrap(hsmerror.KindConnectionError, err, "failed to claim usb interface")
	}
	c.intf = intf
	c.done = done

	outEP, err := intf.OutEndpoint(usbEndpointOut)
	if err != nil {
		c.Close()
		return nil, hsmerror.Wrap(hsmerror.KindConnectionError, err, "failed to open bulk-out endpoint")
	}
	inEP, err := intf.InEndpoint(usbEndpointIn)
	if err != nil {
		c.Close()
		return nil, hsmerror.Wrap(hsmerror.KindConnectionError, err, "failed to open bulk-in endpoint")
	}
	c.outEP = outEP
	c.inEP = inEP

	c.drainStale()

	return c, nil
}

// drainStale reads and discards any bytes already queued on the bulk-in
// endpoint, left over from a session the host did not close cleanly.
func (c *USBConnector) drainStale() {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	buf := make([]byte, MaxUSBTransferSize)
	for {
		stream, err := c.inEP.NewStream(MaxUSBTransferSize, 1)
		if err != nil {
			return
		}
		n, err := stream.ReadContext(ctx, buf)
		stream.Close()
		if err != nil || n == 0 {
			return
		}
	}
}

// SendMessage implements connector.Connector.
func (c *USBConnector) SendMessage(id uuid.UUID, request []byte) ([]byte, error) {
	if len(request) > MaxUSBTransferSize {
		return nil, hsmerror.Newf(hsmerror.KindProtocolError, "request is %d bytes, exceeds %d-byte usb transfer limit", len(request), MaxUSBTransferSize)
	}

	if _, err := c.outEP.Write(request); err != nil {
		return nil, hsmerror.Wrap(hsmerror.KindConnectionError, err, "usb bulk-out write failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), c.readTimeout)
	defer cancel()

	buf := make([]byte, MaxUSBTransferSize)
	stream, err := c.inEP.NewStream(MaxUSBTransferSize, 1)
	if err != nil {
		return nil, hsmerror.Wrap(hsmerror.KindConnectionError, err, "failed to open bulk-in stream")
	}
	defer stream.Close()

	n, err := stream.ReadContext(ctx, buf)
	if err != nil {
		return nil, hsmerror.Wrap(hsmerror.KindConnectionError, err, "usb bulk-in read failed")
	}

	return buf[:n], nil
}

// Healthcheck implements connector.Connector by reading back the
// device's serial number over the control pipe.
func (c *USBConnector) Healthcheck(ctx context.Context) (Status, error) {
	if c.dev == nil {
		return Status{}, hsmerror.New(hsmerror.KindConnectionError, "usb device is closed")
	}
	serial, err := c.dev.SerialNumber()
	if err != nil {
		return Status{}, hsmerror.Wrap(hsmerror.KindConnectionError, err, "failed to read usb serial number")
	}
	return Status{Serial: serial, Message: "OK"}, nil
}

// Close releases the claimed interface, the device handle, and the USB
// context, in that order.
func (c *USBConnector) Close() error {
	if c.done != nil {
		c.done()
	}
	if c.dev != nil {
		_ = c.dev.Close()
	}
	if c.ctx != nil {
		_ = c.ctx.Close()
	}
	return nil
}
