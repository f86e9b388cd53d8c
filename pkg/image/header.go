// Package image implements the firmware image container: a fixed-layout
// header followed by the payload, and the digest that binds them together.
package image

import (
	"bytes"
	"encoding/binary"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/zrouter/upgrade/pkg/errors"
)

// Layout of the on-disk header. The field order and widths are the contract
// with the image build pipeline and must not change.
const (
	DeviceLen  = 64
	DigestLen  = 16
	HeaderSize = 4 + DeviceLen + 4 + DigestLen
)

// ByteOrder is the byte order of the integer header fields.
var ByteOrder = binary.LittleEndian

// ErrTruncatedHeader is returned when fewer than HeaderSize bytes are available.
var ErrTruncatedHeader = stderrors.New("truncated image header")

// Header is the image header as stored at the start of every image.
// It is laid out so that encoding/binary reads and writes it without padding.
type Header struct {
	Offset uint32
	Device [DeviceLen]byte
	Size   uint32
	Digest Digest
}

// NewHeader returns a header for the given payload offset and target device.
func NewHeader(offset uint32, device string) (*Header, error) {
	h := &Header{Offset: offset}
	if err := h.SetDevice(device); err != nil {
		return nil, err
	}
	return h, nil
}

// SetDevice stores name in the NUL padded device field.
func (h *Header) SetDevice(name string) error {
	if len(name) > DeviceLen {
		return fmt.Errorf("device name %q longer than %d bytes", name, DeviceLen)
	}
	h.Device = [DeviceLen]byte{}
	copy(h.Device[:], name)
	return nil
}

// DeviceName returns the device field up to the first NUL.
func (h *Header) DeviceName() string {
	if i := bytes.IndexByte(h.Device[:], 0); i >= 0 {
		return string(h.Device[:i])
	}
	return string(h.Device[:])
}

// Encode writes the header in its on-disk layout.
func (h *Header) Encode(w io.Writer) error {
	return binary.Write(w, ByteOrder, h)
}

// MarshalBinary returns the HeaderSize bytes of the on-disk layout.
func (h *Header) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(HeaderSize)
	if err := h.Encode(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes exactly HeaderSize bytes; extra bytes are ignored.
func (h *Header) UnmarshalBinary(data []byte) error {
	if len(data) < HeaderSize {
		return ErrTruncatedHeader
	}
	return binary.Read(bytes.NewReader(data[:HeaderSize]), ByteOrder, h)
}

// DecodeHeader decodes a header from its on-disk bytes.
func DecodeHeader(data []byte) (*Header, error) {
	var h Header
	if err := h.UnmarshalBinary(data); err != nil {
		return nil, err
	}
	return &h, nil
}

// ReadHeader rewinds r and reads the header from its first HeaderSize bytes.
func ReadHeader(r io.ReadSeeker) (*Header, error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, errors.Wrap(err, "failed to rewind image")
	}

	buf := make([]byte, HeaderSize)
	n, err := io.ReadFull(r, buf)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		slog.Error("image_header_truncated", "bytes_read", n, "header_size", HeaderSize)
		return nil, ErrTruncatedHeader
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to read image header")
	}

	return DecodeHeader(buf)
}
