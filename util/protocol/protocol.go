// Package protocol implements the framing used on every data connection:
// a 4 byte big endian length prefix followed by exactly that many body bytes.
// There is no terminator; the prefix is the only way to know where a body ends.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/pkg/errors"
)

const (
	// PrefixSize is the number of bytes in front of every body.
	PrefixSize = 4
)

var (
	// ErrMalformed is returned when the size prefix is missing or truncated.
	ErrMalformed = errors.New("malformed frame (not enough data for the size prefix)")
	ErrNoReader  = errors.New("protocol was created without reader part")
	ErrNoWriter  = errors.New("protocol was created without writer part")
)

// ErrBodyTooBig is returned when a body does not fit into the prefix,
// or when a received prefix exceeds the limit of the receiver.
type ErrBodyTooBig struct {
	size  uint64
	limit uint64
}

func (e ErrBodyTooBig) Error() string {
	return fmt.Sprintf("body is too big (%d bytes, maximum: %d)", e.size, e.limit)
}

// EncodeLength returns `n` as 4 bytes, most significant byte first.
func EncodeLength(n uint32) [PrefixSize]byte {
	var buf [PrefixSize]byte
	binary.BigEndian.PutUint32(buf[:], n)
	return buf
}

// DecodeLength is the inverse of EncodeLength.
func DecodeLength(buf [PrefixSize]byte) uint32 {
	return binary.BigEndian.Uint32(buf[:])
}

// Frame returns the complete wire form of `body`: prefix plus body.
func Frame(body []byte) ([]byte, error) {
	if uint64(len(body)) > MaxBodySize {
		return nil, ErrBodyTooBig{size: uint64(len(body)), limit: MaxBodySize}
	}

	prefix := EncodeLength(uint32(len(body)))
	data := make([]byte, 0, PrefixSize+len(body))
	data = append(data, prefix[:]...)
	return append(data, body...), nil
}

// MaxBodySize is the largest body the prefix can describe.
const MaxBodySize = uint64(^uint32(0))

// Protocol reads and writes framed bodies on a stream.
type Protocol struct {
	r io.Reader
	w io.Writer

	// limit is the largest body Recv accepts; 0 means MaxBodySize.
	limit uint32
}

func NewProtocol(rw io.ReadWriter) *Protocol {
	return &Protocol{r: rw, w: rw}
}

func NewProtocolReader(r io.Reader) *Protocol {
	return &Protocol{r: r}
}

func NewProtocolWriter(w io.Writer) *Protocol {
	return &Protocol{w: w}
}

// SetRecvLimit makes Recv refuse bodies bigger than `limit` bytes
// before allocating memory for them.
func (p *Protocol) SetRecvLimit(limit uint32) {
	p.limit = limit
}

// Send writes the prefix and `body` in one write call.
// It returns the number of bytes the writer accepted, which is
// less than PrefixSize+len(body) on a short write.
func (p *Protocol) Send(body []byte) (int, error) {
	if p.w == nil {
		return 0, ErrNoWriter
	}

	data, err := Frame(body)
	if err != nil {
		return 0, err
	}

	n, err := p.w.Write(data)
	if err != nil {
		return n, errors.Wrap(err, "write frame")
	}

	if n < len(data) {
		return n, io.ErrShortWrite
	}

	return n, nil
}

// Recv reads exactly one framed body.
func (p *Protocol) Recv() ([]byte, error) {
	if p.r == nil {
		return nil, ErrNoReader
	}

	var prefix [PrefixSize]byte
	if _, err := io.ReadFull(p.r, prefix[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return nil, ErrMalformed
		}

		return nil, err
	}

	size := DecodeLength(prefix)
	if p.limit > 0 && size > p.limit {
		return nil, ErrBodyTooBig{size: uint64(size), limit: uint64(p.limit)}
	}

	body := make([]byte, size)
	if _, err := io.ReadFull(p.r, body); err != nil {
		return nil, errors.Wrapf(err, "read body (%d bytes announced)", size)
	}

	return body, nil
}
