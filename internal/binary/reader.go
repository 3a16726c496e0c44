package binary

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"unicode/utf8"
)

// ErrInvalidUTF8 is returned by ReadName for names that are not valid UTF-8.
var ErrInvalidUTF8 = errors.New("invalid UTF-8 in name")

// Reader wraps an io.ByteReader with position tracking and the
// little-endian and LEB128 reads used by the decoder.
//
// LEB128 reads do not enforce an upper bound on encoded length. Bits beyond
// the destination width are dropped.
type Reader struct {
	r   io.ByteReader
	pos int
}

// NewReader creates a new Reader wrapping the given io.ByteReader.
func NewReader(r io.ByteReader) *Reader {
	return &Reader{r: r, pos: 0}
}

// FromBytes creates a seekable Reader over data.
func FromBytes(data []byte) *Reader {
	return NewReader(bytes.NewReader(data))
}

// Position returns the current byte position.
func (r *Reader) Position() int {
	return r.pos
}

// Seek moves to an absolute position. The underlying reader must implement io.Seeker.
func (r *Reader) Seek(pos int) error {
	s, ok := r.r.(io.Seeker)
	if !ok {
		return errors.New("seek not supported on this reader type")
	}
	if _, err := s.Seek(int64(pos), io.SeekStart); err != nil {
		return err
	}
	r.pos = pos
	return nil
}

// Len returns the number of unread bytes, or -1 when the source does not report it.
func (r *Reader) Len() int {
	if l, ok := r.r.(interface{ Len() int }); ok {
		return l.Len()
	}
	return -1
}

// ReadByte reads a single byte and advances the position.
// It returns io.EOF unwrapped at a clean end of stream.
func (r *Reader) ReadByte() (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		return 0, err
	}
	r.pos++
	return b, nil
}

// ReadU8 is ReadByte with truncation reported as io.ErrUnexpectedEOF.
func (r *Reader) ReadU8() (uint8, error) {
	return r.next()
}

// next reads one byte that is part of a larger value.
func (r *Reader) next() (byte, error) {
	b, err := r.r.ReadByte()
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return 0, r.wrapError(err)
	}
	r.pos++
	return b, nil
}

// ReadBytes reads exactly n bytes.
func (r *Reader) ReadBytes(n int) ([]byte, error) {
	if n < 0 {
		return nil, r.wrapError(fmt.Errorf("negative length %d", n))
	}
	if rem := r.Len(); rem >= 0 && n > rem {
		return nil, r.wrapError(io.ErrUnexpectedEOF)
	}
	buf := make([]byte, n)
	for i := 0; i < n; i++ {
		b, err := r.next()
		if err != nil {
			return nil, err
		}
		buf[i] = b
	}
	return buf, nil
}

// Skip advances n bytes without keeping them.
func (r *Reader) Skip(n int) error {
	if s, ok := r.r.(io.Seeker); ok {
		if rem := r.Len(); rem >= 0 && n > rem {
			return r.wrapError(io.ErrUnexpectedEOF)
		}
		if _, err := s.Seek(int64(n), io.SeekCurrent); err != nil {
			return r.wrapError(err)
		}
		r.pos += n
		return nil
	}
	_, err := r.ReadBytes(n)
	return err
}

// ReadU32 reads an unsigned LEB128 encoded uint32.
func (r *Reader) ReadU32() (uint32, error) {
	v, err := r.ReadU64()
	return uint32(v), err
}

// ReadU64 reads an unsigned LEB128 encoded uint64.
func (r *Reader) ReadU64() (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.next()
		if err != nil {
			return 0, err
		}
		if shift < 64 {
			result |= uint64(b&0x7f) << shift
		}
		shift += 7
		if b&0x80 == 0 {
			return result, nil
		}
	}
}

// ReadS32 reads a signed LEB128 encoded int32.
func (r *Reader) ReadS32() (int32, error) {
	v, err := r.ReadS64()
	return int32(v), err
}

// ReadS64 reads a signed LEB128 encoded int64.
func (r *Reader) ReadS64() (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.next()
		if err != nil {
			return 0, err
		}
		if shift < 64 {
			result |= int64(b&0x7f) << shift
		}
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	// Sign extend
	if shift < 64 && b&0x40 != 0 {
		result |= ^int64(0) << shift
	}
	return result, nil
}

// ReadI16LE reads a little-endian int16.
func (r *Reader) ReadI16LE() (int16, error) {
	v, err := r.ReadU16LE()
	return int16(v), err
}

// ReadU16LE reads a little-endian uint16.
func (r *Reader) ReadU16LE() (uint16, error) {
	buf, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf), nil
}

// ReadI32LE reads a little-endian int32.
func (r *Reader) ReadI32LE() (int32, error) {
	v, err := r.ReadU32LE()
	return int32(v), err
}

// ReadU32LE reads a little-endian uint32 (fixed 4 bytes).
func (r *Reader) ReadU32LE() (uint32, error) {
	buf, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf), nil
}

// ReadI64LE reads a little-endian int64.
func (r *Reader) ReadI64LE() (int64, error) {
	v, err := r.ReadU64LE()
	return int64(v), err
}

// ReadU64LE reads a little-endian uint64.
func (r *Reader) ReadU64LE() (uint64, error) {
	buf, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf), nil
}

// ReadF32 reads four bytes and reinterprets them as an IEEE-754 single.
func (r *Reader) ReadF32() (float32, error) {
	bits, err := r.ReadU32LE()
	return math.Float32frombits(bits), err
}

// ReadF64 reads eight bytes and reinterprets them as an IEEE-754 double.
func (r *Reader) ReadF64() (float64, error) {
	bits, err := r.ReadU64LE()
	return math.Float64frombits(bits), err
}

// ReadStrN reads a LEB128 length followed by that many bytes.
func (r *Reader) ReadStrN() (string, error) {
	length, err := r.ReadU32()
	if err != nil {
		return "", err
	}
	return r.ReadStrL(int(length))
}

// ReadStrL reads a string of exactly n bytes.
func (r *Reader) ReadStrL(n int) (string, error) {
	data, err := r.ReadBytes(n)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// ReadStr0 reads bytes up to a NUL terminator, which is consumed and dropped.
func (r *Reader) ReadStr0() (string, error) {
	var buf bytes.Buffer
	for {
		b, err := r.next()
		if err != nil {
			return "", err
		}
		if b == 0 {
			return buf.String(), nil
		}
		buf.WriteByte(b)
	}
}

// ReadName reads a UTF-8 encoded name (length-prefixed byte sequence).
func (r *Reader) ReadName() (string, error) {
	s, err := r.ReadStrN()
	if err != nil {
		return "", err
	}
	if !utf8.ValidString(s) {
		return "", r.wrapError(ErrInvalidUTF8)
	}
	return s, nil
}

func (r *Reader) wrapError(err error) error {
	return fmt.Errorf("at position %d: %w", r.pos, err)
}

// ParseError represents an error during binary parsing with position information.
type ParseError struct {
	Err      error
	Section  string
	Position int
}

func (e *ParseError) Error() string {
	if e.Section != "" {
		return fmt.Sprintf("wasm: %s at position %d: %v", e.Section, e.Position, e.Err)
	}
	return fmt.Sprintf("wasm: at position %d: %v", e.Position, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// WrapError creates a ParseError with the current position.
func (r *Reader) WrapError(section string, err error) error {
	return &ParseError{
		Position: r.pos,
		Section:  section,
		Err:      err,
	}
}
