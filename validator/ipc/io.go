// Package ipcpki carries parsed objects across the pipe between the
// untrusted parser worker and the trusted validator. The format is a
// fixed-order byte stream: no framing, every field read back in the
// exact order it was written. Lengths received from the pipe are
// checked against hard caps before any allocation.
package ipcpki

import (
	"encoding/binary"
	"fmt"
	"io"
)

const (
	// caps on attacker-controlled lengths
	maxStringLen = 4096
	maxEntries   = 1 << 20
)

func writeUint8(w io.Writer, v uint8) error {
	_, err := w.Write([]byte{v})
	return err
}

func readUint8(r io.Reader, v *uint8) error {
	var buf [1]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	*v = buf[0]
	return nil
}

func writeUint32(w io.Writer, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	_, err := w.Write(buf[:])
	return err
}

func readUint32(r io.Reader, v *uint32) error {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	*v = binary.BigEndian.Uint32(buf[:])
	return nil
}

func writeInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

func readInt64(r io.Reader, v *int64) error {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	*v = int64(binary.BigEndian.Uint64(buf[:]))
	return nil
}

func writeBytes(w io.Writer, b []byte) error {
	if err := writeUint32(w, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readBytes(r io.Reader, max uint32) ([]byte, error) {
	var sz uint32
	if err := readUint32(r, &sz); err != nil {
		return nil, err
	}
	if sz == 0 {
		return nil, nil
	}
	if sz > max {
		return nil, fmt.Errorf("length %d exceeds cap %d", sz, max)
	}
	buf := make([]byte, sz)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeString(w io.Writer, s string) error {
	return writeBytes(w, []byte(s))
}

func readString(r io.Reader, s *string) error {
	b, err := readBytes(r, maxStringLen)
	if err != nil {
		return err
	}
	*s = string(b)
	return nil
}
