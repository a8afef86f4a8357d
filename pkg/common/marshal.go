package common

import (
	"encoding/binary"
	"io"
)

func WriteString(str string, w io.Writer) (n int64, err error) {
	buf := []byte(str)
	if err = binary.Write(w, binary.BigEndian, uint16(len(buf))); err != nil {
		return
	}
	wn, err := w.Write(buf)
	return int64(wn + 2), err
}

func ReadString(r io.Reader) (str string, n int64, err error) {
	var size uint16
	if err = binary.Read(r, binary.BigEndian, &size); err != nil {
		return
	}
	buf := make([]byte, size)
	rn, err := io.ReadFull(r, buf)
	return string(buf), int64(rn + 2), err
}

func WriteBytes(buf []byte, w io.Writer) (n int64, err error) {
	if err = binary.Write(w, binary.BigEndian, uint32(len(buf))); err != nil {
		return
	}
	wn, err := w.Write(buf)
	return int64(wn + 4), err
}

func ReadBytes(r io.Reader) (buf []byte, n int64, err error) {
	var size uint32
	if err = binary.Read(r, binary.BigEndian, &size); err != nil {
		return
	}
	buf = make([]byte, size)
	rn, err := io.ReadFull(r, buf)
	return buf, int64(rn + 4), err
}
