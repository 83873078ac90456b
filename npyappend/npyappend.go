// Package npyappend writes .npy files one row at a time. The header is a fixed
// 128 bytes and is rewritten with the final shape on Close.
package npyappend

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"os"
	"reflect"
	"strings"

	"github.com/airborne-oap/oap/getbytes"
)

const headerLen = 128

// NpyAppender appends items of type T to a .npy file. Scalars give a 1-d
// array; fixed arrays and slices give one row per item.
type NpyAppender[T any] struct {
	filename   string
	file       *os.File
	writer     *bufio.Writer
	LastHeader string
	shape      []int
	dtype      string
}

// NewNpyAppender creates (or truncates) filename and writes a provisional header.
func NewNpyAppender[T any](filename string) (*NpyAppender[T], error) {
	file, err := os.OpenFile(filename, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	var dummy T
	dtype, err := dtypeFrom(reflect.TypeOf(dummy))
	if err != nil {
		file.Close()
		return nil, err
	}
	appender := &NpyAppender[T]{
		filename: filename,
		file:     file,
		writer:   bufio.NewWriterSize(file, 32768),
		shape:    shapeFrom(reflect.ValueOf(dummy)),
		dtype:    dtype,
	}
	if err := appender.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return appender, nil
}

// Filename returns the path of the file being written.
func (a *NpyAppender[T]) Filename() string {
	return a.filename
}

// Rows returns the number of items appended.
func (a *NpyAppender[T]) Rows() int {
	return a.shape[0]
}

// Append appends one item. Slice items must all have the length set by
// SetSliceLength.
func (a *NpyAppender[T]) Append(item T) error {
	rv := reflect.ValueOf(item)
	if rv.Kind() == reflect.Slice && len(a.shape) > 1 && rv.Len() != a.shape[1] {
		return fmt.Errorf("slice item has length %d, want %d", rv.Len(), a.shape[1])
	}
	b, err := bytesFrom(item)
	if err != nil {
		return err
	}
	if _, err := a.writer.Write(b); err != nil {
		return err
	}
	a.shape[0]++
	return nil
}

func bytesFrom(item any) ([]byte, error) {
	switch v := item.(type) {
	case float64:
		return getbytes.FromFloat64(v), nil
	case float32:
		return getbytes.FromFloat32(v), nil
	case []float64:
		return getbytes.FromSliceFloat64(v), nil
	case []float32:
		return getbytes.FromSliceFloat32(v), nil
	case []uint16:
		return getbytes.FromSliceUint16(binary.LittleEndian, v), nil
	case []uint32:
		return getbytes.FromSliceUint32(binary.LittleEndian, v), nil
	case []uint64:
		return getbytes.FromSliceUint64(binary.LittleEndian, v), nil
	}
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, item); err != nil {
		return nil, fmt.Errorf("cannot encode %T: %w", item, err)
	}
	return buf.Bytes(), nil
}

// writeHeader flushes pending rows and rewrites the header at offset 0.
func (a *NpyAppender[T]) writeHeader() error {
	if err := a.writer.Flush(); err != nil {
		return err
	}
	const magic = "\x93NUMPY"
	const version = "\x01\x00"
	dims := make([]string, len(a.shape))
	for i, d := range a.shape {
		dims[i] = fmt.Sprint(d)
	}
	shape := strings.Join(dims, ", ")
	if len(dims) == 1 {
		shape += ","
	}
	dict := fmt.Sprintf("{'descr': '%s', 'fortran_order': False, 'shape': (%s), }", a.dtype, shape)
	prefixLen := len(magic) + len(version) + 2
	padding := headerLen - prefixLen - len(dict) - 1
	if padding < 0 {
		return fmt.Errorf("npy header %q too long", dict)
	}
	var hdr bytes.Buffer
	hdr.WriteString(magic)
	hdr.WriteString(version)
	binary.Write(&hdr, binary.LittleEndian, uint16(headerLen-prefixLen))
	hdr.WriteString(dict)
	hdr.WriteString(strings.Repeat(" ", padding))
	hdr.WriteByte('\n')

	a.LastHeader = hdr.String()
	if _, err := a.file.WriteAt(hdr.Bytes(), 0); err != nil {
		return err
	}
	_, err := a.file.Seek(0, 2)
	return err
}

// RefreshHeader rewrites the header with the current shape.
func (a *NpyAppender[T]) RefreshHeader() error {
	return a.writeHeader()
}

// SetSliceLength sets the row length for slice items. It must be called
// before the first Append.
func (a *NpyAppender[T]) SetSliceLength(length int) error {
	if a.shape[0] > 0 {
		return fmt.Errorf("cannot set slice length after appending %d items", a.shape[0])
	}
	if len(a.shape) < 2 {
		return fmt.Errorf("item type is not a slice")
	}
	a.shape[1] = length
	return nil
}

// Tell returns the file size in bytes, including buffered rows.
func (a *NpyAppender[T]) Tell() int64 {
	info, err := a.file.Stat()
	if err != nil {
		return 0
	}
	return info.Size() + int64(a.writer.Buffered())
}

// Close writes the final header and closes the file.
func (a *NpyAppender[T]) Close() error {
	if err := a.writeHeader(); err != nil {
		a.file.Close()
		return err
	}
	return a.file.Close()
}

func shapeFrom(rv reflect.Value) []int {
	switch rv.Kind() {
	case reflect.Array, reflect.Slice:
		return []int{0, rv.Len()}
	default:
		return []int{0}
	}
}

func dtypeFrom(rt reflect.Type) (string, error) {
	if rt == nil {
		return "", fmt.Errorf("cannot store interface items")
	}
	switch rt.Kind() {
	case reflect.Bool:
		return "|b1", nil
	case reflect.Uint8:
		return "|u1", nil
	case reflect.Uint16:
		return "<u2", nil
	case reflect.Uint32:
		return "<u4", nil
	case reflect.Uint64:
		return "<u8", nil
	case reflect.Int8:
		return "|i1", nil
	case reflect.Int16:
		return "<i2", nil
	case reflect.Int32:
		return "<i4", nil
	case reflect.Int64:
		return "<i8", nil
	case reflect.Float32:
		return "<f4", nil
	case reflect.Float64:
		return "<f8", nil
	case reflect.Complex64:
		return "<c8", nil
	case reflect.Complex128:
		return "<c16", nil
	case reflect.Array, reflect.Slice:
		return dtypeFrom(rt.Elem())
	}
	return "", fmt.Errorf("npy cannot store items of kind %v", rt.Kind())
}
