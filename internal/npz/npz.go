// Package npz reads and writes NumPy .npz archives: a ZIP container of .npy
// members. Only the subset the sweep needs is implemented: little-endian
// float64 arrays in C order, format version 1.0. Archives written here load
// unchanged with numpy.load, and archives written by numpy.savez with
// float64 members load here.
package npz

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"
)

const magic = "\x93NUMPY"

// Array is an n-dimensional float64 array in row-major order.
type Array struct {
	Shape []int
	Data  []float64
}

// NewArray allocates a zeroed array of the given shape.
func NewArray(shape ...int) (*Array, error) {
	n := 1
	for _, d := range shape {
		if d < 0 {
			return nil, fmt.Errorf("negative dimension %d in shape %v", d, shape)
		}
		n *= d
	}
	return &Array{Shape: append([]int(nil), shape...), Data: make([]float64, n)}, nil
}

// Len returns the number of elements implied by the shape.
func (a *Array) Len() int {
	n := 1
	for _, d := range a.Shape {
		n *= d
	}
	return n
}

// At returns the element at the given multi-index.
func (a *Array) At(idx ...int) float64 {
	return a.Data[a.offset(idx)]
}

// Set assigns the element at the given multi-index.
func (a *Array) Set(v float64, idx ...int) {
	a.Data[a.offset(idx)] = v
}

func (a *Array) offset(idx []int) int {
	if len(idx) != len(a.Shape) {
		panic(fmt.Sprintf("npz: index rank %d does not match shape rank %d", len(idx), len(a.Shape)))
	}
	off := 0
	for i, ix := range idx {
		if ix < 0 || ix >= a.Shape[i] {
			panic(fmt.Sprintf("npz: index %d out of range for axis %d (size %d)", ix, i, a.Shape[i]))
		}
		off = off*a.Shape[i] + ix
	}
	return off
}

// shapeLiteral renders a Python tuple literal for the header.
func shapeLiteral(shape []int) string {
	switch len(shape) {
	case 0:
		return "()"
	case 1:
		return fmt.Sprintf("(%d,)", shape[0])
	default:
		parts := make([]string, len(shape))
		for i, d := range shape {
			parts[i] = strconv.Itoa(d)
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
}

// writeNPY writes one .npy v1.0 member.
func writeNPY(w io.Writer, a *Array) error {
	if a.Len() != len(a.Data) {
		return fmt.Errorf("shape %v implies %d elements, have %d", a.Shape, a.Len(), len(a.Data))
	}

	header := fmt.Sprintf("{'descr': '<f8', 'fortran_order': False, 'shape': %s, }", shapeLiteral(a.Shape))
	// pad with spaces so magic+version+len+header is 64-byte aligned,
	// terminated by a newline as the format requires
	total := len(magic) + 2 + 2 + len(header) + 1
	pad := (64 - total%64) % 64
	header += strings.Repeat(" ", pad) + "\n"

	if _, err := io.WriteString(w, magic); err != nil {
		return err
	}
	if _, err := w.Write([]byte{1, 0}); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(header))); err != nil {
		return err
	}
	if _, err := io.WriteString(w, header); err != nil {
		return err
	}

	buf := make([]byte, 8*len(a.Data))
	for i, v := range a.Data {
		binary.LittleEndian.PutUint64(buf[8*i:], math.Float64bits(v))
	}
	_, err := w.Write(buf)
	return err
}

// readNPY parses one .npy member.
func readNPY(r io.Reader) (*Array, error) {
	head := make([]byte, 10)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, fmt.Errorf("read npy preamble: %w", err)
	}
	if string(head[:6]) != magic {
		return nil, fmt.Errorf("not an npy stream")
	}
	if head[6] != 1 {
		return nil, fmt.Errorf("unsupported npy version %d.%d", head[6], head[7])
	}
	headerLen := int(binary.LittleEndian.Uint16(head[8:]))
	headerBytes := make([]byte, headerLen)
	if _, err := io.ReadFull(r, headerBytes); err != nil {
		return nil, fmt.Errorf("read npy header: %w", err)
	}
	header := string(headerBytes)

	descr, err := headerField(header, "descr")
	if err != nil {
		return nil, err
	}
	if descr != "<f8" {
		return nil, fmt.Errorf("unsupported dtype %q (only <f8)", descr)
	}
	order, err := headerField(header, "fortran_order")
	if err != nil {
		return nil, err
	}
	if order != "False" {
		return nil, fmt.Errorf("fortran-order arrays not supported")
	}
	shape, err := parseShape(header)
	if err != nil {
		return nil, err
	}

	a, err := NewArray(shape...)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 8*a.Len())
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, fmt.Errorf("read npy payload: %w", err)
	}
	for i := range a.Data {
		a.Data[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return a, nil
}

// headerField extracts the value of a key from the header dict literal.
// Values are either quoted strings or bare Python literals.
func headerField(header, key string) (string, error) {
	marker := "'" + key + "':"
	i := strings.Index(header, marker)
	if i < 0 {
		return "", fmt.Errorf("npy header missing %q: %s", key, header)
	}
	rest := strings.TrimLeft(header[i+len(marker):], " ")
	if strings.HasPrefix(rest, "'") {
		end := strings.Index(rest[1:], "'")
		if end < 0 {
			return "", fmt.Errorf("unterminated string for %q in npy header", key)
		}
		return rest[1 : 1+end], nil
	}
	end := strings.IndexAny(rest, ",}")
	if end < 0 {
		return "", fmt.Errorf("malformed npy header near %q", key)
	}
	return strings.TrimSpace(rest[:end]), nil
}

// parseShape extracts the shape tuple from the header dict literal.
func parseShape(header string) ([]int, error) {
	i := strings.Index(header, "'shape':")
	if i < 0 {
		return nil, fmt.Errorf("npy header missing shape: %s", header)
	}
	rest := header[i+len("'shape':"):]
	open := strings.Index(rest, "(")
	closing := strings.Index(rest, ")")
	if open < 0 || closing < open {
		return nil, fmt.Errorf("malformed shape tuple in npy header: %s", header)
	}
	inner := strings.TrimSpace(rest[open+1 : closing])
	if inner == "" {
		return nil, nil // scalar
	}
	parts := strings.Split(inner, ",")
	var shape []int
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue // trailing comma of 1-tuples
		}
		d, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("bad dimension %q in npy shape: %w", p, err)
		}
		shape = append(shape, d)
	}
	return shape, nil
}

// Write writes the named arrays as an npz archive. Member order follows the
// names slice so archives are byte-stable for identical inputs.
func Write(w io.Writer, names []string, arrays map[string]*Array) error {
	zw := zip.NewWriter(w)
	for _, name := range names {
		a, ok := arrays[name]
		if !ok {
			return fmt.Errorf("npz member %q has no array", name)
		}
		// numpy stores members uncompressed
		f, err := zw.CreateHeader(&zip.FileHeader{Name: name + ".npy", Method: zip.Store})
		if err != nil {
			return err
		}
		if err := writeNPY(f, a); err != nil {
			return fmt.Errorf("write member %q: %w", name, err)
		}
	}
	return zw.Close()
}

// WriteFile writes an npz archive to path.
func WriteFile(path string, names []string, arrays map[string]*Array) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := Write(f, names, arrays); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Read parses an npz archive into a map keyed by member name (without the
// .npy suffix).
func Read(r io.ReaderAt, size int64) (map[string]*Array, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("open npz: %w", err)
	}
	out := make(map[string]*Array, len(zr.File))
	for _, zf := range zr.File {
		name := strings.TrimSuffix(zf.Name, ".npy")
		rc, err := zf.Open()
		if err != nil {
			return nil, fmt.Errorf("open member %q: %w", zf.Name, err)
		}
		a, err := readNPY(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("member %q: %w", zf.Name, err)
		}
		out[name] = a
	}
	return out, nil
}

// ReadFile parses the npz archive at path.
func ReadFile(path string) (map[string]*Array, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Read(bytes.NewReader(b), int64(len(b)))
}
