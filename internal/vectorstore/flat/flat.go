package flat

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
)

var indexMagic = [8]byte{'F', 'L', 'A', 'T', 'I', 'P', '0', '1'}

// Hit is one search result: a row position and its inner-product score.
type Hit struct {
	Row   int
	Score float64
}

// Index is an exact inner-product index over dense float32 rows.
// It is immutable after Build and safe for concurrent searches.
type Index struct {
	dim  int
	rows int
	data []float32
}

// Build copies the rows into a new index. Every row must have length dim.
func Build(dim int, rows [][]float32) (*Index, error) {
	if dim < 0 {
		return nil, errors.New("invalid dimension")
	}
	data := make([]float32, 0, dim*len(rows))
	for i, row := range rows {
		if len(row) != dim {
			return nil, fmt.Errorf("row %d has dimension %d, want %d", i, len(row), dim)
		}
		data = append(data, row...)
	}
	return &Index{dim: dim, rows: len(rows), data: data}, nil
}

// Dim returns the row dimension.
func (x *Index) Dim() int { return x.dim }

// Len returns the number of rows.
func (x *Index) Len() int { return x.rows }

// Row returns a copy of row i.
func (x *Index) Row(i int) []float32 {
	return append([]float32(nil), x.data[i*x.dim:(i+1)*x.dim]...)
}

// Search returns the min(k, Len) rows with the highest inner product with
// query, ordered by score descending and then by row ascending.
func (x *Index) Search(query []float32, k int) []Hit {
	if k <= 0 || x.rows == 0 {
		return nil
	}
	hits := make([]Hit, x.rows)
	for i := 0; i < x.rows; i++ {
		hits[i] = Hit{Row: i, Score: dot(x.data[i*x.dim:(i+1)*x.dim], query)}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].Score > hits[b].Score })
	if k > len(hits) {
		k = len(hits)
	}
	return hits[:k]
}

// MarshalBinary encodes the index as magic, dim, n and row-major float32 values.
func (x *Index) MarshalBinary() ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 16+4*len(x.data)))
	buf.Write(indexMagic[:])
	if err := binary.Write(buf, binary.LittleEndian, [2]uint32{uint32(x.dim), uint32(x.rows)}); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.LittleEndian, x.data); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalBinary decodes an index written by MarshalBinary.
func (x *Index) UnmarshalBinary(data []byte) error {
	if len(data) < 16 || !bytes.Equal(data[:8], indexMagic[:]) {
		return errors.New("invalid index header")
	}
	dim := int(binary.LittleEndian.Uint32(data[8:12]))
	rows := int(binary.LittleEndian.Uint32(data[12:16]))
	values, err := decodeFloats(data[16:], dim*rows)
	if err != nil {
		return err
	}
	x.dim, x.rows, x.data = dim, rows, values
	return nil
}

// EncodeMatrix writes rows as a little-endian rows/dim header followed by
// row-major float32 values.
func EncodeMatrix(dim int, rows [][]float32) ([]byte, error) {
	buf := bytes.NewBuffer(make([]byte, 0, 8+4*dim*len(rows)))
	if err := binary.Write(buf, binary.LittleEndian, [2]uint32{uint32(len(rows)), uint32(dim)}); err != nil {
		return nil, err
	}
	for i, row := range rows {
		if len(row) != dim {
			return nil, fmt.Errorf("row %d has dimension %d, want %d", i, len(row), dim)
		}
		if err := binary.Write(buf, binary.LittleEndian, row); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

// DecodeMatrix reverses EncodeMatrix and returns the row count and dimension.
func DecodeMatrix(data []byte) (rows, dim int, values []float32, err error) {
	if len(data) < 8 {
		return 0, 0, nil, errors.New("invalid matrix header")
	}
	rows = int(binary.LittleEndian.Uint32(data[0:4]))
	dim = int(binary.LittleEndian.Uint32(data[4:8]))
	values, err = decodeFloats(data[8:], rows*dim)
	if err != nil {
		return 0, 0, nil, err
	}
	return rows, dim, values, nil
}

// Normalize converts v to float32 scaled to unit L2 norm. Norms are
// accumulated in float64; a zero vector stays zero.
func Normalize(v []float64) []float32 {
	out := make([]float32, len(v))
	norm := 0.0
	for _, x := range v {
		norm += x * x
	}
	if norm == 0 {
		return out
	}
	norm = math.Sqrt(norm)
	for i, x := range v {
		out[i] = float32(x / norm)
	}
	return out
}

func decodeFloats(data []byte, count int) ([]float32, error) {
	if len(data) != 4*count {
		return nil, fmt.Errorf("payload has %d bytes, want %d", len(data), 4*count)
	}
	values := make([]float32, count)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[4*i:]))
	}
	return values, nil
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
