package flat

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func Test_Search_OrdersByScoreThenRow(t *testing.T) {
	idx, err := Build(2, [][]float32{
		{0, 1},
		{1, 0},
		{0.6, 0.8},
		{1, 0},
	})
	require.NoError(t, err)

	hits := idx.Search([]float32{1, 0}, 3)
	require.Len(t, hits, 3)
	assert.Equal(t, 1, hits[0].Row)
	assert.Equal(t, 3, hits[1].Row)
	assert.Equal(t, 2, hits[2].Row)
	assert.InDelta(t, 0.6, hits[2].Score, 1e-6)
}

func Test_Search_Bounds(t *testing.T) {
	idx, err := Build(1, [][]float32{{1}, {0.5}})
	require.NoError(t, err)

	assert.Len(t, idx.Search([]float32{1}, 10), 2)
	assert.Empty(t, idx.Search([]float32{1}, 0))

	empty, err := Build(3, nil)
	require.NoError(t, err)
	assert.Empty(t, empty.Search([]float32{1, 0, 0}, 5))
}

func Test_Build_RejectsRaggedRows(t *testing.T) {
	_, err := Build(2, [][]float32{{1, 0}, {1}})
	assert.Error(t, err)
}

func Test_Index_BinaryRoundTrip(t *testing.T) {
	idx, err := Build(3, [][]float32{{1, 0, 0}, {0, 0.6, 0.8}})
	require.NoError(t, err)

	data, err := idx.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, "FLATIP01", string(data[:8]))
	assert.Len(t, data, 16+4*6)

	var loaded Index
	require.NoError(t, loaded.UnmarshalBinary(data))
	assert.Equal(t, 3, loaded.Dim())
	assert.Equal(t, 2, loaded.Len())
	assert.Equal(t, idx.Row(1), loaded.Row(1))

	assert.Error(t, loaded.UnmarshalBinary(data[:20]))
	assert.Error(t, loaded.UnmarshalBinary([]byte("NOTMAGIC00000000")))
}

func Test_Matrix_RoundTrip(t *testing.T) {
	rows := [][]float32{{1, 2}, {3, 4}, {5, 6}}
	data, err := EncodeMatrix(2, rows)
	require.NoError(t, err)

	n, dim, values, err := DecodeMatrix(data)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 2, dim)
	assert.Equal(t, []float32{1, 2, 3, 4, 5, 6}, values)

	_, _, _, err = DecodeMatrix(data[:len(data)-1])
	assert.Error(t, err)
}

func Test_Normalize(t *testing.T) {
	v := Normalize([]float64{3, 4})
	norm := math.Sqrt(float64(v[0])*float64(v[0]) + float64(v[1])*float64(v[1]))
	assert.InDelta(t, 1.0, norm, 1e-5)

	assert.Equal(t, []float32{0, 0, 0}, Normalize([]float64{0, 0, 0}))
	assert.Empty(t, Normalize(nil))
}
