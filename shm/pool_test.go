package shm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool(t *testing.T) {
	file, err := Create("pool-test", 4096)
	require.NoError(t, err)
	_, err = file.WriteAt([]byte{1, 2, 3, 4}, 0)
	require.NoError(t, err)

	pool, err := NewPool(file, 4096)
	require.NoError(t, err)
	assert.Equal(t, 4096, pool.Size())

	b, err := pool.Bytes(0, 4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, b)

	_, err = pool.Bytes(4090, 10)
	assert.ErrorIs(t, err, ErrOutOfBounds)

	assert.ErrorIs(t, pool.Resize(100), ErrShrink)
	require.NoError(t, file.Truncate(8192))
	require.NoError(t, pool.Resize(8192))
	assert.Equal(t, 8192, pool.Size())
	assert.Equal(t, []byte{1, 2, 3, 4}, b, "old slices stay mapped")

	pool.Ref()
	pool.Destroy()
	_, err = pool.Bytes(0, 4)
	assert.NoError(t, err, "still referenced")

	pool.Unref()
	assert.Zero(t, pool.Size())
}
