package iobuf

import (
	"testing"

	"github.com/kelindar/bitmap"
	"github.com/stretchr/testify/assert"
)

func TestFullHit(t *testing.T) {
	have := bitmap.Bitmap{}
	have.Set(0)
	have.Set(1)
	have.Set(2)

	assert.True(t, FullHit(0, 2, have))
	assert.False(t, FullHit(0, 3, have))
}

func TestPartHit(t *testing.T) {
	have := bitmap.Bitmap{}
	have.Set(2)

	assert.True(t, PartHit(0, 3, have))
	assert.False(t, PartHit(5, 8, have))
}

func TestBreakInBitmap(t *testing.T) {
	bm := BreakInBitmap(0, int64(BitBlock*2), int64(BitBlock))
	assert.True(t, bm.Contains(0))
	assert.True(t, bm.Contains(1))
	assert.True(t, bm.Contains(2))
}

func TestBlockGroupSplitsHitsAndMisses(t *testing.T) {
	have := bitmap.Bitmap{}
	have.Set(0)
	have.Set(1)
	have.Set(3)

	want := bitmap.Bitmap{}
	want.Set(0)
	want.Set(1)
	want.Set(2)
	want.Set(3)

	groups := BlockGroup(have, want)

	var hitBlocks, missBlocks int
	for _, g := range groups {
		if g.Match {
			hitBlocks++
		} else {
			missBlocks++
		}
	}
	assert.Equal(t, 2, hitBlocks)
	assert.Equal(t, 1, missBlocks)
}

func TestBufBlockSpansFirstToLastPlusOne(t *testing.T) {
	offset, limit := BufBlock([]uint32{2, 3, 4})
	assert.Equal(t, int64(2*BitBlock), offset)
	assert.Equal(t, int64(5*BitBlock), limit)
}

func TestChunkPartUsesGivenPartSize(t *testing.T) {
	offset, limit := ChunkPart([]uint32{1, 2}, 1024)
	assert.Equal(t, int64(1024), offset)
	assert.Equal(t, int64(3072), limit)
}
