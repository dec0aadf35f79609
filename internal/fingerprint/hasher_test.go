package fingerprint

import (
	"math/bits"
	"math/rand/v2"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSeed = 20240901

func randomEmbedding(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(rng.NormFloat64())
	}
	return v
}

func TestHasher_Deterministic(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	emb := randomEmbedding(rng, 512)

	h1 := NewHasher(512, testSeed)
	h2 := NewHasher(512, testSeed)

	assert.Equal(t, h1.Hash(emb), h2.Hash(emb),
		"same seed and embedding must produce the same hash")
	assert.Equal(t, h1.Hash(emb), h1.Hash(emb))
}

func TestHasher_SeedChangesHashes(t *testing.T) {
	rng := rand.New(rand.NewPCG(3, 4))

	a := NewHasher(512, testSeed)
	b := NewHasher(512, testSeed+1)

	// A single vector could collide across seeds; across many it cannot
	differs := false
	for i := 0; i < 32; i++ {
		emb := randomEmbedding(rng, 512)
		if a.Hash(emb) != b.Hash(emb) {
			differs = true
			break
		}
	}
	assert.True(t, differs, "different seeds should produce different hash families")
}

func TestHasher_Format(t *testing.T) {
	rng := rand.New(rand.NewPCG(5, 6))
	h := NewHasher(512, testSeed)

	hash := h.Hash(randomEmbedding(rng, 512))
	require.Len(t, hash, 4)
	_, err := strconv.ParseUint(hash, 16, 16)
	assert.NoError(t, err, "hash must be valid hex")
}

func TestHasher_EmptyEmbedding(t *testing.T) {
	h := NewHasher(512, testSeed)
	assert.Equal(t, "", h.Hash(nil))
	assert.Equal(t, "", h.Hash([]float32{}))
}

func TestHasher_Locality(t *testing.T) {
	rng := rand.New(rand.NewPCG(7, 8))
	h := NewHasher(512, testSeed)

	emb := randomEmbedding(rng, 512)
	perturbed := make([]float32, len(emb))
	copy(perturbed, emb)
	for i := range perturbed {
		perturbed[i] += float32(rng.NormFloat64()) * 0.01
	}

	a, _ := strconv.ParseUint(h.Hash(emb), 16, 32)
	b, _ := strconv.ParseUint(h.Hash(perturbed), 16, 32)
	dist := bits.OnesCount64(a ^ b)

	assert.LessOrEqual(t, dist, 3,
		"a tiny perturbation should flip at most a few of the 16 bits")
}

func TestBucketPrefix(t *testing.T) {
	assert.Equal(t, "7f", BucketPrefix("7f3a"))
	assert.Equal(t, "", BucketPrefix(""))
	assert.Equal(t, "", BucketPrefix("a"))
}

func TestNeighborPrefixes(t *testing.T) {
	neighbors := NeighborPrefixes("00")
	require.Len(t, neighbors, 8)

	seen := map[string]bool{}
	for _, n := range neighbors {
		require.Len(t, n, 2)
		v, err := strconv.ParseUint(n, 16, 8)
		require.NoError(t, err)
		assert.Equal(t, 1, bits.OnesCount8(uint8(v)), "each neighbor differs by exactly one bit")
		assert.False(t, seen[n], "neighbors must be distinct")
		seen[n] = true
	}
	assert.NotContains(t, neighbors, "00", "prefix itself is excluded")
}

func TestNeighborPrefixes_Invalid(t *testing.T) {
	assert.Nil(t, NeighborPrefixes(""))
	assert.Nil(t, NeighborPrefixes("zz"))
	assert.Nil(t, NeighborPrefixes("7f3a"))
}
