package fingerprint

import (
	"encoding/hex"
	"math"
	"math/rand/v2"
)

/*
LEARNING: LOCALITY-SENSITIVE HASHING FOR EMBEDDING BUCKETS

The embedding hash is a 16-bit random-hyperplane LSH of the neural
embedding, encoded as 4 hex chars. Similar embeddings land on the same side
of most hyperplanes, so near-duplicate items tend to share a hash - which is
exactly what the cascade needs for cheap coarse bucketing before any
pairwise scoring happens.

The hyperplanes are derived from a fixed seed so the same embedding always
produces the same hash across restarts and across instances. Changing the
seed invalidates every stored embedding_hash, so it lives in config and is
never rotated casually.
*/

const hashBits = 16

// Hasher projects embedding vectors into compact LSH hashes
type Hasher struct {
	dim    int
	planes [][]float32 // hashBits x dim, each row a unit hyperplane
}

// NewHasher creates a Hasher for the given embedding dimension. The seed
// controls the random hyperplanes; use the configured fixed seed so hashes
// are reproducible.
func NewHasher(dim int, seed uint64) *Hasher {
	rng := rand.New(rand.NewPCG(seed, seed^0xdeadbeef))
	planes := make([][]float32, hashBits)
	for i := range planes {
		plane := make([]float32, dim)
		var norm float64
		for j := range plane {
			v := float32(rng.NormFloat64())
			plane[j] = v
			norm += float64(v) * float64(v)
		}
		norm = math.Sqrt(norm)
		if norm > 0 {
			scale := float32(1.0 / norm)
			for j := range plane {
				plane[j] *= scale
			}
		}
		planes[i] = plane
	}
	return &Hasher{dim: dim, planes: planes}
}

// Hash projects an embedding into a 4-hex-char hash string. Vectors shorter
// than the configured dimension are treated as zero-padded; longer ones are
// truncated. Returns "" for an empty embedding (absent signal).
func (h *Hasher) Hash(embedding []float32) string {
	if len(embedding) == 0 {
		return ""
	}

	hashBytes := make([]byte, hashBits/8)
	for i, plane := range h.planes {
		n := len(plane)
		if len(embedding) < n {
			n = len(embedding)
		}
		var dot float32
		for j := 0; j < n; j++ {
			dot += plane[j] * embedding[j]
		}
		if dot > 0 {
			hashBytes[i/8] |= 1 << (7 - uint(i%8))
		}
	}
	return hex.EncodeToString(hashBytes)
}

// Dim returns the expected embedding dimension
func (h *Hasher) Dim() int { return h.dim }

// BucketPrefix returns the coarse bucket key for an embedding hash:
// its first two hex chars (the top 8 bits of the hash)
func BucketPrefix(embeddingHash string) string {
	if len(embeddingHash) < 2 {
		return ""
	}
	return embeddingHash[:2]
}

// NeighborPrefixes returns the bucket prefixes within Hamming distance 1 of
// the given prefix (the prefix itself excluded). Used by the cascade when a
// bucket alone yields too few candidates: items near a bucket boundary can
// hash one bit apart, and expanding to distance-1 neighbors recovers them.
func NeighborPrefixes(prefix string) []string {
	b, err := hex.DecodeString(prefix)
	if err != nil || len(b) != 1 {
		return nil
	}
	neighbors := make([]string, 0, 8)
	for bit := 0; bit < 8; bit++ {
		flipped := []byte{b[0] ^ (1 << uint(bit))}
		neighbors = append(neighbors, hex.EncodeToString(flipped))
	}
	return neighbors
}
