package scoring

import (
	"encoding/hex"
	"math"
	"math/bits"
	"sort"
	"strings"

	"lostmatch/internal/models"
)

// Pure component scorers. Each returns a 0-100 score plus an availability
// flag: false means the signal is structurally absent on at least one side
// and must be excluded from the weighted sum (renormalization), never
// counted as a zero.

// hammingSimilarity scores two equal-length hex-encoded hashes by bit
// agreement, 0-100. Unavailable if either is empty or they differ in length.
func hammingSimilarity(a, b string) (float64, bool) {
	if a == "" || b == "" || len(a) != len(b) {
		return 0, false
	}
	ba, err := hex.DecodeString(a)
	if err != nil {
		return 0, false
	}
	bb, err := hex.DecodeString(b)
	if err != nil {
		return 0, false
	}

	var dist, total int
	for i := range ba {
		dist += bits.OnesCount8(ba[i] ^ bb[i])
		total += 8
	}
	if total == 0 {
		return 0, false
	}
	return (1 - float64(dist)/float64(total)) * 100, true
}

// Relative weights of the three hash types inside the hash component.
// Perceptual dominates because it is the most crop/edit tolerant; difference
// hash catches gradient structure; average hash is the bluntest.
var hashTypeWeights = struct{ perceptual, difference, average float64 }{0.5, 0.3, 0.2}

// hashScore combines the Hamming similarities of the hash triplet. Degrades
// gracefully: hash types missing on either side are renormalized away, so a
// pair sharing only perceptual hashes is still comparable. Unavailable only
// when no hash type is present on both sides.
func hashScore(a, b *models.VisualFingerprint) (float64, bool) {
	type pair struct {
		av, bv string
		weight float64
	}
	pairs := []pair{
		{a.PerceptualHash, b.PerceptualHash, hashTypeWeights.perceptual},
		{a.DifferenceHash, b.DifferenceHash, hashTypeWeights.difference},
		{a.AverageHash, b.AverageHash, hashTypeWeights.average},
	}

	var sum, weightSum float64
	for _, p := range pairs {
		if s, ok := hammingSimilarity(p.av, p.bv); ok {
			sum += s * p.weight
			weightSum += p.weight
		}
	}
	if weightSum == 0 {
		return 0, false
	}
	return sum / weightSum, true
}

// colorScore measures dominant-color overlap: histogram intersection over
// the per-color proportions, keyed by color code. Two photos of the same
// object in different lighting keep most of their top codes even when the
// exact proportions shift.
func colorScore(a, b models.ColorFingerprint) (score float64, ok bool, shared []string) {
	if len(a.Colors) == 0 || len(b.Colors) == 0 {
		return 0, false, nil
	}

	aProp := make(map[string]float64, len(a.Colors))
	var aTotal float64
	for _, c := range a.Colors {
		aProp[c.Code] += c.Proportion
		aTotal += c.Proportion
	}

	var intersection, bTotal float64
	for _, c := range b.Colors {
		bTotal += c.Proportion
		if pa, found := aProp[c.Code]; found {
			intersection += math.Min(pa, c.Proportion)
			shared = append(shared, "color:"+c.Code)
		}
	}

	// Dominant-color lists rarely cover 100% of pixels. Normalizing by the
	// smaller side's coverage keeps identical fingerprints at 100 instead of
	// penalizing both for the long tail neither one recorded.
	smaller := math.Min(aTotal, bTotal)
	if smaller <= 0 {
		return 0, false, nil
	}

	sort.Strings(shared)
	return math.Min(intersection/smaller, 1) * 100, true, shared
}

// normalizeTokens lowercases, strips non-alphanumerics and drops one-char
// tokens. Returned set is deduplicated.
func normalizeTokens(text string) map[string]bool {
	tokens := make(map[string]bool)
	for _, raw := range strings.Fields(strings.ToLower(text)) {
		var sb strings.Builder
		for _, r := range raw {
			if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
				sb.WriteRune(r)
			}
		}
		tok := sb.String()
		if len(tok) > 1 {
			tokens[tok] = true
		}
	}
	return tokens
}

// ocrScore is Jaccard overlap of normalized OCR tokens, scaled 0-100.
// Unavailable when either side has no text at all - absence of printed text
// is not evidence against a match. Tokens shared between the two sides are
// returned as match reasons ("ocr:visa").
func ocrScore(aText, bText string) (score float64, ok bool, shared []string) {
	aTokens := normalizeTokens(aText)
	bTokens := normalizeTokens(bText)
	if len(aTokens) == 0 || len(bTokens) == 0 {
		return 0, false, nil
	}

	var common int
	for tok := range aTokens {
		if bTokens[tok] {
			common++
			shared = append(shared, "ocr:"+tok)
		}
	}
	union := len(aTokens) + len(bTokens) - common

	sort.Strings(shared)
	return float64(common) / float64(union) * 100, true, shared
}

// neuralScore rescales embedding cosine similarity from [-1,1] to [0,100]
func neuralScore(a, b []float32) (float64, bool) {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0, false
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}

	cos := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	// Guard against float drift outside [-1,1]
	cos = math.Max(-1, math.Min(1, cos))
	return (cos + 1) / 2 * 100, true
}

// sharedLabels intersects detected-label sets for the reasons list
func sharedLabels(a, b []string) []string {
	set := make(map[string]bool, len(a))
	for _, l := range a {
		set[strings.ToLower(l)] = true
	}
	var shared []string
	for _, l := range b {
		if set[strings.ToLower(l)] {
			shared = append(shared, "label:"+strings.ToLower(l))
		}
	}
	sort.Strings(shared)
	return shared
}
