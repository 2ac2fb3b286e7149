package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/tmc/langchaingo/embeddings"
)

// HashDimensions is the vector size produced by the hash provider.
const HashDimensions = 384

// hashEmbedderClient is a deterministic bag-of-words embedder. It needs no
// network and is used for local development and tests.
func hashEmbedderClient(dim int) embeddings.EmbedderClientFunc {
	return func(_ context.Context, texts []string) ([][]float32, error) {
		out := make([][]float32, len(texts))
		for i, t := range texts {
			out[i] = hashVector(t, dim)
		}
		return out, nil
	}
}

// NewHashClient returns a Client backed by the deterministic hash embedder.
func NewHashClient(dim int) Client {
	c, _ := newClient(hashEmbedderClient(dim), "hash", 0, 0)
	return c
}

func hashVector(text string, dim int) []float32 {
	v := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%uint32(dim)] += 1
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		// 空文本也要返回非零向量，余弦相似度才有定义
		v[0] = 1
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
