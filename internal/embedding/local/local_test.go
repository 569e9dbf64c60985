package local

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func TestEmbedShapeAndDeterminism(t *testing.T) {
	e := NewEmbedder(64)
	assert.Equal(t, "local", e.Name())
	assert.Equal(t, 64, e.Dimension())

	texts := []string{"Access control policy for cardholder data", "Incident response plan"}
	a, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, a, 2)
	for _, v := range a {
		assert.Len(t, v, 64)
	}
	assert.Equal(t, a, b)
	assert.InDelta(t, 1.0, cosine(a[0], a[0]), 1e-6)
}

func TestEmbedSimilarity(t *testing.T) {
	e := NewEmbedder(DefaultDimension)
	vecs, err := e.Embed(context.Background(), []string{
		"encryption of cardholder data at rest",
		"Cardholder data must use encryption at rest.",
		"visitor badges at reception",
	})
	require.NoError(t, err)
	assert.Greater(t, cosine(vecs[0], vecs[1]), 0.6)
	assert.Less(t, cosine(vecs[0], vecs[2]), 0.3)
}

func TestEmbedStopwordsOnlyIsZero(t *testing.T) {
	e := NewEmbedder(0)
	assert.Equal(t, DefaultDimension, e.Dimension())
	vecs, err := e.Embed(context.Background(), []string{"the and of"})
	require.NoError(t, err)
	for _, f := range vecs[0] {
		assert.Zero(t, f)
	}
}

func TestEmbedHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEmbedder(8).Embed(ctx, []string{"x"})
	assert.ErrorIs(t, err, context.Canceled)
}
