package geom

import (
	"image"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestInvertRoundTrip(t *testing.T) {
	area := image.Pt(100, 50)
	r := image.Rect(10, 5, 30, 15)

	for tr := TransformNormal; tr <= TransformFlipped270; tr++ {
		t.Run(tr.String(), func(t *testing.T) {
			out := tr.Rect(r, area)
			back := tr.Invert().Rect(out, tr.Size(area))
			assert.Equal(t, r, back)
		})
	}
}

func TestSize(t *testing.T) {
	assert.Equal(t, image.Pt(50, 100), Transform90.Size(image.Pt(100, 50)))
	assert.Equal(t, image.Pt(100, 50), Transform180.Size(image.Pt(100, 50)))
	assert.False(t, Transform(8).Valid())
}

func TestRect180(t *testing.T) {
	got := Transform180.Rect(image.Rect(0, 0, 10, 10), image.Pt(64, 64))
	assert.Equal(t, image.Rect(54, 54, 64, 64), got)
}

func TestThen(t *testing.T) {
	assert.Equal(t, Transform180, Transform90.Then(Transform90))
	assert.Equal(t, TransformNormal, Transform90.Then(Transform270))
	assert.Equal(t, TransformNormal, TransformFlipped.Then(TransformFlipped))
	assert.Equal(t, TransformFlipped270, Transform90.Invert().Then(TransformFlipped270).Then(Transform270))

	for tr := TransformNormal; tr <= TransformFlipped270; tr++ {
		assert.Equal(t, TransformNormal, tr.Then(tr.Invert()), tr.String())
	}
}

func TestParseTransform(t *testing.T) {
	for tr := TransformNormal; tr.Valid(); tr++ {
		got, err := ParseTransform(tr.String())
		assert.NoError(t, err)
		assert.Equal(t, tr, got)
	}

	got, err := ParseTransform("")
	assert.NoError(t, err)
	assert.Equal(t, TransformNormal, got)

	_, err = ParseTransform("sideways")
	assert.Error(t, err)
}
