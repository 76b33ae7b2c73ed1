package desktop

import (
	"image"
	"testing"

	"deedles.dev/wlkit/buffer"
	"deedles.dev/wlkit/display"
	"deedles.dev/wlkit/geom"
	"deedles.dev/wlkit/output"
	"deedles.dev/wlkit/region"
	"deedles.dev/wlkit/registry"
	"deedles.dev/wlkit/surface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newOutput(name string, loc image.Point) *output.Output {
	o := output.New(name, output.Info{}, []display.Mode{{Size: image.Pt(100, 100), Refresh: 60000}})
	o.SetLocation(loc)
	return o
}

func newSurface(t *testing.T, m *surface.Manager, id registry.ID, size int) *surface.Surface {
	t.Helper()

	s, err := m.Create(id)
	require.NoError(t, err)
	buf, err := buffer.NewOffscreen(size, size, buffer.ARGB8888)
	require.NoError(t, err)
	s.Attach(buf, image.Point{})
	require.NoError(t, s.Commit())
	return s
}

func keys(t *testing.T, sp *Space, o *output.Output) (ids []registry.ID) {
	for _, e := range sp.Elements(o) {
		ids = append(ids, e.Key.(*surface.Surface).ID())
	}
	return ids
}

func TestStacking(t *testing.T) {
	m := surface.NewManager(registry.NewClient(), nil)
	o := newOutput("O", image.Point{})
	sp := NewSpace(nil)
	sp.AddOutput(o)

	var changes []image.Rectangle
	sp.OnChange(func(r image.Rectangle) { changes = append(changes, r) })

	a := NewWindow(newSurface(t, m, 1, 10))
	b := NewWindow(newSurface(t, m, 2, 10))
	sp.Map(a, image.Pt(0, 0))
	sp.Map(b, image.Pt(5, 5))
	assert.Equal(t, []registry.ID{1, 2}, keys(t, sp, o))
	assert.Equal(t, []image.Rectangle{image.Rect(0, 0, 10, 10), image.Rect(5, 5, 15, 15)}, changes)

	sp.Raise(a)
	assert.Equal(t, []registry.ID{2, 1}, keys(t, sp, o))

	w, ok := sp.WindowAt(image.Pt(7, 7))
	require.True(t, ok)
	assert.Same(t, a, w)
	w, ok = sp.WindowAt(image.Pt(12, 12))
	require.True(t, ok)
	assert.Same(t, b, w)
	_, ok = sp.WindowAt(image.Pt(50, 50))
	assert.False(t, ok)

	bg := newSurface(t, m, 3, 100)
	top := newSurface(t, m, 4, 5)
	sp.MapLayer(top, o, LayerOverlay, image.Point{})
	sp.MapLayer(bg, o, LayerBackground, image.Point{})
	assert.Equal(t, []registry.ID{3, 2, 1, 4}, keys(t, sp, o))

	sp.Unmap(a)
	assert.Equal(t, []registry.ID{3, 2, 4}, keys(t, sp, o))
}

func TestDestroyedSurfacesAreSkipped(t *testing.T) {
	m := surface.NewManager(registry.NewClient(), nil)
	o := newOutput("O", image.Point{})
	sp := NewSpace(nil)
	sp.AddOutput(o)

	parent := newSurface(t, m, 1, 10)
	child := newSurface(t, m, 2, 4)
	_, err := m.Subsurface(2, 1)
	require.NoError(t, err)
	child.SetPosition(image.Pt(3, 3))
	require.NoError(t, parent.Commit())

	empty, err := m.Create(3)
	require.NoError(t, err)

	sp.Map(NewWindow(parent), image.Point{})
	sp.Map(NewWindow(empty), image.Point{})
	assert.Equal(t, []registry.ID{1, 2}, keys(t, sp, o), "buffer-less surfaces are not drawn")

	require.NoError(t, child.Destroy())
	assert.Equal(t, []registry.ID{1}, keys(t, sp, o))

	require.NoError(t, parent.Destroy())
	assert.Empty(t, sp.Elements(o))
	assert.Len(t, sp.Windows(), 1)
}

func TestOutputsFor(t *testing.T) {
	m := surface.NewManager(registry.NewClient(), nil)
	left := newOutput("L", image.Point{})
	right := newOutput("R", image.Pt(100, 0))
	sp := NewSpace(nil)
	sp.AddOutput(left)
	sp.AddOutput(right)

	w := NewWindow(newSurface(t, m, 1, 20))
	sp.Map(w, image.Pt(10, 10))
	assert.Equal(t, []*output.Output{left}, sp.OutputsFor(w))

	sp.Map(w, image.Pt(90, 10))
	assert.Equal(t, []*output.Output{left, right}, sp.OutputsFor(w))

	elements := sp.Elements(right)
	require.Len(t, elements, 1)
	assert.Equal(t, image.Rect(-10, 10, 10, 30), elements[0].Dst)

	sp.RemoveOutput(left)
	assert.Equal(t, []*output.Output{right}, sp.OutputsFor(w))
}

func TestElementGeometry(t *testing.T) {
	m := surface.NewManager(registry.NewClient(), nil)
	o := newOutput("O", image.Point{})
	require.NoError(t, o.SetScale(2))
	sp := NewSpace(nil)
	sp.AddOutput(o)

	s := newSurface(t, m, 1, 10)
	sp.Map(NewWindow(s), image.Pt(5, 5))

	elements := sp.Elements(o)
	require.Len(t, elements, 1)
	e := elements[0]
	assert.Equal(t, image.Rect(10, 10, 30, 30), e.Dst)
	assert.Equal(t, geom.TransformNormal, e.Transform)
	assert.Equal(t, s.Serial(), e.Serial)

	serial := s.Serial()
	s.Damage(image.Rect(1, 1, 2, 2))
	require.NoError(t, s.Commit())
	assert.Equal(t, region.New(image.Rect(2, 2, 4, 4)), e.DamageSince(serial))

	o.SetTransform(geom.Transform180)
	e = sp.Elements(o)[0]
	assert.Equal(t, image.Rect(70, 70, 90, 90), e.Dst)
	assert.Equal(t, geom.Transform180, e.Transform)
}
