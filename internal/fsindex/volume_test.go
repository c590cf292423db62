package fsindex

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVolumeBuilderKeepsInsertionOrder(t *testing.T) {
	vol := NewVolumeBuilder().
		Add("zeta.txt", File("C:/a/zeta.txt")).
		Add("alpha", Directory("C:/alpha")).
		Add("zeta.txt", File("C:/b/zeta.txt")).
		Add("mid.go", File("C:/mid.go")).
		Build()

	var names []string
	vol.Each(func(name string, entries []PathEntry) bool {
		names = append(names, name)
		return true
	})
	assert.Equal(t, []string{"zeta.txt", "alpha", "mid.go"}, names)
	assert.Equal(t, 3, vol.Len())
	assert.Equal(t, 4, vol.EntryCount())
	assert.Equal(t, []PathEntry{File("C:/a/zeta.txt"), File("C:/b/zeta.txt")}, vol.Lookup("zeta.txt"))
	assert.Nil(t, vol.Lookup("missing"))
}

func TestVolumeBuilderBuildIsolatesLaterAdds(t *testing.T) {
	b := NewVolumeBuilder().Add("a", File("/a"))
	first := b.Build()
	b.Add("a", File("/b/a")).Add("c", File("/c"))

	assert.Equal(t, 1, first.Len())
	assert.Len(t, first.Lookup("a"), 1)
	assert.Equal(t, 2, b.Build().Len())
}

func TestEachStopsEarly(t *testing.T) {
	vol := NewVolumeBuilder().Add("a", File("/a")).Add("b", File("/b")).Build()
	visited := 0
	vol.Each(func(string, []PathEntry) bool {
		visited++
		return false
	})
	assert.Equal(t, 1, visited)
}

func TestNilVolumeIsEmpty(t *testing.T) {
	var vol *VolumeIndex
	assert.Equal(t, 0, vol.Len())
	assert.Equal(t, 0, vol.EntryCount())
	assert.Nil(t, vol.Lookup("x"))
}

func TestFingerprintTracksContent(t *testing.T) {
	build := func(path string) *VolumeIndex {
		return NewVolumeBuilder().
			Add("report.pdf", File(path)).
			Add("Reports", Directory("C:/Reports")).
			Build()
	}

	a, b := build("C:/OLD/report.pdf"), build("C:/OLD/report.pdf")
	assert.Len(t, a.Fingerprint(), 32)
	assert.Equal(t, a.Fingerprint(), b.Fingerprint())
	assert.NotEqual(t, a.Fingerprint(), build("C:/NEW/report.pdf").Fingerprint())

	kind := NewVolumeBuilder().
		Add("report.pdf", Directory("C:/OLD/report.pdf")).
		Add("Reports", Directory("C:/Reports")).
		Build()
	assert.NotEqual(t, a.Fingerprint(), kind.Fingerprint())

	reordered := NewVolumeBuilder().
		Add("Reports", Directory("C:/Reports")).
		Add("report.pdf", File("C:/OLD/report.pdf")).
		Build()
	assert.NotEqual(t, a.Fingerprint(), reordered.Fingerprint())

	var none *VolumeIndex
	assert.Empty(t, none.Fingerprint())
}

func TestFilesystemIndexCopyOnWrite(t *testing.T) {
	c := NewVolumeBuilder().Add("a", File("C:/a")).Build()
	d := NewVolumeBuilder().Add("b", File("D:/b")).Build()

	base := NewFilesystemIndex(map[string]*VolumeIndex{"C": c})
	withD := base.With("D", d)
	withoutC := withD.Without("C")

	assert.Equal(t, []string{"C"}, base.VolumeIDs())
	assert.Equal(t, []string{"C", "D"}, withD.VolumeIDs())
	assert.Equal(t, []string{"D"}, withoutC.VolumeIDs())

	got, ok := withD.Volume("C")
	require.True(t, ok)
	assert.Same(t, c, got)

	_, ok = base.Volume("Z")
	assert.False(t, ok)
	assert.Equal(t, 2, withD.EntryCount())
}

func TestEntryKindJSON(t *testing.T) {
	data, err := json.Marshal([]PathEntry{File("C:/x/report.pdf"), Directory("C:/Reports")})
	require.NoError(t, err)
	assert.JSONEq(t, `[{"p":"C:/x/report.pdf","t":"file"},{"p":"C:/Reports","t":"directory"}]`, string(data))

	var back []PathEntry
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, KindDirectory, back[1].Kind)

	err = json.Unmarshal([]byte(`{"p":"x","t":"symlink"}`), &PathEntry{})
	assert.Error(t, err)
}

func TestStatePublishBumpsGeneration(t *testing.T) {
	s := NewState()
	assert.Equal(t, uint64(0), s.Load().Generation)
	_, ok := s.Lookup("C")
	assert.False(t, ok)

	vol := NewVolumeBuilder().Add("a", File("C:/a")).Build()
	snap := s.PublishVolume("C", vol)
	assert.Equal(t, uint64(1), snap.Generation)

	got, ok := s.Lookup("C")
	require.True(t, ok)
	assert.Same(t, vol, got)

	s.RemoveVolume("C")
	assert.Equal(t, uint64(2), s.Load().Generation)
	_, ok = s.Lookup("C")
	assert.False(t, ok)

	s.Publish(NewFilesystemIndex(map[string]*VolumeIndex{"D": vol}))
	assert.Equal(t, []string{"D"}, s.Load().Index.VolumeIDs())
}

func TestStateReadersSeeCompleteSnapshots(t *testing.T) {
	s := NewState()
	small := NewVolumeBuilder().Add("a", File("/a")).Build()
	large := NewVolumeBuilder().Add("a", File("/a")).Add("b", File("/b")).Add("c", File("/c")).Build()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			if i%2 == 0 {
				s.PublishVolume("V", small)
			} else {
				s.PublishVolume("V", large)
			}
		}
	}()
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				vol, ok := s.Lookup("V")
				if !ok {
					continue
				}
				n := vol.Len()
				if n != 1 && n != 3 {
					t.Errorf("torn volume with %d filenames", n)
					return
				}
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, uint64(500), s.Load().Generation)
}
