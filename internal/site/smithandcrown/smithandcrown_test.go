package smithandcrown

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CMoncur/proto-scrape/internal/harvest"
	"github.com/CMoncur/proto-scrape/internal/record"
	"github.com/CMoncur/proto-scrape/internal/site"
)

func indexResult(t *testing.T) harvest.Result {
	t.Helper()
	body, err := os.ReadFile(filepath.Join("testdata", "icos.html"))
	require.NoError(t, err)
	return harvest.Result{
		Target:      harvest.Target{URL: IndexURL, Batch: "index"},
		Succeeded:   true,
		StatusCode:  200,
		ContentKind: harvest.KindHTML,
		Content:     body,
	}
}

func TestExtractAllRows(t *testing.T) {
	t.Parallel()

	a := New(site.Deps{})
	rows := a.ExtractAll(indexResult(t))
	require.Len(t, rows, 4)

	aurora := rows[0]
	assert.Equal(t, "Aurora Network", aurora["name"])
	assert.Equal(t, "Layer two payments for data markets.", aurora["description"])
	assert.Equal(t, time.Date(2018, 1, 8, 0, 0, 0, 0, time.UTC), aurora["start"])
	assert.Equal(t, time.Date(2018, 2, 8, 0, 0, 0, 0, time.UTC), aurora["end"])
	assert.Equal(t, "https://aurora.example", aurora["site"])
	assert.Equal(t, "AUR", aurora["token_symbol"])
	assert.Equal(t, int64(4200000), aurora["raised"])
	assert.True(t, a.IsComplete(aurora))

	basalt := rows[1]
	assert.NotContains(t, basalt, "raised")
	assert.True(t, a.IsComplete(basalt), "raised is optional")

	cinder := rows[2]
	assert.NotContains(t, cinder, "description")
	assert.False(t, a.IsComplete(cinder))

	drift := rows[3]
	assert.NotContains(t, drift, "start")
	assert.False(t, a.IsComplete(drift))
}

func TestExtractReturnsFirstRow(t *testing.T) {
	t.Parallel()

	raw := New(site.Deps{}).Extract(indexResult(t))
	assert.Equal(t, "Aurora Network", raw["name"])

	empty := New(site.Deps{}).Extract(harvest.Result{Content: []byte("<html></html>")})
	assert.Nil(t, empty)
}

func TestDiscoverReturnsIndex(t *testing.T) {
	t.Parallel()

	targets, err := New(site.Deps{}, WithIndexURL("http://127.0.0.1/icos/")).Discover(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, []harvest.Target{{URL: "http://127.0.0.1/icos/", Batch: "index"}}, targets)
}

func TestMultiExtractorContract(t *testing.T) {
	t.Parallel()

	var a site.Adapter = New(site.Deps{})
	_, ok := a.(site.MultiExtractor)
	require.True(t, ok)
	assert.Len(t, site.ExtractAll(a, indexResult(t)), 4)
	assert.Equal(t, record.NaturalKey{"name"}, a.NaturalKey())
}
