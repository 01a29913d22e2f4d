package directory

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nicktill/corridorpulse/pkg/traffic"
)

func TestDefaultCatalog(t *testing.T) {
	d, err := Default()
	require.NoError(t, err)

	require.Len(t, d.Corridors(), 6)
	require.Len(t, d.Cameras(), 63)

	require.Equal(t, traffic.CorridorID("i-678-van-wyck"), d.ResolveCorridor("R11_159"))
	require.Equal(t, traffic.CorridorID("i-495-lie"), d.ResolveCorridor("R11_140"))
}

func TestResolveCorridor_ByStreamURL(t *testing.T) {
	d, err := Default()
	require.NoError(t, err)

	url := traffic.CameraID("https://s53.nysdot.skyvdn.com:443/rtplive/R10_054/playlist.m3u8")
	require.Equal(t, traffic.CorridorID("grand-central-parkway"), d.ResolveCorridor(url))
}

func TestResolveCorridor_Unknown(t *testing.T) {
	d, err := Default()
	require.NoError(t, err)

	require.Equal(t, UnknownCorridor, d.ResolveCorridor("no-such-camera"))
	require.Equal(t, DefaultSuggestion, d.SuggestionFor(UnknownCorridor))
	require.Equal(t, DefaultAlternatives, d.AlternativesFor(UnknownCorridor))
	require.Equal(t, "Unknown", d.CorridorName(UnknownCorridor))
}

func TestSuggestionAndAlternatives(t *testing.T) {
	d, err := Default()
	require.NoError(t, err)

	require.Contains(t, d.SuggestionFor("i-678-van-wyck"), "Q25")
	require.Equal(t, Alternatives{Secondary: "Q44-SBS", Subway: "E/F subway at Jamaica"}, d.AlternativesFor("i-678-van-wyck"))

	// Corridor with advice but no alternative pair.
	require.Equal(t, DefaultAlternatives, d.AlternativesFor("grand-central-parkway"))
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name    string
		catalog Catalog
		wantErr error
	}{
		{
			name: "duplicate camera",
			catalog: Catalog{
				Corridors: []Corridor{{ID: "a"}},
				Cameras:   []Camera{{ID: "c1", Corridor: "a"}, {ID: "c1", Corridor: "a"}},
			},
			wantErr: ErrDuplicateCamera,
		},
		{
			name: "duplicate corridor",
			catalog: Catalog{
				Corridors: []Corridor{{ID: "a"}, {ID: "a"}},
			},
			wantErr: ErrDuplicateCorridor,
		},
		{
			name: "dangling corridor reference",
			catalog: Catalog{
				Corridors: []Corridor{{ID: "a"}},
				Cameras:   []Camera{{ID: "c1", Corridor: "b"}},
			},
			wantErr: ErrUnknownCorridorRef,
		},
		{
			name: "empty camera id",
			catalog: Catalog{
				Corridors: []Corridor{{ID: "a"}},
				Cameras:   []Camera{{Name: "nameless", Corridor: "a"}},
			},
			wantErr: ErrEmptyID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.catalog)
			require.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
		})
	}
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	data := []byte(`
corridors:
  - id: downtown
    name: Downtown Loop
cameras:
  - id: cam-1
    name: Main St
    corridor: downtown
    url: rtsp://cam-1
`)
	require.NoError(t, os.WriteFile(path, data, 0644))

	d, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, traffic.CorridorID("downtown"), d.ResolveCorridor("cam-1"))
	require.Equal(t, traffic.CorridorID("downtown"), d.ResolveCorridor("rtsp://cam-1"))
	require.Equal(t, DefaultSuggestion, d.SuggestionFor("downtown"))
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
