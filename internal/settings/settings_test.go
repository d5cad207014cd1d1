package settings

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "settings.yaml")
	in := Settings{
		APIKey:            "k-123",
		OperatorID:        "o-9q9-actransit",
		StopDelaySeconds:  "45",
		DestinationFilter: "Downtown, Airport",
	}

	require.NoError(t, Save(path, in))
	out, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, in, out)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadMissingFile(t *testing.T) {
	s, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Settings{}, s)

	s, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, Settings{}, s)
}

func TestLoadInvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("apiKey: [unterminated"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		s       Settings
		wantErr bool
	}{
		{"complete", Settings{APIKey: "k", OperatorID: "o", StopDelaySeconds: "30"}, false},
		{"delay optional", Settings{APIKey: "k", OperatorID: "o"}, false},
		{"missing key", Settings{OperatorID: "o"}, true},
		{"missing operator", Settings{APIKey: "k"}, true},
		{"delay not a number", Settings{APIKey: "k", OperatorID: "o", StopDelaySeconds: "soon"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.s.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestAccessors(t *testing.T) {
	s := Settings{StopDelaySeconds: " 90 ", DestinationFilter: " Downtown ,, Airport ,"}
	assert.Equal(t, 90*time.Second, s.StopDelay())
	assert.Equal(t, []string{"Downtown", "Airport"}, s.Destinations())

	assert.Zero(t, Settings{StopDelaySeconds: "x"}.StopDelay())
	assert.Nil(t, Settings{}.Destinations())
}

func TestMerge(t *testing.T) {
	base := Settings{APIKey: "file-key", OperatorID: "o-file", StopDelaySeconds: "10"}
	got := base.Merge(Settings{APIKey: "env-key", DestinationFilter: "Harbor"})
	assert.Equal(t, Settings{APIKey: "env-key", OperatorID: "o-file", StopDelaySeconds: "10", DestinationFilter: "Harbor"}, got)
}
