package updater

import (
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArchiveName(t *testing.T) {
	name := ArchiveName()
	assert.True(t, strings.HasPrefix(name, "retrosoft_"), name)
	assert.Contains(t, name, runtime.GOOS+"_"+runtime.GOARCH)
	if runtime.GOOS == "windows" {
		assert.True(t, strings.HasSuffix(name, ".zip"), name)
	} else {
		assert.True(t, strings.HasSuffix(name, ".tar.gz"), name)
	}
}

func TestSelectAsset(t *testing.T) {
	assets := []Asset{
		{Name: "retrosoft_linux_amd64.tar.gz"},
		{Name: "retrosoft_darwin_arm64.tar.gz"},
		{Name: "retrosoft_windows_amd64.zip"},
		{Name: "checksums.txt"},
	}

	tests := []struct {
		goos, goarch string
		want         string
		wantErr      bool
	}{
		{"linux", "amd64", "retrosoft_linux_amd64.tar.gz", false},
		{"darwin", "arm64", "retrosoft_darwin_arm64.tar.gz", false},
		{"windows", "amd64", "retrosoft_windows_amd64.zip", false},
		{"freebsd", "riscv64", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.goarch, func(t *testing.T) {
			asset, err := selectAsset(assets, tt.goos, tt.goarch)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, asset.Name)
		})
	}
}

func TestSelectAsset_LooseMatch(t *testing.T) {
	assets := []Asset{{Name: "retrosoft-v1.2.0_linux_arm64.tar.gz"}, {Name: "notes_linux_arm64.txt"}}
	asset, err := selectAsset(assets, "linux", "arm64")
	require.NoError(t, err)
	assert.Equal(t, "retrosoft-v1.2.0_linux_arm64.tar.gz", asset.Name)
}
