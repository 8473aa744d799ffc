package pkgcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepositoryRequest_Revision(t *testing.T) {
	tests := []struct {
		name     string
		req      RepositoryRequest
		expected string
	}{
		{name: "commit wins", req: RepositoryRequest{Commit: "abc", Branch: "main"}, expected: "abc"},
		{name: "branch", req: RepositoryRequest{Branch: "main"}, expected: "main"},
		{name: "default", req: RepositoryRequest{}, expected: "HEAD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.req.Revision())
		})
	}
}

func TestRepositoryRequest_String(t *testing.T) {
	req := RepositoryRequest{
		Repository: "https://github.com/my/repo",
		Branch:     "main",
		Folders: []FolderOverride{
			{Source: "src", Destination: "/"},
			{Source: "docs", Destination: "guide"},
		},
	}
	assert.Equal(t, "https://github.com/my/repo|main|src>/,docs>guide", req.String())

	assert.Equal(t, "/repo|HEAD|", RepositoryRequest{Repository: "/repo"}.String())
}

func TestKey(t *testing.T) {
	var k Key = Fingerprint("abc123")
	assert.Equal(t, Fingerprint("abc123"), k.Fingerprint())

	k = &PackageRequest{ID: "def456"}
	assert.Equal(t, Fingerprint("def456"), k.Fingerprint())

	var nilReq *PackageRequest
	assert.Equal(t, Fingerprint(""), nilReq.Fingerprint())
}

func TestSlotState_String(t *testing.T) {
	assert.Equal(t, "missing", SlotMissing.String())
	assert.Equal(t, "building", SlotBuilding.String())
	assert.Equal(t, "ready", SlotReady.String())
	assert.Equal(t, "failed", SlotFailed.String())
	assert.Equal(t, "SlotState(9)", SlotState(9).String())
}
