package pkgcache

import (
	"encoding/json"
	"testing"

	"github.com/go-git/go-billy/v5/memfs"
	platformerrors "github.com/jmgilman/go/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorLedger(t *testing.T) {
	fs := memfs.New()
	l := NewErrorLedger(fs)
	path := "/cache/fp.error"

	_, ok, err := l.Read(path)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.Record(path, []RepositoryFailure{{Repository: "repo|HEAD|", Error: "clone failed"}}))

	raw, ok, err := l.Read(path)
	require.NoError(t, err)
	require.True(t, ok)
	assert.JSONEq(t, `[{"repository":"repo|HEAD|","error":"clone failed"}]`, raw)

	// A second record replaces the first.
	require.NoError(t, l.Record(path, faultPayload(platformerrors.New(platformerrors.CodeBuildFailed, "disk full"))))
	raw, _, err = l.Read(path)
	require.NoError(t, err)

	var resp platformerrors.ErrorResponse
	require.NoError(t, json.Unmarshal([]byte(raw), &resp))
	assert.Equal(t, string(platformerrors.CodeBuildFailed), resp.Code)
	assert.Equal(t, "[BUILD_FAILED] disk full", resp.Message)

	_, err = fs.Stat(path + ".tmp")
	assert.Error(t, err)

	require.NoError(t, l.Clear(path))
	_, ok, err = l.Read(path)
	require.NoError(t, err)
	assert.False(t, ok)

	// Clearing a missing record is fine.
	require.NoError(t, l.Clear(path))
}

func TestErrorLedger_UnmarshalablePayload(t *testing.T) {
	fs := memfs.New()
	l := NewErrorLedger(fs)

	err := l.Record("/fp.error", func() {})
	require.Error(t, err)

	_, ok, err := l.Read("/fp.error")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestErrorLedger_KeepsDescriptorsReadable(t *testing.T) {
	fs := memfs.New()
	l := NewErrorLedger(fs)

	require.NoError(t, l.Record("/fp.error", []RepositoryFailure{{Repository: "/repo|HEAD|src>/", Error: "a < b"}}))

	raw, ok, err := l.Read("/fp.error")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, `[{"repository":"/repo|HEAD|src>/","error":"a < b"}]`+"\n", raw)
}
