package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmgilman/go/pkgcache"
)

func TestParseRepoSpec(t *testing.T) {
	root := []pkgcache.FolderOverride{{Source: ".", Destination: "/"}}

	tests := []struct {
		name     string
		spec     string
		expected pkgcache.RepositoryRequest
	}{
		{
			name:     "plain URL",
			spec:     "https://github.com/my/repo",
			expected: pkgcache.RepositoryRequest{Repository: "https://github.com/my/repo", Folders: root},
		},
		{
			name:     "commit",
			spec:     "https://github.com/my/repo@3f2a9c1",
			expected: pkgcache.RepositoryRequest{Repository: "https://github.com/my/repo", Commit: "3f2a9c1", Folders: root},
		},
		{
			name:     "SSH URL keeps its user",
			spec:     "git@github.com:my/repo",
			expected: pkgcache.RepositoryRequest{Repository: "git@github.com:my/repo", Folders: root},
		},
		{
			name:     "SSH URL with commit",
			spec:     "git@github.com:my/repo@abc",
			expected: pkgcache.RepositoryRequest{Repository: "git@github.com:my/repo", Commit: "abc", Folders: root},
		},
		{
			name: "folders",
			spec: "/srv/app#src:/,docs:guide,conf",
			expected: pkgcache.RepositoryRequest{
				Repository: "/srv/app",
				Folders: []pkgcache.FolderOverride{
					{Source: "src", Destination: "/"},
					{Source: "docs", Destination: "guide"},
					{Source: "conf", Destination: "/"},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := parseRepoSpec(tt.spec)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, req)
		})
	}
}

func TestParseRepoSpec_Errors(t *testing.T) {
	for _, spec := range []string{"", "@abc", "/srv/app@", "/srv/app#", "/srv/app#:dest"} {
		t.Run(spec, func(t *testing.T) {
			_, err := parseRepoSpec(spec)
			assert.Error(t, err)
		})
	}
}
