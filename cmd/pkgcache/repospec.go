package main

import (
	"fmt"
	"strings"

	"github.com/jmgilman/go/pkgcache"
)

// parseRepoSpec parses url[@commit][#src:dest,src:dest].
//
// The commit separator is the last '@' after the final '/' or ':', so SSH
// URLs such as git@github.com:org/repo keep their user part. A folder without
// ":dest" lands at the archive root.
func parseRepoSpec(spec string) (pkgcache.RepositoryRequest, error) {
	var req pkgcache.RepositoryRequest

	location, folders, hasFolders := strings.Cut(spec, "#")

	if at := strings.LastIndex(location, "@"); at > strings.LastIndexAny(location, "/:") {
		req.Commit = location[at+1:]
		location = location[:at]
		if req.Commit == "" {
			return req, fmt.Errorf("empty commit in %q", spec)
		}
	}
	if location == "" {
		return req, fmt.Errorf("missing repository in %q", spec)
	}
	req.Repository = location

	if !hasFolders {
		req.Folders = []pkgcache.FolderOverride{{Source: ".", Destination: "/"}}
		return req, nil
	}

	for _, entry := range strings.Split(folders, ",") {
		if entry == "" {
			continue
		}
		src, dest, ok := strings.Cut(entry, ":")
		if !ok || dest == "" {
			dest = "/"
		}
		if src == "" {
			return req, fmt.Errorf("empty source folder in %q", spec)
		}
		req.Folders = append(req.Folders, pkgcache.FolderOverride{Source: src, Destination: dest})
	}
	if len(req.Folders) == 0 {
		return req, fmt.Errorf("no folders in %q", spec)
	}
	return req, nil
}
