package resolver

import (
	"path/filepath"
	"slices"

	"github.com/spf13/afero"
	"github.com/use-agent/chromefetch/version"
)

// CacheEntry is one usable driver directory under the cache root.
type CacheEntry struct {
	Version version.Version
	Name    string // directory name as found on disk
	Path    string // path to the driver executable
}

// driverPath is cacheRoot/<version>/<platform-subdir>/<executable>.
func driverPath(cacheRoot, dirName string, p Platform) string {
	return filepath.Join(cacheRoot, dirName, p.DriverSubdir(), p.DriverExecutable())
}

// scanCache lists subdirectories of cacheRoot named like a version that
// contain the platform driver subdirectory and executable. The result is
// sorted ascending by version.
func scanCache(fs afero.Fs, cacheRoot string, p Platform) ([]CacheEntry, error) {
	infos, err := afero.ReadDir(fs, cacheRoot)
	if err != nil {
		return nil, err
	}

	var entries []CacheEntry
	for _, fi := range infos {
		if !fi.IsDir() {
			continue
		}
		v, err := version.Parse(fi.Name())
		if err != nil {
			continue
		}
		if ok, _ := afero.DirExists(fs, filepath.Join(cacheRoot, fi.Name(), p.DriverSubdir())); !ok {
			continue
		}
		exe := driverPath(cacheRoot, fi.Name(), p)
		if ok, _ := afero.Exists(fs, exe); !ok {
			continue
		}
		entries = append(entries, CacheEntry{Version: v, Name: fi.Name(), Path: exe})
	}

	slices.SortStableFunc(entries, func(a, b CacheEntry) int {
		return version.Compare(a.Version, b.Version)
	})
	return entries, nil
}

// matchExact returns the cached entry whose full version equals v.
func matchExact(entries []CacheEntry, v version.Version) (CacheEntry, bool) {
	for _, e := range entries {
		if e.Version.Equal(v) {
			return e, true
		}
	}
	return CacheEntry{}, false
}

// matchMajor returns a cached entry sharing v's major version. entries is
// sorted ascending, so the highest full version of that major wins.
func matchMajor(entries []CacheEntry, v version.Version) (CacheEntry, bool) {
	byMajor := make(map[int]CacheEntry, len(entries))
	for _, e := range entries {
		byMajor[e.Version.Major()] = e
	}
	e, ok := byMajor[v.Major()]
	return e, ok
}
