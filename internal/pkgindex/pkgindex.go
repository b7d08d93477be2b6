// Package pkgindex derives per-package hash membership and directory entries
// from the names written to an archive.
package pkgindex

import (
	"slices"
	"strings"

	"github.com/meigma/ixzip/internal/index"
	"github.com/meigma/ixzip/internal/pathutil"
	"github.com/meigma/ixzip/internal/ziptype"
)

const classSuffix = ".class"

// Names whose package is hashed but whose directories are never materialized.
var excluded = map[string]struct{}{
	"META-INF/MANIFEST.MF": {},
}

var excludedBase = map[string]struct{}{
	"package.html":      {},
	"package-info.html": {},
}

// Deriver accumulates package hashes and directory names for one archive.
//
// A Deriver is not safe for concurrent use.
type Deriver struct {
	mode             ziptype.DirEntriesMode
	classPackages    map[uint64]struct{}
	resourcePackages map[uint64]struct{}
	dirs             map[string]struct{}
}

// New returns a Deriver that registers directories according to mode.
func New(mode ziptype.DirEntriesMode) *Deriver {
	return &Deriver{
		mode:             mode,
		classPackages:    make(map[uint64]struct{}),
		resourcePackages: make(map[uint64]struct{}),
		dirs:             make(map[string]struct{}),
	}
}

// AddFile records a file entry name.
func (d *Deriver) AddFile(name string) {
	dir := pathutil.Dir(name)
	if strings.HasSuffix(name, classSuffix) {
		var key uint64
		if dir != "" {
			key = index.HashString(dir)
		}
		d.classPackages[key] = struct{}{}
		if d.mode == ziptype.DirEntriesAll {
			d.registerDirs(dir)
		}
		return
	}

	d.resourcePackages[index.HashString(dir)] = struct{}{}
	if d.mode == ziptype.DirEntriesNone || isExcluded(name) {
		return
	}
	d.registerDirs(dir)
}

// registerDirs registers dir and its ancestors, stopping at the first one
// already registered since its ancestors are registered too.
func (d *Deriver) registerDirs(dir string) {
	for dir != "" {
		if _, ok := d.dirs[dir]; ok {
			return
		}
		d.dirs[dir] = struct{}{}
		dir = pathutil.Dir(dir)
	}
}

func isExcluded(name string) bool {
	if _, ok := excluded[name]; ok {
		return true
	}
	_, ok := excludedBase[pathutil.Base(name)]
	return ok
}

// Directories returns the registered directory entry names, sorted, each
// ending in "/".
func (d *Deriver) Directories() []string {
	names := make([]string, 0, len(d.dirs))
	for dir := range d.dirs {
		names = append(names, pathutil.DirPrefix(dir))
	}
	slices.Sort(names)
	return names
}

// Apply adds the package hashes and a synthetic entry per registered
// directory to b.
func (d *Deriver) Apply(b *index.Builder) {
	for h := range d.classPackages {
		b.AddClassPackage(h)
	}
	for h := range d.resourcePackages {
		b.AddResourcePackage(h)
	}
	if len(d.resourcePackages) > 0 {
		b.AddResourcePackage(index.HashString(""))
	}
	for _, name := range d.Directories() {
		dir := strings.TrimSuffix(name, "/")
		b.Add(index.NewEntry(0, index.DirSize, index.HashString(dir)), dir)
	}
}
