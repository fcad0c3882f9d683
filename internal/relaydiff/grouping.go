package relaydiff

import (
	"path"
	"sort"
)

// RootDirectory is the group key of files at the top of the working directory.
const RootDirectory = "."

type DirectoryGroup struct {
	Dir   string            `json:"dir"`
	Files []SessionMetadata `json:"files"`
}

// GroupByDirectory partitions files by the parent directory of their display
// path. Groups are ordered with the root first and the rest lexicographically;
// files inside a group are ordered by name.
func GroupByDirectory(files []SessionMetadata) []DirectoryGroup {
	byDir := map[string][]SessionMetadata{}
	for _, meta := range files {
		dir := path.Dir(meta.DisplayPath())
		byDir[dir] = append(byDir[dir], meta)
	}
	dirs := make([]string, 0, len(byDir))
	for dir := range byDir {
		dirs = append(dirs, dir)
	}
	sort.Slice(dirs, func(i, j int) bool {
		return lessDirectory(dirs[i], dirs[j])
	})
	groups := make([]DirectoryGroup, 0, len(dirs))
	for _, dir := range dirs {
		members := byDir[dir]
		sortFiles(members)
		groups = append(groups, DirectoryGroup{Dir: dir, Files: members})
	}
	return groups
}

// SingleGroup is the sidebar layout used when grouping is turned off: one
// unnamed group holding every file ordered by full path.
func SingleGroup(files []SessionMetadata) []DirectoryGroup {
	if len(files) == 0 {
		return []DirectoryGroup{}
	}
	members := append([]SessionMetadata(nil), files...)
	sort.SliceStable(members, func(i, j int) bool {
		a, b := members[i].DisplayPath(), members[j].DisplayPath()
		if a != b {
			return a < b
		}
		return members[i].EntryID() < members[j].EntryID()
	})
	return []DirectoryGroup{{Dir: "", Files: members}}
}

// Flatten returns the files of groups in sidebar order.
func Flatten(groups []DirectoryGroup) []SessionMetadata {
	var out []SessionMetadata
	for _, g := range groups {
		out = append(out, g.Files...)
	}
	return out
}

func lessDirectory(a, b string) bool {
	if a == RootDirectory || b == RootDirectory {
		return a == RootDirectory && b != RootDirectory
	}
	return a < b
}

func sortFiles(files []SessionMetadata) {
	sort.SliceStable(files, func(i, j int) bool {
		a, b := path.Base(files[i].DisplayPath()), path.Base(files[j].DisplayPath())
		if a != b {
			return a < b
		}
		return files[i].EntryID() < files[j].EntryID()
	})
}
