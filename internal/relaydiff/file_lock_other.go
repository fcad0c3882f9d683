//go:build !unix

package relaydiff

// lockFile is a no-op where flock is unavailable; the in-process mutex still
// serializes callers sharing one store value.
func lockFile(path string) (func(), error) {
	_ = path
	return func() {}, nil
}
