//go:build !gcp

package transfer

// newGCSBackend returns nil; gs:// support needs the gcp build tag.
func newGCSBackend() Backend {
	return nil
}
