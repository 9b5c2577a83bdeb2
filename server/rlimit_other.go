// +build !linux

package server

func raiseOpenFileLimit(want uint64) error {
	return nil
}
