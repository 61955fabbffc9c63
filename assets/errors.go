package assets

import "fmt"

// LocalIOError is returned when an asset source can't be read from the local machine.
type LocalIOError struct {
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("read local asset %s: %s", e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error {
	return e.Err
}
