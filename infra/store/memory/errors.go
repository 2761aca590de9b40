package memory

import "fmt"

var errClosed = fmt.Errorf("memory store: closed")

func errDuplicate(id string) error {
	return fmt.Errorf("memory store: job %s already exists", id)
}
