package pipeline

import "fmt"

// StoreError marks a failure on the durability-critical path (blob write or
// index write). It is fatal to the message: the caller surfaces it so the
// event source can retry the whole ingestion.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
