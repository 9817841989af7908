package chunk

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig は設定が不正な場合に返されます
	ErrInvalidConfig = errors.New("invalid chunker config")
)

// ChunkerError はChunker固有のエラーを表します
type ChunkerError struct {
	Op  string // 操作名
	Err error
}

func (e *ChunkerError) Error() string {
	return fmt.Sprintf("chunker: %s: %s", e.Op, e.Err)
}

func (e *ChunkerError) Unwrap() error {
	return e.Err
}

// NewChunkerError は新しいChunkerErrorを作成します
func NewChunkerError(op string, err error) *ChunkerError {
	return &ChunkerError{
		Op:  op,
		Err: err,
	}
}
