package persistence

import (
	"os"

	"github.com/reldb/reldb/internal/errors"
)

// IOPolicy bundles the pieces every save/load path shares: a buffer pool
// for the encode scratch space, and a retry controller + classifier so a
// transient file-system error (the category internal/errors.Classifier
// already recognizes for ErrFileOpen/Write/Sync/Read) is retried with
// backoff instead of failing the checkpoint outright.
type IOPolicy struct {
	bufPool    *encodeBufferPool
	retry      *errors.RetryController
	classifier *errors.Classifier
}

// NewIOPolicy builds the default policy shared by a Database's persistence
// calls: one buffer pool, one retry controller, one classifier.
func NewIOPolicy() *IOPolicy {
	return &IOPolicy{
		bufPool:    newEncodeBufferPool(),
		retry:      errors.NewRetryController(),
		classifier: errors.NewClassifier(),
	}
}

func (p *IOPolicy) writeFile(path string, data []byte) error {
	return p.retry.Retry(func() error {
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return errors.ErrFileWrite
		}
		return nil
	}, p.classifier)
}

func (p *IOPolicy) readFile(path string) ([]byte, error) {
	var data []byte
	err := p.retry.Retry(func() error {
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return err
			}
			return errors.ErrFileRead
		}
		data = b
		return nil
	}, p.classifier)
	return data, err
}
