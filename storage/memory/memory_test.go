package memory

import (
	"testing"

	"github.com/guaranijs/guarani/storage"
	"github.com/guaranijs/guarani/storage/storagetest"
)

func TestStorage(t *testing.T) {
	storagetest.RunTestSuite(t, func() storage.Storage { return New() })
}
