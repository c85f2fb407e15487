package kvtest

import (
	"testing"

	"github.com/codewandler/identity-go/ports/kv"
)

func TestMemStore(t *testing.T) {
	Run(t, func(t *testing.T) kv.Store { return kv.NewMemStore() })
}
