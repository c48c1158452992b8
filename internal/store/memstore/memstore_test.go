package memstore

import (
	"testing"

	"github.com/pilotauth/pilot/internal/store"
	"github.com/pilotauth/pilot/internal/store/storetest"
)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store { return New() })
}
