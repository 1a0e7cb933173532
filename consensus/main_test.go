package consensus

import (
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// badger 的缓存在 Close 之后仍会短暂保留后台协程
		goleak.IgnoreAnyFunction("github.com/dgraph-io/ristretto.(*defaultPolicy).processItems"),
		goleak.IgnoreAnyFunction("github.com/dgraph-io/ristretto.(*Cache).processItems"),
		goleak.IgnoreAnyFunction("github.com/dgraph-io/badger/v2/y.(*WaterMark).process"),
	)
}
