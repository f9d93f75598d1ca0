package lose

import (
	"testing"
)

func TestSetHandler(t *testing.T) {
	type fatal string
	old := SetHandler(func(msg string) { panic(fatal(msg)) })
	defer SetHandler(old)

	defer func() {
		if r := recover(); r != fatal("thread 3: bad state 7") {
			t.Errorf("recovered %v", r)
		}
	}()
	Lose("thread %d: bad state %d", 3, 7)
	t.Fatal("Lose returned")
}

func TestSetHandlerNilRestoresDefault(t *testing.T) {
	old := SetHandler(nil)
	defer SetHandler(old)
	if h := SetHandler(nil); h == nil {
		t.Error("nil handler installed")
	}
}
