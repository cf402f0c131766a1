package exception

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/mezonai/mmn-aa/logx"
	"github.com/mezonai/mmn-aa/monitoring"
)

func SafeGo(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				monitoring.IncreasePanicCount()
				logx.Error("PANIC", fmt.Sprintf("panic in %s: %v", name, r), string(debug.Stack()))
			}
		}()
		fn()
	}()
}

func SafeGoWithPanic(name string, fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				monitoring.IncreasePanicCount()
				logx.Error("PANIC", fmt.Sprintf("panic in %s: %v", name, r), string(debug.Stack()))
				os.Exit(1)
			}
		}()
		fn()
	}()
}
