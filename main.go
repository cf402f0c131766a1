package main

import (
	"os"
	"runtime/debug"

	"github.com/mezonai/mmn-aa/cmd"
	"github.com/mezonai/mmn-aa/logx"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			_ = logx.Errorf("AANODE CRASHED: %v\n%s", r, debug.Stack())
			os.Exit(1)
		}
	}()

	cmd.Execute()
}
