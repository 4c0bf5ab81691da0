// Package main streamctl 命令行：跟随作业事件流、查看快照、提交作业
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "streamctl:", err)
		os.Exit(1)
	}
}
