package main

import (
	"fmt"
	"os"
)

// 构建时通过 -ldflags "-X main.version=..." 注入。
var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "bspricer:", err)
		os.Exit(1)
	}
}
