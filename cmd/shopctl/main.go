// file: cmd/shopctl/main.go

// shopctl 通过与网关相同的配置和钩子，在命令行上读写商店数据。
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "错误:", err)
		os.Exit(1)
	}
}
