// Command quieted は1日1件の日記メモを記録するWebアプリケーションを起動する。
//
// 使い方:
//
//	quieted [serve|migrate|cleanup|healthcheck]
package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/quieted/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
