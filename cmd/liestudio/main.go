// Command liestudio is the terminal client of a LIEStudio realm.
//
//	liestudio login alice --remember < password.txt
//	liestudio log error "render failed in {view}" view=md
//	liestudio logs
//	liestudio logout
package main

import (
	"fmt"
	"os"

	"github.com/liestudio/studio/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "liestudio:", err)
		os.Exit(1)
	}
}
