// trustplane is the trust gateway for autonomous agents.
package main

import "github.com/ppiankov/trustplane/internal/cli"

func main() {
	cli.Execute()
}
