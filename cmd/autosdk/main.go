// Command autosdk queries and drives Android UIs through the accessibility tree.
package main

import "github.com/devicelab-dev/autosdk/pkg/cli"

func main() {
	cli.Execute()
}
