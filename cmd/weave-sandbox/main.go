// Command weave-sandbox is the child process of the sandbox host. It
// reads JSON-RPC requests on stdin and answers on stdout.
package main

import (
	"os"

	"github.com/teranos/weave/sandbox/guest"
)

func main() {
	os.Exit(guest.Main())
}
