// VuIO is a DLNA/UPnP media server for a single host on a LAN.
package main

import (
	"github.com/vyrti/vuio/cmd"
)

func main() {
	cmd.Main()
}
