package main

import (
	"surgerywatch/cmd/surgerywatch/commands"
	"surgerywatch/lib/util/serviceutil"
)

func main() {
	commands.ExecuteContext(serviceutil.SignalContext())
}
