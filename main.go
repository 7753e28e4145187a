package main

import "github.com/kozaktomas/consent-audit/cmd"

func main() {
	cmd.Execute()
}
