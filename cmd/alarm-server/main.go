package main

import "github.com/oshokin/smart-alarm/cmd/alarm-server/cmd"

func main() {
	cmd.Execute()
}
