package main

import "github.com/samsaffron/relaychat/cmd"

func main() {
	cmd.Execute()
}
