package main

import "github.com/KevinKickass/factoryctrl/cmd/factoryctrl/cmd"

func main() {
	cmd.Execute()
}
