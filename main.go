package main

import "github.com/mensylisir/xmbench/cmd"

func main() {
	cmd.Execute()
}
