package main

import "github.com/hoobean1996/shenbi-sub002/cmd"

func main() {
	cmd.Execute()
}
