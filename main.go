package main

import (
	"xorkevin.dev/nsxrepair/cmd"
)

func main() {
	cmd.New().Execute()
}
