package main

import (
	"fmt"

	"github.com/wolpertingerlabs/mcp-secure-proxy/cmd"
)

func main() {
	if err := cmd.Run(); err != nil {
		fmt.Println(err.Error())
		return
	}
}
