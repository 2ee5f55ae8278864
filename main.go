package main

import (
	_ "time/tzdata"

	"github.com/nextlevelbuilder/walink/cmd"
)

func main() {
	cmd.Execute()
}
