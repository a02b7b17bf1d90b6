package main

import "github.com/andresmejia3/keyframer/cmd"

func main() {
	cmd.Execute()
}
