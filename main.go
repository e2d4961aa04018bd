package main

import "os"

func main() {
	NewShareIt().Run(os.Args[1:])
}
