package main

import "github.com/synctree/synctree/cmd/synctree/cmd"

func main() {
	cmd.Execute()
}
