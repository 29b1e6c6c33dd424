package main

import "github.com/edgeflare/radmin/cmd/radmin"

func main() {
	radmin.Main()
}
