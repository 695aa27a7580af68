package main

import gloaming "github.com/murkandloam/the-gloaming-sub000"

func main() {
	gloaming.Main()
}
