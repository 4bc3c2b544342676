package main

import "tempmail/inboxsync/internal/cli"

func main() {
	cli.Execute()
}
