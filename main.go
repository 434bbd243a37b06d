package main

import "github.com/JonMunkholm/dbchat/cmd"

func main() {
	cmd.Execute()
}
