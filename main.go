package main

import "github.com/hearthstack/hearth/cmd"

func main() {
	cmd.Execute()
}
