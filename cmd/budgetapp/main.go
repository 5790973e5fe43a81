package main

import "budgetapp/cmd/budgetapp/cmd"

func main() {
	cmd.Execute()
}
