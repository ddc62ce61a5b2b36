/*
Copyright © 2025 AWEAR Health
*/
package main

import "github.com/awearhealth/go-link/cmd"

func main() {
	cmd.Execute()
}
