package main

import "github.com/frahmantamala/land-payment/cmd"

func main() {
	cmd.Execute()
}
